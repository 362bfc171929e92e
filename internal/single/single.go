// Package single keeps one running instance per user. A second start
// sends WAKE_UP to the first over a local socket and exits.
package single

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	AppID   = "xjtutoolbox-single-instance"
	WakeUp  = "WAKE_UP"
	timeout = 500 * time.Millisecond
)

// SocketPath is the socket for id in the temp dir.
func SocketPath(id string) string {
	return filepath.Join(os.TempDir(), id+".sock")
}

// Instance is the first, listening process.
type Instance struct {
	ln     net.Listener
	path   string
	wake   func()
	logger *log.Entry
	wg     sync.WaitGroup
}

// Acquire becomes the primary instance, or wakes the running one. primary
// is false when another instance got the message; the caller should then
// exit with status 0.
func Acquire(path string, onWake func()) (inst *Instance, primary bool, err error) {
	if notify(path) == nil {
		return nil, false, nil
	}
	// nobody answered, so any socket file is left over from a crash
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, false, err
	}
	inst = &Instance{ln: ln, path: path, wake: onWake, logger: log.WithField("component", "single")}
	inst.wg.Add(1)
	go inst.serve()
	return inst, true, nil
}

func notify(path string) error {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err = conn.Write([]byte(WakeUp + "\n"))
	return err
}

func (i *Instance) serve() {
	defer i.wg.Done()
	for {
		conn, err := i.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				i.logger.WithError(err).Warn("single instance listener stopped")
			}
			return
		}
		i.handle(conn)
	}
}

func (i *Instance) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	if strings.TrimSpace(line) == WakeUp {
		i.logger.Debug("woken by second instance")
		if i.wake != nil {
			i.wake()
		}
	}
}

// Run blocks until ctx is done, then closes the instance.
func (i *Instance) Run(ctx context.Context) error {
	<-ctx.Done()
	return i.Close()
}

func (i *Instance) Close() error {
	err := i.ln.Close()
	i.wg.Wait()
	_ = os.Remove(i.path)
	return err
}
