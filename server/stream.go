package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/logging"
)

// Both streams are one way: the client only ever closes them. Prompts are
// answered over POST /workers/{id}/answer.

const (
	writeWait = 10 * time.Second
	// log lines beyond this are dropped while the client is slow
	logBacklog = 256
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.app.Config.Server.AllowOrigins, origin)
		},
	}
}

type wsConnection struct {
	conn   *websocket.Conn
	closed chan struct{}
	logger *log.Entry
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*wsConnection, bool) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Info("could not upgrade")
		return nil, false
	}
	c := &wsConnection{conn: conn, closed: make(chan struct{}), logger: s.logger.WithField("remote", r.RemoteAddr)}
	go c.readPump()
	return c, true
}

// readPump only notices the client going away.
func (c *wsConnection) readPump() {
	defer close(c.closed)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Info("stream closed")
			}
			return
		}
	}
}

func (c *wsConnection) write(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConnection) close() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// workerEvents streams every pool event. Prompts already waiting are sent
// first so a client that reconnects can still answer them.
func (s *Server) workerEvents(w http.ResponseWriter, r *http.Request) {
	events, cancel := s.app.Pool.Subscribe()
	defer cancel()
	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer c.close()

	for _, wk := range s.app.Pool.Running() {
		if p := wk.Pending(); p != nil {
			ev := collection.Event{Worker: wk.ID(), Task: wk.TaskName(), Kind: collection.EventPrompt, At: time.Now(), Prompt: p}
			if err := c.write(ev); err != nil {
				return
			}
		}
	}
	for {
		select {
		case ev := <-events:
			if err := c.write(ev); err != nil {
				c.logger.WithError(err).Debug("event stream write failed")
				return
			}
		case <-c.closed:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

type logLine struct {
	Time    time.Time  `json:"time"`
	Level   string     `json:"level"`
	Message string     `json:"message"`
	Fields  log.Fields `json:"fields,omitempty"`
}

func lineOf(e *log.Entry) logLine {
	fields := make(log.Fields, len(e.Data))
	for k, v := range e.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	return logLine{Time: e.Time, Level: e.Level.String(), Message: e.Message, Fields: fields}
}

// logStream sends log entries at or above ?level= (info by default).
// Lines are dropped rather than slowing the logger down.
func (s *Server) logStream(w http.ResponseWriter, r *http.Request) {
	level := log.InfoLevel
	if q := r.URL.Query().Get("level"); q != "" {
		parsed, err := log.ParseLevel(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		level = parsed
	}

	lines := make(chan logLine, logBacklog)
	sink := &logging.FuncSink{Min: level, Fn: func(e *log.Entry) error {
		select {
		case lines <- lineOf(e):
		default:
		}
		return nil
	}}
	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer c.close()
	s.app.Logs.Add(sink)
	defer s.app.Logs.Remove(sink)

	for {
		select {
		case line := <-lines:
			if err := c.write(line); err != nil {
				return
			}
		case <-c.closed:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
