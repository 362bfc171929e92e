package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long a stopped worker may keep running before the
// pool abandons it.
const DefaultGrace = 5 * time.Second

var ErrBusy = errors.New("another worker is using this session")

// Pool runs tasks on workers and fans their events out to subscribers.
// Workers sharing a key never run at the same time.
type Pool struct {
	events  *hub
	logger  *log.Entry
	grace   time.Duration
	metrics *Metrics

	mu      sync.Mutex
	workers map[string]*Worker
	keys    map[string]string // key -> worker id
}

type Option func(*Pool)

func WithGrace(d time.Duration) Option { return func(p *Pool) { p.grace = d } }

func WithMetrics(m *Metrics) Option { return func(p *Pool) { p.metrics = m } }

func WithLogger(l *log.Entry) Option { return func(p *Pool) { p.logger = l } }

func NewPool(opts ...Option) *Pool {
	p := &Pool{
		events:  newHub(),
		logger:  log.WithField("component", "pool"),
		grace:   DefaultGrace,
		workers: map[string]*Worker{},
		keys:    map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p
}

func (p *Pool) Metrics() *Metrics { return p.metrics }

// Subscribe streams every event published after the call. cancel must be
// called to release the subscription.
func (p *Pool) Subscribe() (events <-chan Event, cancel func()) {
	return p.events.subscribe()
}

type submitConfig struct {
	key     string
	monitor Monitor
}

type SubmitOption func(*submitConfig)

// WithKey makes the worker exclusive on key.
func WithKey(key string) SubmitOption { return func(c *submitConfig) { c.key = key } }

// WithMonitor runs m next to the task.
func WithMonitor(m Monitor) SubmitOption { return func(c *submitConfig) { c.monitor = m } }

// Submit starts task on a new worker. It fails with ErrBusy when another
// worker holds the same key.
func (p *Pool) Submit(ctx context.Context, task Task, opts ...SubmitOption) (*Worker, error) {
	var cfg submitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &Worker{
		id:   uuid.NewString(),
		task: task,
		key:  cfg.key,
		pool: p,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	w.logger = p.logger.WithFields(log.Fields{"worker": w.id, "task": task.Name()})
	w.canRun.Store(true)
	w.deadTime.Store(int64(p.grace))

	p.mu.Lock()
	if cfg.key != "" {
		if holder, ok := p.keys[cfg.key]; ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s held by %s", ErrBusy, cfg.key, holder)
		}
		p.keys[cfg.key] = w.id
	}
	p.workers[w.id] = w
	p.mu.Unlock()

	p.metrics.started()
	go p.run(ctx, w, cfg.monitor)
	return w, nil
}

func (p *Pool) run(ctx context.Context, w *Worker, monitor Monitor) {
	began := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		result <- p.execute(runCtx, w, monitor)
	}()

	var (
		err       error
		abandoned bool
	)
	select {
	case err = <-result:
	case <-w.stop:
		abandoned, err = p.await(w, result, cancel)
	case <-ctx.Done():
		w.Stop()
		abandoned, err = p.await(w, result, cancel)
	}
	p.finish(w, err, time.Since(began), abandoned)
	if abandoned && w.key != "" {
		// the goroutine may still be using the session behind the key
		go p.releaseKey(w, result)
	}
}

// execute runs the task and its monitor in one group. The monitor's
// context ends as soon as the task returns.
func (p *Pool) execute(ctx context.Context, w *Worker, monitor Monitor) error {
	g, gctx := errgroup.WithContext(ctx)
	mctx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	g.Go(func() error {
		defer stopMonitor()
		return w.task.Run(gctx, w)
	})
	if monitor != nil {
		g.Go(func() error {
			err := monitor(mctx, w)
			if mctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// await gives a stopped worker its dead time to return, then cancels its
// context and leaves the goroutine behind. abandoned reports the latter.
func (p *Pool) await(w *Worker, result <-chan error, cancel context.CancelFunc) (abandoned bool, err error) {
	timer := time.NewTimer(w.DeadTime())
	defer timer.Stop()
	select {
	case err := <-result:
		return false, err
	case <-timer.C:
		cancel()
		w.logger.WithField("deadTime", w.DeadTime()).Warn("worker did not stop in time, terminated")
		return true, ErrStopped
	}
}

// releaseKey frees an abandoned worker's key once its task really returns.
func (p *Pool) releaseKey(w *Worker, result <-chan error) {
	<-result
	p.mu.Lock()
	if p.keys[w.key] == w.id {
		delete(p.keys, w.key)
	}
	p.mu.Unlock()
	w.logger.WithField("key", w.key).Debug("abandoned worker returned, key released")
}

func (p *Pool) finish(w *Worker, err error, took time.Duration, abandoned bool) {
	outcome := "finished"
	switch {
	case err == nil:
		w.outcome = EventFinished
		w.emitTerminal(Event{Kind: EventFinished, Result: w.Result()})
	case isCancellation(err) && w.stopped():
		outcome = "canceled"
		w.outcome = EventCanceled
		w.emitTerminal(Event{Kind: EventCanceled})
	default:
		outcome = "error"
		title, detail := Describe(err)
		w.logger.WithError(err).Warn("worker failed")
		w.emit(Event{Kind: EventError, Title: title, Detail: detail})
		w.outcome = EventCanceled
		w.emitTerminal(Event{Kind: EventCanceled})
	}

	p.mu.Lock()
	delete(p.workers, w.id)
	if w.key != "" && !abandoned && p.keys[w.key] == w.id {
		delete(p.keys, w.key)
	}
	p.mu.Unlock()

	p.metrics.finished(w.task.Name(), outcome, took)
	w.logger.WithFields(log.Fields{"outcome": outcome, "took": took}).Debug("worker done")
	close(w.done)
}

// Get finds a running worker.
func (p *Pool) Get(id string) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	return w, ok
}

// Running lists the running workers ordered by id.
func (p *Pool) Running() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (p *Pool) Stop(id string) bool {
	w, ok := p.Get(id)
	if ok {
		w.Stop()
	}
	return ok
}

// Shutdown stops every worker and waits for their terminal events or ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	running := p.Running()
	for _, w := range running {
		w.Stop()
	}
	for _, w := range running {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
