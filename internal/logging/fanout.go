// Package logging configures logrus for the toolbox and lets extra sinks,
// like the local API's websocket, subscribe to log entries.
package logging

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Sink receives entries at or above its level.
type Sink interface {
	Level() log.Level
	Fire(*log.Entry) error
}

// Fanout is a logrus hook that hands every entry to each sink that wants
// it. A failing sink does not stop the others; their errors are joined.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Remove(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.sinks {
		if existing == s {
			f.sinks = append(f.sinks[:i], f.sinks[i+1:]...)
			return
		}
	}
}

func (f *Fanout) Levels() []log.Level { return log.AllLevels }

func (f *Fanout) Fire(e *log.Entry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var errs error
	for _, s := range f.sinks {
		// lower levels are more severe in logrus
		if e.Level > s.Level() {
			continue
		}
		errs = errors.Join(errs, s.Fire(e))
	}
	return errs
}

// FuncSink adapts a function.
type FuncSink struct {
	Min log.Level
	Fn  func(*log.Entry) error
}

func (s *FuncSink) Level() log.Level { return s.Min }

func (s *FuncSink) Fire(e *log.Entry) error { return s.Fn(e) }
