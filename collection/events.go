package collection

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventProgress      EventKind = "progress"
	EventIndeterminate EventKind = "indeterminate"
	EventMessage       EventKind = "message"
	EventError         EventKind = "error"
	EventPrompt        EventKind = "prompt"
	EventDeadTime      EventKind = "deadTime"
	EventFinished      EventKind = "finished"
	EventCanceled      EventKind = "canceled"
)

// Terminal reports whether no further events follow for the worker.
func (k EventKind) Terminal() bool { return k == EventFinished || k == EventCanceled }

type Event struct {
	Worker string    `json:"worker"`
	Task   string    `json:"task"`
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`

	Percent       int     `json:"percent,omitempty"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
	Text          string  `json:"text,omitempty"`
	Title         string  `json:"title,omitempty"`
	Detail        string  `json:"detail,omitempty"`
	Prompt        *Prompt `json:"prompt,omitempty"`
	// seconds
	DeadTime float64 `json:"dead_time,omitempty"`
	Result   any     `json:"result,omitempty"`
}

// hub fans events out to subscribers. Publishing never blocks: each
// subscriber has an unbounded queue drained by its own goroutine, so a slow
// reader delays only itself and still sees every event in order.
type hub struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
}

func newHub() *hub { return &hub{subs: map[int]*subscriber{}} }

func (h *hub) subscribe() (<-chan Event, func()) {
	s := &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.mu.Unlock()
	go s.pump()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(s.done)
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.mu.Lock()
		s.queue = append(s.queue, ev)
		s.mu.Unlock()
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}
