package collection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type PromptKind string

const (
	PromptCaptcha       PromptKind = "captcha"
	PromptMFA           PromptKind = "mfa"
	PromptAccountChoice PromptKind = "account_choice"
	PromptPassword      PromptKind = "password"
)

// Prompt asks the user for something a running task cannot go on without.
type Prompt struct {
	Kind    PromptKind `json:"kind"`
	Site    string     `json:"site,omitempty"`
	Message string     `json:"message,omitempty"`
	Captcha []byte     `json:"captcha,omitempty"`
	Phone   string     `json:"phone,omitempty"`
	Choices []string   `json:"choices,omitempty"`
}

// Answer replies to the pending Prompt. Cancel gives up the task.
type Answer struct {
	Text   string `json:"text"`
	Cancel bool   `json:"cancel"`
}

var (
	ErrStopped     = errors.New("worker stopped")
	ErrNoPrompt    = errors.New("worker is not waiting for an answer")
	ErrAnswerGiven = errors.New("prompt already answered")
)

// Task is one long running operation. Run reports through w and returns
// nil on success. It should check w.CanRun between network calls.
type Task interface {
	Name() string
	Run(ctx context.Context, w *Worker) error
}

// Monitor runs beside a task and may escalate its messages. Its context
// ends when the task returns.
type Monitor func(ctx context.Context, w *Worker) error

// Worker is a running Task. Tasks use it to emit events; callers use it to
// stop the task or answer its prompts.
type Worker struct {
	id     string
	task   Task
	key    string
	pool   *Pool
	logger *log.Entry

	canRun   atomic.Bool
	deadTime atomic.Int64

	mu      sync.Mutex
	pending chan Answer
	asked   *Prompt
	result  any

	// guards publishing so nothing follows the terminal event
	emitMu sync.Mutex
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	outcome  EventKind
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) TaskName() string { return w.task.Name() }

// Key is the exclusive resource the worker holds while running, usually
// an account and site pair.
func (w *Worker) Key() string { return w.key }

func (w *Worker) Logger() *log.Entry { return w.logger }

// CanRun turns false once Stop was called.
func (w *Worker) CanRun() bool { return w.canRun.Load() }

// Done closes after the terminal event was published.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Outcome is EventFinished or EventCanceled once Done is closed.
func (w *Worker) Outcome() EventKind {
	<-w.done
	return w.outcome
}

// Result is whatever the task handed to SetResult.
func (w *Worker) Result() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *Worker) emit(ev Event) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	if w.closed {
		return
	}
	w.publish(ev)
}

func (w *Worker) emitTerminal(ev Event) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	w.closed = true
	w.publish(ev)
}

func (w *Worker) publish(ev Event) {
	ev.Worker = w.id
	ev.Task = w.task.Name()
	ev.At = time.Now()
	w.pool.events.publish(ev)
}

func (w *Worker) Progress(percent int) {
	percent = max(0, min(100, percent))
	w.emit(Event{Kind: EventProgress, Percent: percent})
}

func (w *Worker) Indeterminate(on bool) {
	w.emit(Event{Kind: EventIndeterminate, Indeterminate: on})
}

func (w *Worker) Message(text string) {
	w.emit(Event{Kind: EventMessage, Text: text})
}

// SetDeadTime changes how long the pool waits after Stop before it
// terminates the task.
func (w *Worker) SetDeadTime(d time.Duration) {
	w.deadTime.Store(int64(d))
	w.emit(Event{Kind: EventDeadTime, DeadTime: d.Seconds()})
}

func (w *Worker) DeadTime() time.Duration { return time.Duration(w.deadTime.Load()) }

// SetResult attaches the task's output to the finished event.
func (w *Worker) SetResult(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result = v
}

// Ask publishes p and blocks until Answer is called, the worker is
// stopped or ctx ends.
func (w *Worker) Ask(ctx context.Context, p Prompt) (Answer, error) {
	ch := make(chan Answer, 1)
	w.mu.Lock()
	w.pending = ch
	w.asked = &p
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.pending = nil
		w.asked = nil
		w.mu.Unlock()
	}()

	w.emit(Event{Kind: EventPrompt, Prompt: &p})
	select {
	case a := <-ch:
		if a.Cancel {
			w.Stop()
			return a, ErrStopped
		}
		return a, nil
	case <-w.stop:
		return Answer{}, ErrStopped
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Pending is the unanswered prompt, nil when the task is not asking.
func (w *Worker) Pending() *Prompt {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.asked
}

// Answer delivers a to the pending prompt.
func (w *Worker) Answer(a Answer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return ErrNoPrompt
	}
	select {
	case w.pending <- a:
		return nil
	default:
		return ErrAnswerGiven
	}
}

// Stop asks the task to return. The pool terminates it if it is still
// running once the dead time passed.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.canRun.Store(false)
		close(w.stop)
		w.logger.Debug("stop requested")
	})
}

// StopContext derives a context that also ends when Stop is called, for
// calls that should not wait out the dead time.
func (w *Worker) StopContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}
