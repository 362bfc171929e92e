package collection

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	// stays until dismissed, used while nobody is looking
	Sticky bool `json:"sticky"`
}

// Notifier shows user facing notices.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notices to the log.
type LogNotifier struct {
	Logger *log.Entry
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	logger.WithField("sticky", n.Sticky).Infof("%s: %s", n.Title, n.Body)
}

// Latest keeps a single notification: showing a new one replaces the last.
// Inactive makes every notice sticky until the user comes back.
type Latest struct {
	next Notifier

	mu       sync.Mutex
	current  *Notification
	inactive bool
}

func NewLatest(next Notifier) *Latest {
	if next == nil {
		next = LogNotifier{}
	}
	return &Latest{next: next}
}

func (l *Latest) Notify(n Notification) {
	l.mu.Lock()
	if l.inactive {
		n.Sticky = true
	}
	l.current = &n
	l.mu.Unlock()
	l.next.Notify(n)
}

// Current is the notice on screen, if any.
func (l *Latest) Current() (Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Notification{}, false
	}
	return *l.current, true
}

func (l *Latest) Dismiss() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
}

func (l *Latest) SetInactive(inactive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inactive = inactive
}
