// Package notify provides an in-process bus that reports emitter cycle
// outcomes to interested observers without ever blocking the emitter.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	CycleCompleted NotificationType = iota
	CycleFailed
	EventDropped
)

func (t NotificationType) String() string {
	switch t {
	case CycleCompleted:
		return "cycle_completed"
	case CycleFailed:
		return "cycle_failed"
	case EventDropped:
		return "event_dropped"
	default:
		return "unknown"
	}
}

// Notification describes the outcome of one emitter drain cycle.
type Notification struct {
	Type      NotificationType
	Requests  int
	Succeeded int
	Failed    int
	Deleted   int
	Oversize  int
	Pending   int64
	Timestamp int64
}

// Notifier is a non-blocking pub/sub bus.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends a notification to all subscribers.
// Non-blocking: if a subscriber's channel is full, the notification is dropped.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().UnixMilli()
	}
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(notif.Type) {
			sub.send(notif)
		}
		return true
	})
}

// Subscribe registers a subscriber under id. With no types the subscriber
// receives every notification.
func (n *Notifier) Subscribe(id string, types ...NotificationType) *Subscriber {
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	sub := &Subscriber{
		ID:    id,
		Types: types,
		Ch:    make(chan Notification, n.bufferSize),
	}
	if old, loaded := n.subscribers.Swap(sub.ID, sub); loaded {
		old.(*Subscriber).close()
	}
	return sub
}

// Unsubscribe removes a subscriber from the notifier and closes their channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		value.(*Subscriber).close()
	}
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID    string
	Types []NotificationType
	Ch    chan Notification

	mu     sync.Mutex
	closed bool
}

func (s *Subscriber) send(notif Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Ch <- notif:
	default:
		// Channel full - drop notification, do NOT block
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}

func (s *Subscriber) matches(t NotificationType) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}
