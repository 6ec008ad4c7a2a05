package emitter

import (
	"sync"

	"github.com/snowtrail/snowtrail/internal/payload"
)

// Queue is an unbounded FIFO between callers of Add and the consumer
// goroutine. Enqueue never blocks; Dequeue blocks until an item is
// available or the queue is closed and empty.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*payload.Payload
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends p. It reports false if the queue has been closed.
func (q *Queue) Enqueue(p *payload.Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, p)
	q.cond.Signal()
	return true
}

// Dequeue removes the oldest item. After Close it keeps returning the
// remaining items and reports false once the queue is empty.
func (q *Queue) Dequeue() (*payload.Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.pop()
}

// TryDequeue removes the oldest item without waiting.
func (q *Queue) TryDequeue() (*payload.Payload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

func (q *Queue) pop() (*payload.Payload, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return p, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes every blocked Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
