// Package memory provides the in-process job queue feeding the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/places-search/internal/search"
)

// Queue is an unbounded in-memory FIFO. Enqueue never waits for a worker;
// Dequeue blocks until an item arrives, the queue closes, or ctx ends.
type Queue struct {
	mu     sync.Mutex
	items  []search.QueueItem
	ready  chan struct{}
	closed bool
}

// NewQueue constructs an empty queue. capacity only sizes the initial buffer.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		items: make([]search.QueueItem, 0, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends item and returns immediately. ctx is only checked up front.
func (q *Queue) Enqueue(ctx context.Context, item search.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return search.ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.signal()
	return nil
}

// Dequeue pops the next item, respecting ctx cancellation.
func (q *Queue) Dequeue(ctx context.Context) (search.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = search.QueueItem{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// Wake the next waiter; the signal channel only holds one token.
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return search.QueueItem{}, search.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return search.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		}
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops intake; items already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// signal must be called with mu held. A closed queue already wakes every
// waiter through the closed channel.
func (q *Queue) signal() {
	if q.closed {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
