// Package memory provides a bounded in-process job queue for serve mode.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// Errors returned by Queue.
var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch     chan biodumpy.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan biodumpy.QueueItem, capacity),
	}
}

// Enqueue pushes a job without blocking. A full queue yields ErrFull.
func (q *Queue) Enqueue(ctx context.Context, item biodumpy.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (biodumpy.QueueItem, error) {
	select {
	case <-ctx.Done():
		return biodumpy.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return biodumpy.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Queued items can still
// be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
