// Package memory provides the channel-backed item queue shared by the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Each item is
// handed to exactly one Dequeue caller.
type Queue struct {
	ch      chan string
	closeMu sync.RWMutex
	closed  bool
}

var _ harvest.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// Preload builds a closed queue holding items in order. Workers drain it and
// then observe harvest.ErrQueueDrained.
func Preload(items []string) *Queue {
	q := NewQueue(len(items))
	for _, item := range items {
		q.ch <- item
	}
	q.Close()
	return q
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item string) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item. It returns harvest.ErrQueueDrained once the queue
// is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return "", harvest.ErrQueueDrained
		}
		return item, nil
	}
}

// Len reports the number of items still waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues. Items already buffered remain available.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
