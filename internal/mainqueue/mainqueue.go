// Package mainqueue implements the bounded FIFO hand-off from the
// DelayQueue/Submit path to the Dispatcher.
package mainqueue

import (
	"context"

	"github.com/rrls/rrls/internal/entry"
)

// MainQueue is a bounded, channel-backed FIFO. Producers are Submit
// (when no delay is needed) and the DelayQueue's shard drain loops;
// the Dispatcher is the sole consumer.
type MainQueue struct {
	ch chan *entry.Entry
}

// New constructs a MainQueue with the given capacity.
func New(capacity int) *MainQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MainQueue{ch: make(chan *entry.Entry, capacity)}
}

// TryPush attempts a non-blocking enqueue, returning false if the
// queue is currently full. Used by producers that must not block
// (the overall pending-request bound is enforced by the caller before
// reaching here; a full MainQueue at that point is a transient
// scheduling artifact, not an admission decision).
func (q *MainQueue) TryPush(e *entry.Entry) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// Push blocks until e is enqueued or ctx is done.
func (q *MainQueue) Push(ctx context.Context, e *entry.Entry) error {
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take blocks until an entry is available or ctx is done (the
// Dispatcher passes the service's dispatch context, which shutdown
// cancels once its drain wait ends).
func (q *MainQueue) Take(ctx context.Context) (*entry.Entry, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the current queue depth, for status snapshots.
func (q *MainQueue) Len() int { return len(q.ch) }

// Cap reports the configured capacity.
func (q *MainQueue) Cap() int { return cap(q.ch) }
