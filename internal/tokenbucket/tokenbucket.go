// Package tokenbucket implements the refillable capacity counter RRLS
// uses to pace attempt starts.
package tokenbucket

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rrls/rrls/internal/clock"
)

// waiter is one entry in the FIFO queue of blocked Acquire callers.
// Strict FIFO is a deliberate fairness choice: a small waiter never
// jumps ahead of a large one, which keeps pacing predictable.
type waiter struct {
	needed float64
	grant  chan struct{} // closed exactly once, by the granter
}

// TokenBucket is a mutex-protected refillable counter with a FIFO
// waiter queue. Every operation except Acquire is infallible.
type TokenBucket struct {
	mu sync.Mutex

	capacity       float64
	tokens         float64
	refillRate     float64
	refillInterval time.Duration
	lastRefill     time.Time

	waiters *list.List // of *waiter, head = longest-waiting

	clock clock.Clock

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a TokenBucket starting full, and starts its internal
// refill-and-dispatch loop.
func New(capacity, refillRate int, refillInterval time.Duration, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	b := &TokenBucket{
		capacity:       float64(capacity),
		tokens:         float64(capacity),
		refillRate:     float64(refillRate),
		refillInterval: refillInterval,
		lastRefill:     clk.Now(),
		waiters:        list.New(),
		clock:          clk,
		stopCh:         make(chan struct{}),
	}
	b.wg.Add(1)
	go b.refillLoop()
	return b
}

// Stop halts the background refill loop. Waiters still blocked in
// Acquire are released and return context.Canceled.
func (b *TokenBucket) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stopCh)
	b.mu.Unlock()
	b.wg.Wait()
}

// TryAcquire succeeds iff currentTokens >= n AND the waiter queue is
// empty (no barging ahead of already-queued callers).
func (b *TokenBucket) TryAcquire(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.dispatchLocked()
	if b.waiters.Len() > 0 {
		return false
	}
	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}

// Acquire enqueues a waiter for n tokens and blocks until it reaches
// the head of the FIFO queue with enough tokens available, or until
// ctx is done. A nil return means tokens were granted (deducted
// atomically under the bucket's lock); otherwise ctx.Err() is
// returned, distinguishing DeadlineExceeded from Canceled for the
// caller's routing decision.
func (b *TokenBucket) Acquire(ctx context.Context, n int) error {
	b.mu.Lock()
	b.refillLocked()
	b.dispatchLocked()
	if b.waiters.Len() == 0 && b.tokens >= float64(n) {
		b.tokens -= float64(n)
		b.mu.Unlock()
		return nil
	}
	w := &waiter{needed: float64(n), grant: make(chan struct{})}
	elem := b.waiters.PushBack(w)
	b.mu.Unlock()

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		b.abandon(elem, w)
		return ctx.Err()
	case <-b.stopCh:
		b.abandon(elem, w)
		return context.Canceled
	}
}

// abandon removes a waiter that gave up before being granted. If the
// waiter was concurrently granted (grant already closed) it is no
// longer queued, and the tokens deducted for it are refunded instead.
func (b *TokenBucket) abandon(elem *list.Element, w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-w.grant:
		// Granted in the race between select branches; tokens are
		// already deducted and owed to the caller, but the caller is
		// no longer listening. Refund them.
		b.tokens += w.needed
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	default:
		b.waiters.Remove(elem)
	}
}

// EstimateAvailable returns a snapshot token count for status
// reporting. It takes the lock but performs no waiter dispatch.
func (b *TokenBucket) EstimateAvailable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return int(b.tokens)
}

// refillLocked adds whole refill intervals' worth of tokens since
// lastRefill, capped at capacity. Caller must hold mu.
func (b *TokenBucket) refillLocked() {
	if b.refillInterval <= 0 {
		return
	}
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	intervals := int64(elapsed / b.refillInterval)
	if intervals <= 0 {
		return
	}
	b.tokens += float64(intervals) * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.refillInterval)
}

// dispatchLocked grants tokens to waiters from the head of the queue
// while there are enough tokens for the head's need. Caller must hold mu.
func (b *TokenBucket) dispatchLocked() {
	for {
		front := b.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		if b.tokens < w.needed {
			return
		}
		b.tokens -= w.needed
		b.waiters.Remove(front)
		close(w.grant)
	}
}

func (b *TokenBucket) refillLoop() {
	defer b.wg.Done()
	interval := b.refillInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := b.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.refillLocked()
			b.dispatchLocked()
			b.mu.Unlock()
		}
	}
}
