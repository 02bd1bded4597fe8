// Package entry holds the per-request state RRLS tracks internally
// and the caller-visible completion handle (Future).
package entry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/rrlerrors"
)

// State is one of the values an Entry moves through between admission
// and completion.
type State int32

const (
	PendingDelay State = iota
	Ready
	InFlight
	Completed
)

func (s State) String() string {
	switch s {
	case PendingDelay:
		return "PENDING_DELAY"
	case Ready:
		return "READY"
	case InFlight:
		return "IN_FLIGHT"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// ProcessingFunction is the caller-supplied work. It may block; the
// worker pool's size bounds concurrency, not this function's duration.
// ctx is cancelled if the attempt is interrupted (shutdown with
// timeoutAllPending, or a targeted Interrupt); cooperating
// implementations should select on ctx.Done() to return early.
type ProcessingFunction func(ctx context.Context, payload any, attempt int) (any, error)

// Entry is the service's exclusive-owned record for one submitted
// request. Callers only ever see it through a *Future.
type Entry struct {
	ID string

	Payload any

	CreatedAt     time.Time
	Deadline      time.Time
	EarliestStart time.Time

	MaxAttempts    int
	DelaySchedule  []time.Duration
	attemptNumber  int32 // atomic; 0 before first attempt

	cancelRequested uint32 // atomic; release/acquire semantics via atomic ops

	state int32 // atomic State

	future *Future

	// ShardKey lets the dispatcher/delay-queue assign entries to a
	// DelayQueue shard deterministically (hash(entry) mod N).
	ShardKey string
}

// New constructs an Entry and its attached Future. earliestStart
// defaults to createdAt when zero.
func New(payload any, createdAt, deadline, earliestStart time.Time, cfg config.Config) *Entry {
	if earliestStart.IsZero() {
		earliestStart = createdAt
	}
	schedule := append([]time.Duration(nil), cfg.DelaysAfterFailure...)
	e := &Entry{
		ID:            uuid.NewString(),
		Payload:       payload,
		CreatedAt:     createdAt,
		Deadline:      deadline,
		EarliestStart: earliestStart,
		MaxAttempts:   cfg.MaxAttempts,
		DelaySchedule: schedule,
	}
	e.ShardKey = e.ID
	e.future = newFuture(e)
	return e
}

// Future returns the caller-visible completion handle for this entry.
func (e *Entry) Future() *Future { return e.future }

// State returns the entry's current lifecycle state.
func (e *Entry) State() State { return State(atomic.LoadInt32(&e.state)) }

// SetState transitions the entry to s. Only the component currently
// "holding" the entry (dispatcher, delay queue, worker pool, outcome
// handler) may call this.
func (e *Entry) SetState(s State) { atomic.StoreInt32(&e.state, int32(s)) }

// AttemptNumber returns the number of attempts started so far.
func (e *Entry) AttemptNumber() int { return int(atomic.LoadInt32(&e.attemptNumber)) }

// NextAttempt increments and returns the new attempt number. Called
// exactly once per hand-off to the worker pool.
func (e *Entry) NextAttempt() int { return int(atomic.AddInt32(&e.attemptNumber, 1)) }

// CancelRequested reports whether the caller has asked for cancellation.
// Read with acquire semantics.
func (e *Entry) CancelRequested() bool { return atomic.LoadUint32(&e.cancelRequested) == 1 }

// requestCancel is invoked by Future.RequestCancel; release semantics.
func (e *Entry) requestCancel() { atomic.StoreUint32(&e.cancelRequested, 1) }

// Expired reports whether now is past the entry's deadline.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Deadline.IsZero() && now.After(e.Deadline)
}

// DelayFor returns the retry delay to honor after the given 1-based
// failed attempt number, capped so releaseAt never exceeds Deadline.
func (e *Entry) DelayFor(failedAttempt int, now time.Time) time.Duration {
	schedule := e.DelaySchedule
	if len(schedule) == 0 {
		return 0
	}
	idx := failedAttempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	d := schedule[idx]
	if !e.Deadline.IsZero() {
		if max := e.Deadline.Sub(now); max < d {
			if max < 0 {
				max = 0
			}
			d = max
		}
	}
	return d
}

// Future is the exclusive owner of an Entry's completion slot. It
// holds only an identifier back to the Entry (for cancel requests),
// never ownership: the service owns the Entry, the Entry owns the
// Future slot.
type Future struct {
	entry *Entry

	once sync.Once
	done chan struct{}

	value any
	err   error
}

func newFuture(e *Entry) *Future {
	return &Future{entry: e, done: make(chan struct{})}
}

// complete signals the future exactly once; subsequent calls are no-ops.
// Called only by the OutcomeHandler.
func (f *Future) complete(value any, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		f.entry.SetState(Completed)
		close(f.done)
	})
}

// Complete is the OutcomeHandler-facing entry point for complete.
func Complete(f *Future, value any, err error) { f.complete(value, err) }

// RequestCancel sets cancelRequested; it does not itself complete the
// future. Non-blocking, idempotent, safe for concurrent use.
func (f *Future) RequestCancel() { f.entry.requestCancel() }

// IsCancelled reports whether the future completed with ErrCancelled.
func (f *Future) IsCancelled() bool {
	select {
	case <-f.done:
		return f.err == rrlerrors.ErrCancelled
	default:
		return false
	}
}

// IsDone reports whether the future has been signaled.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the future completed without error.
// Returns false while the future is still pending.
func (f *Future) IsSuccessful() bool {
	select {
	case <-f.done:
		return f.err == nil
	default:
		return false
	}
}

// Get blocks for at most timeout. On success it returns the value; on
// a completed failure it returns the categorical error; if the future
// itself hasn't completed within timeout it returns ErrWaitTimeout.
func (f *Future) Get(timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		return nil, rrlerrors.ErrWaitTimeout
	}
}

// GetOrNull behaves like Get but returns (nil, nil) on wait-timeout
// instead of ErrWaitTimeout. Completion errors still return.
func (f *Future) GetOrNull(timeout time.Duration) (any, error) {
	v, err := f.Get(timeout)
	if err == rrlerrors.ErrWaitTimeout {
		return nil, nil
	}
	return v, err
}
