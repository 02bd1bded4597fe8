// Package dispatcher implements the single scheduling loop that pulls
// ready entries off the MainQueue and hands them to the worker pool
// once a rate-limit ticket and a worker slot are both available.
package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/control"
	"github.com/rrls/rrls/internal/delayqueue"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/listener"
	"github.com/rrls/rrls/internal/mainqueue"
	"github.com/rrls/rrls/internal/metrics"
	"github.com/rrls/rrls/internal/tokenbucket"
	"github.com/rrls/rrls/internal/workerpool"
)

// ExpireFunc completes an entry's future as cancelled or timed out
// without running another attempt.
type ExpireFunc func(e *entry.Entry)

// Config wires a Dispatcher to the rest of the service.
type Config struct {
	MainQueue   *mainqueue.MainQueue
	DelayQueue  *delayqueue.DelayQueue
	TokenBucket *tokenbucket.TokenBucket
	WorkerPool  *workerpool.WorkerPool
	ControlFn   func() control.State
	Expire      ExpireFunc
	Listener    listener.EventListener
	Clock       clock.Clock
	Log         zerolog.Logger

	TicketWaitBudget time.Duration
	SlotWaitBudget   time.Duration
}

// Dispatcher runs the scheduling loop on its own goroutine, started
// by Run and stopped when its ctx is cancelled.
type Dispatcher struct {
	cfg Config
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Listener == nil {
		cfg.Listener = listener.NoOp{}
	}
	return &Dispatcher{cfg: cfg}
}

// Run pulls entries from the MainQueue until ctx is cancelled. It is
// meant to be run on a dedicated goroutine; the caller's WaitGroup (if
// any) should track its return.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		e, err := d.cfg.MainQueue.Take(ctx)
		if err != nil {
			return
		}
		metrics.MainQueueDepth.Set(float64(d.cfg.MainQueue.Len()))
		d.dispatch(ctx, e)
	}
}

// dispatch decides whether e should be expired, requeued for another
// scheduling pass, or handed to the worker pool for its next attempt.
func (d *Dispatcher) dispatch(ctx context.Context, e *entry.Entry) {
	now := d.cfg.Clock.Now()

	if e.CancelRequested() {
		d.cfg.Expire(e)
		return
	}
	if e.Expired(now) {
		d.cfg.Expire(e)
		return
	}

	snap := d.cfg.ControlFn()
	if snap.TimeoutAllPending {
		d.cfg.Expire(e)
		return
	}

	ticketCtx, cancelTicket := d.boundedCtx(ctx, snap.LimitTicketWait, d.cfg.TicketWaitBudget)
	err := d.cfg.TokenBucket.Acquire(ticketCtx, 1)
	cancelTicket()
	if err != nil {
		d.requeueOrExpire(e, ctx)
		return
	}

	slotCtx, cancelSlot := d.boundedCtx(ctx, snap.LimitWorkerWait, d.cfg.SlotWaitBudget)
	err = d.cfg.WorkerPool.ReserveSlot(slotCtx)
	cancelSlot()
	if err != nil {
		d.requeueOrExpire(e, ctx)
		return
	}

	e.SetState(entry.InFlight)
	attempt := e.NextAttempt()
	d.cfg.Listener.AttemptStarted(e.ID, attempt)
	metrics.WorkersActive.Set(float64(d.cfg.WorkerPool.ActiveCount() + 1))
	d.cfg.WorkerPool.Dispatch(e, attempt)
}

// requeueOrExpire is taken when a wait-bounded ticket or slot
// acquisition didn't succeed in time: if the entry's own deadline has
// now passed, it is expired; otherwise it goes back through the delay
// queue for another scheduling attempt shortly, without counting
// against MaxAttempts (no processing-function attempt was made).
func (d *Dispatcher) requeueOrExpire(e *entry.Entry, ctx context.Context) {
	if ctx.Err() != nil {
		return // dispatcher itself is shutting down; the entry is not requeued and stays counted as pending
	}
	now := d.cfg.Clock.Now()
	if e.Expired(now) {
		d.cfg.Expire(e)
		return
	}
	d.cfg.DelayQueue.Insert(e, now)
}

// boundedCtx returns a child of parent with a deadline budget away
// when limited is true and budget is positive, otherwise parent
// unchanged (with a no-op cancel).
func (d *Dispatcher) boundedCtx(parent context.Context, limited bool, budget time.Duration) (context.Context, context.CancelFunc) {
	if !limited || budget <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, budget)
}
