// Package workerpool bounds concurrent invocations of the caller's
// processing function.
//
// Go goroutines are cheap compared to the OS threads the original
// design modeled, so WorkerPool reduces "a pool of worker threads" to
// its functional essence: a semaphore bounding concurrency at
// MaxWorkers, with one goroutine spawned per dispatched attempt. This
// preserves the invariants that matter (bounded concurrency,
// one attempt at a time per entry, interruption on shutdown) without
// the bookkeeping a literal min/max thread-pool would add for no
// behavioral gain in this runtime. See DESIGN.md.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/metrics"
)

// Outcome is what a single attempt produced.
type Outcome struct {
	Value       any
	Err         error
	Interrupted bool
	Duration    time.Duration
}

// OutcomeFunc receives the result of one attempt.
type OutcomeFunc func(e *entry.Entry, attempt int, outcome Outcome)

// Config configures a WorkerPool.
type Config struct {
	MinWorkers int
	MaxWorkers int
	Process    entry.ProcessingFunction
	OnOutcome  OutcomeFunc
	Clock      clock.Clock
	Log        zerolog.Logger
}

// WorkerPool grants attempt slots up to MaxWorkers concurrently.
type WorkerPool struct {
	cfg Config
	sem chan struct{}

	active int32

	inFlight sync.Map // entry.ID -> context.CancelFunc, for shutdown interruption

	wg sync.WaitGroup
}

// New constructs a WorkerPool with capacity cfg.MaxWorkers.
func New(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.MinWorkers <= 0 || cfg.MinWorkers > cfg.MaxWorkers {
		cfg.MinWorkers = cfg.MaxWorkers
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	sem := make(chan struct{}, cfg.MaxWorkers)
	for i := 0; i < cfg.MaxWorkers; i++ {
		sem <- struct{}{}
	}
	return &WorkerPool{cfg: cfg, sem: sem}
}

// ReserveSlot blocks until a worker slot is available or ctx is done.
// A nil return holds a slot that MUST be released exactly once, either
// by Dispatch (which releases after the attempt completes) or by the
// caller calling Release directly if it decides not to dispatch after
// all.
func (p *WorkerPool) ReserveSlot(ctx context.Context) error {
	select {
	case <-p.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a previously reserved slot without running anything.
func (p *WorkerPool) Release() { p.sem <- struct{}{} }

// Dispatch spawns a goroutine that runs the processing function for
// (e, attempt) using a slot already reserved via ReserveSlot, then
// reports the Outcome and releases the slot. The attempt can be cut
// short by Interrupt/InterruptAll while in flight, for shutdown
// policies that force pending work to time out immediately.
func (p *WorkerPool) Dispatch(e *entry.Entry, attempt int) {
	p.wg.Add(1)
	atomic.AddInt32(&p.active, 1)
	go func() {
		defer p.wg.Done()
		defer func() { metrics.WorkersActive.Set(float64(atomic.AddInt32(&p.active, -1))) }()
		defer p.Release()

		attemptCtx, cancel := context.WithCancel(context.Background())
		p.inFlight.Store(e.ID, cancel)
		defer func() {
			p.inFlight.Delete(e.ID)
			cancel()
		}()

		start := p.cfg.Clock.Now()
		value, err, interrupted := p.run(attemptCtx, e, attempt)
		dur := p.cfg.Clock.Now().Sub(start)

		metrics.AttemptsTotal.Inc()
		if err == nil && !interrupted {
			metrics.AttemptSucceededTotal.Inc()
		} else {
			metrics.AttemptFailedTotal.Inc()
		}

		p.cfg.OnOutcome(e, attempt, Outcome{Value: value, Err: err, Interrupted: interrupted, Duration: dur})
	}()
}

// Interrupt cancels the attempt context for an in-flight entry, if
// any. The service itself interrupts through InterruptAll only.
func (p *WorkerPool) Interrupt(entryID string) {
	if v, ok := p.inFlight.Load(entryID); ok {
		v.(context.CancelFunc)()
	}
}

// InterruptAll cancels every attempt currently in flight. Called when
// a shutdown policy with TimeoutAllPending takes effect, and again when
// a shutdown's spooldown deadline passes with work still pending.
func (p *WorkerPool) InterruptAll() {
	p.inFlight.Range(func(_, v any) bool {
		v.(context.CancelFunc)()
		return true
	})
}

// ActiveCount reports the number of attempts currently executing.
func (p *WorkerPool) ActiveCount() int { return int(atomic.LoadInt32(&p.active)) }

// Wait blocks until every dispatched attempt has returned. Used during
// shutdown once no more work will be handed off.
func (p *WorkerPool) Wait() { p.wg.Wait() }

func (p *WorkerPool) run(ctx context.Context, e *entry.Entry, attempt int) (value any, err error, interrupted bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workerpool: processing function panicked: %v", r)
		}
	}()
	value, err = p.cfg.Process(ctx, e.Payload, attempt)
	if ctx.Err() != nil {
		return value, err, true
	}
	return value, err, false
}
