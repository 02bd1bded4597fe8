// Package rrls implements the Retry and Rate-Limit Service: an
// in-process executor that paces request attempts behind a token
// bucket, retries failures on a configured delay schedule, honors
// per-request deadlines and earliest-start constraints, bounds
// concurrency with a worker pool, and shuts down under a caller-chosen
// policy.
package rrls

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/control"
	"github.com/rrls/rrls/internal/delayqueue"
	"github.com/rrls/rrls/internal/dispatcher"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/listener"
	"github.com/rrls/rrls/internal/mainqueue"
	"github.com/rrls/rrls/internal/metrics"
	"github.com/rrls/rrls/internal/outcome"
	"github.com/rrls/rrls/internal/rrlerrors"
	"github.com/rrls/rrls/internal/tokenbucket"
	"github.com/rrls/rrls/internal/workerpool"
)

// Service is the RRLS entry point: start it, submit work, then shut
// it down. A Service must not be copied after New.
type Service struct {
	cfg      config.Config
	clock    clock.Clock
	log      zerolog.Logger
	listener listener.EventListener

	control     *control.Machine
	tokenBucket *tokenbucket.TokenBucket
	mainQueue   *mainqueue.MainQueue
	delayQueue  *delayqueue.DelayQueue
	workerPool  *workerpool.WorkerPool
	outcomes    *outcome.Handler
	dispatch    *dispatcher.Dispatcher

	ticketWaitBudget time.Duration
	slotWaitBudget   time.Duration

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	dispatchWG     sync.WaitGroup

	pending      sync.Map // entry.ID -> *entry.Entry
	pendingCount int32    // atomic

	statusCache atomic.Pointer[cachedStatus]
}

// New constructs a Service and its subsystems (token bucket, queues,
// worker pool). Subsystem goroutines start immediately; no requests
// are admitted until Start is called.
func New(process entry.ProcessingFunction, opts ...Option) (*Service, error) {
	s := &Service{
		clock:    clock.New(),
		log:      zerolog.Nop(),
		listener: listener.NoOp{},
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	s.cfg = cfg

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	safeListener := listener.Safe{Inner: s.listener, Log: s.log}
	s.listener = safeListener

	s.control = control.New()
	s.tokenBucket = tokenbucket.New(s.cfg.RateLimiterBucketSize, s.cfg.RateLimiterRefillRate, s.cfg.RateLimiterRefillInterval, s.clock)
	s.mainQueue = mainqueue.New(s.cfg.MaxPendingRequests)

	s.delayQueue = delayqueue.New(delayqueue.Config{
		Shards:      s.cfg.DelayQueueThreadCount,
		GracePeriod: s.cfg.RequestEarlyProcessingGracePeriod,
		MainQueue:   s.mainQueue,
		ControlFn:   s.control.Snapshot,
		Expire:      s.expire,
		Listener:    safeListener,
		Clock:       s.clock,
		Log:         s.log,
	})

	s.workerPool = workerpool.New(workerpool.Config{
		MinWorkers: s.cfg.MinWorkers,
		MaxWorkers: s.cfg.MaxWorkers,
		Process:    process,
		OnOutcome:  s.onOutcome,
		Clock:      s.clock,
		Log:        s.log,
	})

	s.outcomes = outcome.New(outcome.Config{
		MainQueue:  s.mainQueue,
		DelayQueue: s.delayQueue,
		ControlFn:  s.control.Snapshot,
		Listener:   safeListener,
		Clock:      s.clock,
		Log:        s.log,
	})

	s.dispatch = dispatcher.New(dispatcher.Config{
		MainQueue:        s.mainQueue,
		DelayQueue:       s.delayQueue,
		TokenBucket:      s.tokenBucket,
		WorkerPool:       s.workerPool,
		ControlFn:        s.control.Snapshot,
		Expire:           s.expire,
		Listener:         safeListener,
		Clock:            s.clock,
		Log:              s.log,
		TicketWaitBudget: s.ticketWaitBudget,
		SlotWaitBudget:   s.slotWaitBudget,
	})

	return s, nil
}

// onOutcome adapts a worker-pool outcome into the outcome handler,
// then tracks pending-request bookkeeping once the entry settles.
func (s *Service) onOutcome(e *entry.Entry, attempt int, result workerpool.Outcome) {
	s.outcomes.Handle(e, attempt, result)
	if e.Future().IsDone() {
		s.settle(e)
	}
}

// expire is the delayqueue.ExpireFunc and dispatcher.ExpireFunc: route
// through the outcome handler's Expire, then settle bookkeeping.
func (s *Service) expire(e *entry.Entry) {
	s.outcomes.Expire(e)
	s.settle(e)
}

func (s *Service) settle(e *entry.Entry) {
	if _, ok := s.pending.LoadAndDelete(e.ID); ok {
		atomic.AddInt32(&s.pendingCount, -1)
	}
}

// Start transitions the service into RUNNING and launches the
// dispatcher loop. Submit calls made before Start fail with
// ErrNotStarted.
func (s *Service) Start() error {
	if err := s.control.Start(); err != nil {
		return rrlerrors.ErrNotStarted
	}
	s.dispatchCtx, s.dispatchCancel = context.WithCancel(context.Background())
	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		s.dispatch.Run(s.dispatchCtx)
	}()
	return nil
}

// Submit admits payload for processing, returning its Future handle.
func (s *Service) Submit(payload any, opts ...SubmitOption) (*entry.Future, error) {
	return s.submit(payload, opts...)
}

// SubmitWithEarliestDelayFor admits payload but holds its first
// attempt until at least delay has elapsed.
func (s *Service) SubmitWithEarliestDelayFor(payload any, delay time.Duration, opts ...SubmitOption) (*entry.Future, error) {
	opts = append(opts, WithEarliestStartAt(s.clock.Now().Add(delay)))
	return s.submit(payload, opts...)
}

// SubmitWithEarliestDelayUntil admits payload but holds its first
// attempt until the given instant.
func (s *Service) SubmitWithEarliestDelayUntil(payload any, at time.Time, opts ...SubmitOption) (*entry.Future, error) {
	opts = append(opts, WithEarliestStartAt(at))
	return s.submit(payload, opts...)
}

func (s *Service) submit(payload any, opts ...SubmitOption) (*entry.Future, error) {
	snap := s.control.Snapshot()
	switch s.control.Phase() {
	case control.NotStarted:
		return nil, rrlerrors.ErrNotStarted
	case control.ShutdownInProgress:
		return nil, rrlerrors.ErrBeingShutDown
	case control.ShutdownDone:
		return nil, rrlerrors.ErrAlreadyShutDown
	}
	if !snap.AcceptingSubmissions {
		return nil, rrlerrors.ErrBeingShutDown
	}

	if int(atomic.LoadInt32(&s.pendingCount)) >= s.cfg.MaxPendingRequests {
		metrics.RejectedTooManyPendingTotal.Inc()
		s.listener.RejectedTooManyPending("")
		return nil, rrlerrors.ErrTooManyPendingRequests
	}

	so := submitOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	now := s.clock.Now()
	deadline := so.deadlineAt
	if deadline.IsZero() && so.deadlineIn > 0 {
		deadline = now.Add(so.deadlineIn)
	}
	e := entry.New(payload, now, deadline, so.earliestStart, s.cfg)

	atomic.AddInt32(&s.pendingCount, 1)
	s.pending.Store(e.ID, e)

	metrics.SubmittedTotal.Inc()
	s.listener.Submitted(e.ID)

	if e.EarliestStart.After(now) {
		s.delayQueue.Insert(e, e.EarliestStart)
	} else {
		e.SetState(entry.Ready)
		s.admit(e)
	}

	return e.Future(), nil
}

// admit pushes a ready entry onto the main queue, falling back to the
// delay queue's zero-delay hand-off path if the main queue is
// momentarily full.
func (s *Service) admit(e *entry.Entry) {
	if s.mainQueue.TryPush(e) {
		metrics.MainQueueDepth.Set(float64(s.mainQueue.Len()))
		s.listener.Admitted(e.ID)
		return
	}
	s.delayQueue.Insert(e, s.clock.Now())
}

// ShutdownFor requests a graceful shutdown under the given policy. It
// blocks until every pending request drains or budget passes, tears
// down the service's subsystem goroutines, and returns the count of
// entries left unprocessed. Shutdown does not complete those entries'
// futures: an entry still queued when the subsystems stop keeps an
// unresolved future. Zero budget means no bound: ShutdownFor waits for
// a full drain.
func (s *Service) ShutdownFor(budget time.Duration, ignoreDelays, failAfterAttempt, timeoutAllImmediately bool) (int, error) {
	return s.shutdown(control.Policy{
		IgnoreDelays:          ignoreDelays,
		FailAfterAttempt:      failAfterAttempt,
		TimeoutAllImmediately: timeoutAllImmediately,
	}, budget)
}

// ShutdownWithState requests a graceful shutdown using an explicit
// ControlState rather than the shortcut flags ShutdownFor exposes. It
// wholesale-replaces what the shortcut flags would have produced; see
// DESIGN.md. Like ShutdownFor, it blocks until the drain settles.
func (s *Service) ShutdownWithState(state control.State, budget time.Duration) (int, error) {
	return s.shutdown(control.Policy{Explicit: &state}, budget)
}

func (s *Service) shutdown(policy control.Policy, budget time.Duration) (int, error) {
	now := s.clock.Now()

	switch s.control.Phase() {
	case control.NotStarted:
		return int(atomic.LoadInt32(&s.pendingCount)), rrlerrors.ErrNotStarted
	case control.ShutdownDone:
		// Shutting down an already-shut-down service is a no-op: there
		// is nothing left unprocessed by definition.
		return 0, rrlerrors.ErrAlreadyShutDown
	}

	if !s.control.BeginShutdown(policy, budget, now) {
		return int(atomic.LoadInt32(&s.pendingCount)), rrlerrors.ErrBeingShutDown
	}

	snap := s.control.Snapshot()
	if snap.TimeoutAllPending {
		s.workerPool.InterruptAll()
	}

	return s.drainAndFinish(snap), nil
}

// drainAndFinish blocks until pending work reaches zero or the
// shutdown's spooldown deadline passes, tears down every subsystem
// goroutine, and returns the number of entries still unprocessed at
// that point.
func (s *Service) drainAndFinish(snap control.State) int {
	ticker := s.clock.Ticker(5 * time.Millisecond)
	defer ticker.Stop()

	var remaining int
	for {
		remaining = int(atomic.LoadInt32(&s.pendingCount))
		if remaining == 0 {
			break
		}
		if !snap.SpooldownDeadline.IsZero() && !s.clock.Now().Before(snap.SpooldownDeadline) {
			s.workerPool.InterruptAll()
			break
		}
		<-ticker.C
	}

	s.dispatchCancel()
	s.dispatchWG.Wait()
	s.workerPool.Wait()
	s.tokenBucket.Stop()
	s.delayQueue.Stop()
	s.control.FinishShutdown()

	return remaining
}

// Status is a snapshot of service occupancy, returned by GetStatus.
type Status struct {
	Phase                 string
	PendingCount          int
	MainQueueDepth        int
	DelayQueueShardDepths []int
	TicketsAvailable      int
	WorkersActive         int
	ObservedAt            time.Time
}

type cachedStatus struct {
	status Status
}

// GetStatus returns a Status snapshot, reusing one computed within the
// last maxCacheAge if available (zero always recomputes).
func (s *Service) GetStatus(maxCacheAge time.Duration) Status {
	if maxCacheAge > 0 {
		if cached := s.statusCache.Load(); cached != nil {
			if s.clock.Now().Sub(cached.status.ObservedAt) <= maxCacheAge {
				return cached.status
			}
		}
	}

	st := Status{
		Phase:                 s.control.Phase().String(),
		PendingCount:          int(atomic.LoadInt32(&s.pendingCount)),
		MainQueueDepth:        s.mainQueue.Len(),
		DelayQueueShardDepths: s.delayQueue.ShardDepths(),
		TicketsAvailable:      s.tokenBucket.EstimateAvailable(),
		WorkersActive:         s.workerPool.ActiveCount(),
		ObservedAt:            s.clock.Now(),
	}
	s.statusCache.Store(&cachedStatus{status: st})
	return st
}
