// Package outcome implements the decision table applied after every
// processing-function attempt: whichever of success,
// retry-via-delay-queue, retry-immediately, exhaustion or timeout
// applies next.
package outcome

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/control"
	"github.com/rrls/rrls/internal/delayqueue"
	"github.com/rrls/rrls/internal/entry"
	"github.com/rrls/rrls/internal/listener"
	"github.com/rrls/rrls/internal/mainqueue"
	"github.com/rrls/rrls/internal/metrics"
	"github.com/rrls/rrls/internal/rrlerrors"
	"github.com/rrls/rrls/internal/workerpool"
)

// Config wires a Handler to the queues and control state it routes
// entries through.
type Config struct {
	MainQueue *mainqueue.MainQueue
	DelayQueue *delayqueue.DelayQueue
	ControlFn func() control.State
	Listener  listener.EventListener
	Clock     clock.Clock
	Log       zerolog.Logger
}

// Handler applies the outcome decision table. It is the single place
// that completes a Future or routes an entry back for another attempt.
type Handler struct {
	cfg Config
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Listener == nil {
		cfg.Listener = listener.NoOp{}
	}
	return &Handler{cfg: cfg}
}

// Handle applies attempt's result to e, completing its Future or
// re-queuing it for another attempt.
func (h *Handler) Handle(e *entry.Entry, attempt int, result workerpool.Outcome) {
	if result.Err == nil && !result.Interrupted {
		h.cfg.Listener.AttemptSucceeded(e.ID, attempt)
		h.succeed(e, result.Value)
		return
	}

	if e.CancelRequested() {
		h.cancel(e)
		return
	}

	now := h.cfg.Clock.Now()
	snap := h.cfg.ControlFn()

	if result.Interrupted {
		// Interruption during shutdown is surfaced as an attempt
		// failure first, then the entry is timed out below.
		h.cfg.Listener.AttemptFailed(e.ID, attempt, rrlerrors.ErrWaitTimeout)
		h.timeout(e, now)
		return
	}

	classified := rrlerrors.Classify(result.Err)
	h.cfg.Listener.AttemptFailed(e.ID, attempt, classified)

	if rrlerrors.IsIrrecoverable(classified) {
		h.exhaust(e, classified)
		return
	}

	if attempt >= e.MaxAttempts {
		h.exhaust(e, classified)
		return
	}

	if snap.TimeoutAllPending {
		h.timeout(e, now)
		return
	}

	if snap.TimeoutAfterFailedAttempt {
		h.timeout(e, now)
		return
	}

	if e.Expired(now) {
		h.timeout(e, now)
		return
	}

	delay := e.DelayFor(attempt, now)

	if !snap.HonorRetryDelays {
		e.SetState(entry.Ready)
		if !h.cfg.MainQueue.TryPush(e) {
			// Queue momentarily full: fall back through the delay
			// queue with a zero delay rather than blocking the worker
			// that is reporting this outcome.
			h.cfg.DelayQueue.Insert(e, now)
		}
		return
	}

	h.cfg.DelayQueue.Insert(e, now.Add(delay))
}

func (h *Handler) succeed(e *entry.Entry, value any) {
	entry.Complete(e.Future(), value, nil)
	metrics.FinalOutcomeTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.cfg.Listener.FinalSuccess(e.ID)
}

func (h *Handler) cancel(e *entry.Entry) {
	entry.Complete(e.Future(), nil, rrlerrors.ErrCancelled)
	metrics.FinalOutcomeTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
	h.cfg.Listener.Cancelled(e.ID)
}

func (h *Handler) exhaust(e *entry.Entry, cause error) {
	entry.Complete(e.Future(), nil, &rrlerrors.ExecutionFailure{Cause: cause})
	metrics.FinalOutcomeTotal.WithLabelValues(metrics.OutcomeExhausted).Inc()
	h.cfg.Listener.FinalFailure(e.ID, cause)
}

func (h *Handler) timeout(e *entry.Entry, now time.Time) {
	entry.Complete(e.Future(), nil, &rrlerrors.Timeout{Elapsed: now.Sub(e.CreatedAt)})
	metrics.FinalOutcomeTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
	h.cfg.Listener.FinalTimeout(e.ID)
}

// Expire is the delayqueue.ExpireFunc: an entry discovered expired, or
// forced to expire by a cancel/timeoutAllPending, at release time
// rather than attempt time.
func (h *Handler) Expire(e *entry.Entry) {
	if e.CancelRequested() {
		h.cancel(e)
		return
	}
	h.timeout(e, h.cfg.Clock.Now())
}
