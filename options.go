package rrls

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/listener"
)

// Option configures a Service during construction in New.
type Option func(*Service) error

// WithConfig overrides the configuration New otherwise loads from the
// environment via config.LoadConfig.
func WithConfig(cfg config.Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithClock overrides the service's clock, for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) error {
		s.clock = clk
		return nil
	}
}

// WithLogger sets the zerolog.Logger used for internal diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) error {
		s.log = log
		return nil
	}
}

// WithListener installs an EventListener. It is wrapped in a
// panic-safe adapter before use, so it need not guard its own methods.
func WithListener(l listener.EventListener) Option {
	return func(s *Service) error {
		s.listener = l
		return nil
	}
}

// WithTicketWaitBudget bounds how long the dispatcher waits for a
// rate-limit ticket once the control state requests a limited wait
// (e.g. during a bounded shutdown). Zero means unbounded.
func WithTicketWaitBudget(d time.Duration) Option {
	return func(s *Service) error {
		s.ticketWaitBudget = d
		return nil
	}
}

// WithSlotWaitBudget bounds how long the dispatcher waits for a
// worker-pool slot once the control state requests a limited wait.
// Zero means unbounded.
func WithSlotWaitBudget(d time.Duration) Option {
	return func(s *Service) error {
		s.slotWaitBudget = d
		return nil
	}
}

// submitOptions accumulates the per-submit overrides SubmitOption
// applies. deadlineIn, if non-zero, is resolved against the service's
// clock at submit time rather than the wall clock, so it stays
// deterministic under a mock clock.
type submitOptions struct {
	deadlineAt    time.Time
	deadlineIn    time.Duration
	earliestStart time.Time
}

// SubmitOption configures a single Submit call.
type SubmitOption func(*submitOptions)

// WithDeadlineAt sets the absolute instant by which the request must
// complete; past it, a pending attempt or retry times out instead.
func WithDeadlineAt(at time.Time) SubmitOption {
	return func(o *submitOptions) { o.deadlineAt = at }
}

// WithDeadlineIn sets the request's deadline relative to submission
// time, resolved against the service's own clock.
func WithDeadlineIn(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.deadlineIn = d }
}

// WithEarliestStartAt sets the earliest instant the first attempt may
// begin. Used internally by SubmitWithEarliestDelayFor/Until; exported
// so callers building their own submit helpers can reuse it directly.
func WithEarliestStartAt(at time.Time) SubmitOption {
	return func(o *submitOptions) { o.earliestStart = at }
}
