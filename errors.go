package rrls

import "github.com/rrls/rrls/internal/rrlerrors"

// Re-exported so callers can use errors.Is/As against package rrls
// without importing internal/rrlerrors directly.
var (
	ErrNotStarted             = rrlerrors.ErrNotStarted
	ErrBeingShutDown          = rrlerrors.ErrBeingShutDown
	ErrAlreadyShutDown        = rrlerrors.ErrAlreadyShutDown
	ErrTooManyPendingRequests = rrlerrors.ErrTooManyPendingRequests
	ErrCancelled              = rrlerrors.ErrCancelled
	ErrWaitTimeout            = rrlerrors.ErrWaitTimeout
)

type (
	// ExecutionFailure is the final-outcome error when attempts
	// exhaust without success.
	ExecutionFailure = rrlerrors.ExecutionFailure
	// Timeout is the final-outcome error when a request's deadline
	// passes, or a shutdown policy forces it, without success.
	Timeout = rrlerrors.Timeout
	// Classified wraps an attempt error with its retry category.
	Classified = rrlerrors.Classified
	// Category decides whether a Classified error is eligible for retry.
	Category = rrlerrors.Category
)

const (
	Recoverable   = rrlerrors.Recoverable
	Irrecoverable = rrlerrors.Irrecoverable
)

// IsIrrecoverable reports whether err, if classified, demands
// immediate failure rather than a retry.
func IsIrrecoverable(err error) bool { return rrlerrors.IsIrrecoverable(err) }

// Classify wraps a raw processing-function error as Recoverable
// unless it is already a Classified error.
func Classify(err error) error { return rrlerrors.Classify(err) }
