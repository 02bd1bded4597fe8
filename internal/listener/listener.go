// Package listener defines the side-channel lifecycle reporting hook.
package listener

import "github.com/rs/zerolog"

// EventListener receives best-effort, synchronous notification of
// lifecycle events. Implementations must not block materially; a
// panicking or slow listener never stalls the service, see Safe.
type EventListener interface {
	Submitted(entryID string)
	Admitted(entryID string)
	DelayScheduled(entryID string, releaseAt string)
	AttemptStarted(entryID string, attempt int)
	AttemptSucceeded(entryID string, attempt int)
	AttemptFailed(entryID string, attempt int, err error)
	FinalSuccess(entryID string)
	FinalFailure(entryID string, err error)
	FinalTimeout(entryID string)
	Cancelled(entryID string)
	RejectedTooManyPending(entryID string)
}

// NoOp implements EventListener with empty methods; it is the default
// when the caller supplies none.
type NoOp struct{}

func (NoOp) Submitted(string)                     {}
func (NoOp) Admitted(string)                      {}
func (NoOp) DelayScheduled(string, string)         {}
func (NoOp) AttemptStarted(string, int)           {}
func (NoOp) AttemptSucceeded(string, int)         {}
func (NoOp) AttemptFailed(string, int, error)     {}
func (NoOp) FinalSuccess(string)                  {}
func (NoOp) FinalFailure(string, error)           {}
func (NoOp) FinalTimeout(string)                  {}
func (NoOp) Cancelled(string)                     {}
func (NoOp) RejectedTooManyPending(string)        {}

var _ EventListener = NoOp{}

// Safe wraps an EventListener so a panic from any method is recovered
// and logged rather than crashing the calling goroutine (dispatcher,
// worker, delay-queue shard, or outcome handler).
type Safe struct {
	Inner EventListener
	Log   zerolog.Logger
}

func (s Safe) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Str("listener_method", name).Interface("panic", r).Msg("event listener panicked")
		}
	}()
	fn()
}

func (s Safe) Submitted(id string) { s.invoke("Submitted", func() { s.Inner.Submitted(id) }) }
func (s Safe) Admitted(id string)  { s.invoke("Admitted", func() { s.Inner.Admitted(id) }) }
func (s Safe) DelayScheduled(id, releaseAt string) {
	s.invoke("DelayScheduled", func() { s.Inner.DelayScheduled(id, releaseAt) })
}
func (s Safe) AttemptStarted(id string, attempt int) {
	s.invoke("AttemptStarted", func() { s.Inner.AttemptStarted(id, attempt) })
}
func (s Safe) AttemptSucceeded(id string, attempt int) {
	s.invoke("AttemptSucceeded", func() { s.Inner.AttemptSucceeded(id, attempt) })
}
func (s Safe) AttemptFailed(id string, attempt int, err error) {
	s.invoke("AttemptFailed", func() { s.Inner.AttemptFailed(id, attempt, err) })
}
func (s Safe) FinalSuccess(id string) { s.invoke("FinalSuccess", func() { s.Inner.FinalSuccess(id) }) }
func (s Safe) FinalFailure(id string, err error) {
	s.invoke("FinalFailure", func() { s.Inner.FinalFailure(id, err) })
}
func (s Safe) FinalTimeout(id string) { s.invoke("FinalTimeout", func() { s.Inner.FinalTimeout(id) }) }
func (s Safe) Cancelled(id string)    { s.invoke("Cancelled", func() { s.Inner.Cancelled(id) }) }
func (s Safe) RejectedTooManyPending(id string) {
	s.invoke("RejectedTooManyPending", func() { s.Inner.RejectedTooManyPending(id) })
}

var _ EventListener = Safe{}
