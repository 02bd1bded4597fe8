package entry

import (
	"testing"
	"time"

	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/rrlerrors"
)

func testCfg() config.Config {
	return config.Config{
		MaxAttempts:        3,
		DelaysAfterFailure: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
	}
}

func TestNew_DefaultsEarliestStartToCreatedAt(t *testing.T) {
	now := time.Now()
	e := New(1, now, time.Time{}, time.Time{}, testCfg())
	if !e.EarliestStart.Equal(now) {
		t.Fatalf("expected EarliestStart %v, got %v", now, e.EarliestStart)
	}
	if e.State() != PendingDelay {
		t.Fatalf("expected initial state PendingDelay, got %v", e.State())
	}
}

func TestDelayFor_ClampsIndexAndCapsAtDeadline(t *testing.T) {
	now := time.Now()
	e := New(1, now, now.Add(15*time.Millisecond), time.Time{}, testCfg())

	if d := e.DelayFor(2, now); d != 15*time.Millisecond {
		t.Fatalf("expected delay capped to deadline (15ms), got %v", d)
	}

	e2 := New(1, now, time.Time{}, time.Time{}, testCfg())
	if d := e2.DelayFor(5, now); d != 20*time.Millisecond {
		t.Fatalf("expected delay clamped to last schedule entry (20ms), got %v", d)
	}
}

func TestExpired_TrueOnlyPastDeadline(t *testing.T) {
	now := time.Now()
	e := New(1, now, now.Add(time.Millisecond), time.Time{}, testCfg())
	if e.Expired(now) {
		t.Fatal("should not be expired before deadline")
	}
	if !e.Expired(now.Add(2 * time.Millisecond)) {
		t.Fatal("should be expired after deadline")
	}

	noDeadline := New(1, now, time.Time{}, time.Time{}, testCfg())
	if noDeadline.Expired(now.Add(time.Hour)) {
		t.Fatal("zero deadline should never expire")
	}
}

func TestNextAttempt_IncrementsMonotonically(t *testing.T) {
	e := New(1, time.Now(), time.Time{}, time.Time{}, testCfg())
	if a := e.NextAttempt(); a != 1 {
		t.Fatalf("expected first attempt 1, got %d", a)
	}
	if a := e.NextAttempt(); a != 2 {
		t.Fatalf("expected second attempt 2, got %d", a)
	}
	if e.AttemptNumber() != 2 {
		t.Fatalf("expected AttemptNumber 2, got %d", e.AttemptNumber())
	}
}

func TestFuture_CompleteIsOnceOnly(t *testing.T) {
	e := New(1, time.Now(), time.Time{}, time.Time{}, testCfg())
	f := e.Future()

	Complete(f, "first", nil)
	Complete(f, "second", rrlerrors.ErrCancelled)

	v, err := f.Get(time.Second)
	if err != nil || v != "first" {
		t.Fatalf("expected first completion to win, got (%v, %v)", v, err)
	}
	if e.State() != Completed {
		t.Fatalf("expected entry state Completed, got %v", e.State())
	}
}

func TestFuture_RequestCancelSetsFlagWithoutCompleting(t *testing.T) {
	e := New(1, time.Now(), time.Time{}, time.Time{}, testCfg())
	f := e.Future()

	f.RequestCancel()
	if !e.CancelRequested() {
		t.Fatal("expected CancelRequested to be true")
	}
	if f.IsDone() {
		t.Fatal("RequestCancel must not complete the future by itself")
	}
}

func TestFuture_GetTimesOutWhilePending(t *testing.T) {
	e := New(1, time.Now(), time.Time{}, time.Time{}, testCfg())
	f := e.Future()

	_, err := f.Get(10 * time.Millisecond)
	if err != rrlerrors.ErrWaitTimeout {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}

	v, err := f.GetOrNull(10 * time.Millisecond)
	if err != nil || v != nil {
		t.Fatalf("expected (nil, nil) from GetOrNull on timeout, got (%v, %v)", v, err)
	}
}

func TestFuture_IsCancelledReflectsCancelledCompletion(t *testing.T) {
	e := New(1, time.Now(), time.Time{}, time.Time{}, testCfg())
	f := e.Future()

	Complete(f, nil, rrlerrors.ErrCancelled)
	if !f.IsCancelled() {
		t.Fatal("expected IsCancelled true after cancelled completion")
	}
	if f.IsSuccessful() {
		t.Fatal("a cancelled completion is not successful")
	}
}
