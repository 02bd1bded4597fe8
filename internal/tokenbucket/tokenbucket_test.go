package tokenbucket

import (
	"context"
	"testing"
	"time"

	"github.com/rrls/rrls/internal/clock"
)

func TestTryAcquire_SucceedsWithinCapacity(t *testing.T) {
	b := New(2, 2, 100*time.Millisecond, clock.New())
	defer b.Stop()

	if !b.TryAcquire(2) {
		t.Fatal("expected TryAcquire(2) to succeed against full bucket")
	}
	if b.TryAcquire(1) {
		t.Fatal("expected TryAcquire(1) to fail against drained bucket")
	}
}

func TestAcquire_GrantsAfterRefill(t *testing.T) {
	mock := clock.NewMock()
	b := New(1, 1, 50*time.Millisecond, mock)
	defer b.Stop()

	if err := b.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Acquire(context.Background(), 1) }()

	// Give the goroutine a chance to enqueue, then advance the clock
	// past one refill interval so the background loop grants it.
	time.Sleep(20 * time.Millisecond)
	mock.Add(60 * time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after refill")
	}
}

func TestAcquire_FIFOOrdering(t *testing.T) {
	mock := clock.NewMock()
	b := New(1, 1, 20*time.Millisecond, mock)
	defer b.Stop()

	if err := b.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("drain: %v", err)
	}

	order := make(chan int, 2)
	go func() {
		_ = b.Acquire(context.Background(), 1)
		order <- 1
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		_ = b.Acquire(context.Background(), 1)
		order <- 2
	}()
	time.Sleep(10 * time.Millisecond)

	mock.Add(25 * time.Millisecond)
	first := <-order
	if first != 1 {
		t.Fatalf("expected waiter 1 granted first, got %d", first)
	}
	mock.Add(25 * time.Millisecond)
	second := <-order
	if second != 2 {
		t.Fatalf("expected waiter 2 granted second, got %d", second)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	b := New(0, 1, time.Hour, clock.New())
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Acquire(ctx, 1) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}
}

func TestAcquire_DeadlineExceeded(t *testing.T) {
	b := New(0, 1, time.Hour, clock.New())
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx, 1)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestEstimateAvailable(t *testing.T) {
	b := New(5, 1, time.Hour, clock.New())
	defer b.Stop()
	if got := b.EstimateAvailable(); got != 5 {
		t.Fatalf("expected 5 available, got %d", got)
	}
}
