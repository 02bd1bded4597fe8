package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rrls/rrls/internal/clock"
	"github.com/rrls/rrls/internal/config"
	"github.com/rrls/rrls/internal/entry"
)

func newEntry(payload any) *entry.Entry {
	return entry.New(payload, time.Time{}, time.Time{}, time.Time{}, config.Config{})
}

func TestDispatch_ReportsSuccess(t *testing.T) {
	outcomes := make(chan Outcome, 1)
	p := New(Config{
		MaxWorkers: 2,
		Process:    func(ctx context.Context, payload any, attempt int) (any, error) { return payload.(int) * 2, nil },
		OnOutcome:  func(e *entry.Entry, attempt int, o Outcome) { outcomes <- o },
		Clock:      clock.New(),
	})

	if err := p.ReserveSlot(context.Background()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p.Dispatch(newEntry(21), 1)

	select {
	case o := <-outcomes:
		if o.Err != nil || o.Value != 42 {
			t.Fatalf("expected value=42 err=nil, got value=%v err=%v", o.Value, o.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatch never reported an outcome")
	}
}

func TestDispatch_ReportsFailure(t *testing.T) {
	outcomes := make(chan Outcome, 1)
	boom := errors.New("boom")
	p := New(Config{
		MaxWorkers: 1,
		Process:    func(ctx context.Context, payload any, attempt int) (any, error) { return nil, boom },
		OnOutcome:  func(e *entry.Entry, attempt int, o Outcome) { outcomes <- o },
		Clock:      clock.New(),
	})

	if err := p.ReserveSlot(context.Background()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p.Dispatch(newEntry(1), 1)

	o := <-outcomes
	if !errors.Is(o.Err, boom) {
		t.Fatalf("expected boom, got %v", o.Err)
	}
}

func TestReserveSlot_BoundsConcurrency(t *testing.T) {
	var active, maxSeen int32
	var mu sync.Mutex
	release := make(chan struct{})

	p := New(Config{
		MaxWorkers: 2,
		Process: func(ctx context.Context, payload any, attempt int) (any, error) {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			<-release
			mu.Lock()
			active--
			mu.Unlock()
			return nil, nil
		},
		OnOutcome: func(*entry.Entry, int, Outcome) {},
		Clock:     clock.New(),
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := p.ReserveSlot(ctx)
		cancel()
		if i < 2 && err != nil {
			t.Fatalf("expected slot %d to be reserved, got %v", i, err)
		}
		if i == 2 && err == nil {
			t.Fatal("expected third reservation to block past MaxWorkers")
		}
		if err == nil {
			p.Dispatch(newEntry(i), 1)
		}
	}
	close(release)
	p.Wait()
}

func TestInterrupt_CancelsInFlightAttempt(t *testing.T) {
	started := make(chan struct{})
	outcomes := make(chan Outcome, 1)

	p := New(Config{
		MaxWorkers: 1,
		Process: func(ctx context.Context, payload any, attempt int) (any, error) {
			close(started)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
		OnOutcome: func(e *entry.Entry, attempt int, o Outcome) { outcomes <- o },
		Clock:     clock.New(),
	})

	if err := p.ReserveSlot(context.Background()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	e := newEntry(1)
	p.Dispatch(e, 1)
	<-started
	p.Interrupt(e.ID)

	select {
	case o := <-outcomes:
		if !o.Interrupted {
			t.Fatal("expected outcome to be marked interrupted")
		}
	case <-time.After(time.Second):
		t.Fatal("interrupted attempt never reported its outcome")
	}
}

func TestInterruptAll_CancelsEveryInFlightAttempt(t *testing.T) {
	started := make(chan struct{}, 2)
	outcomes := make(chan Outcome, 2)

	p := New(Config{
		MaxWorkers: 2,
		Process: func(ctx context.Context, payload any, attempt int) (any, error) {
			started <- struct{}{}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
		OnOutcome: func(e *entry.Entry, attempt int, o Outcome) { outcomes <- o },
		Clock:     clock.New(),
	})

	for i := 0; i < 2; i++ {
		if err := p.ReserveSlot(context.Background()); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		p.Dispatch(newEntry(i), 1)
	}
	<-started
	<-started
	p.InterruptAll()

	for i := 0; i < 2; i++ {
		select {
		case o := <-outcomes:
			if !o.Interrupted {
				t.Fatal("expected outcome to be marked interrupted")
			}
		case <-time.After(time.Second):
			t.Fatal("an interrupted attempt never reported its outcome")
		}
	}
}
