package control

import (
	"testing"
	"time"
)

func TestNew_StartsInNotStartedPhase(t *testing.T) {
	m := New()
	if m.Phase() != NotStarted {
		t.Fatalf("expected NotStarted, got %v", m.Phase())
	}
	if m.Snapshot().AcceptingSubmissions {
		t.Fatal("should not accept submissions before Start")
	}
}

func TestStart_InstallsRunningStateOnce(t *testing.T) {
	m := New()
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Phase() != Running {
		t.Fatalf("expected Running, got %v", m.Phase())
	}
	if !m.Snapshot().AcceptingSubmissions {
		t.Fatal("expected AcceptingSubmissions true after Start")
	}
	if err := m.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestBeginShutdown_RequiresRunningPhase(t *testing.T) {
	m := New()
	if m.BeginShutdown(Policy{}, 0, time.Now()) {
		t.Fatal("expected BeginShutdown to fail before Start")
	}
	m.Start()
	if !m.BeginShutdown(Policy{}, 0, time.Now()) {
		t.Fatal("expected BeginShutdown to succeed from Running")
	}
	if m.Phase() != ShutdownInProgress {
		t.Fatalf("expected ShutdownInProgress, got %v", m.Phase())
	}
	if m.BeginShutdown(Policy{}, 0, time.Now()) {
		t.Fatal("expected a second BeginShutdown to fail")
	}
}

func TestPolicyResolve_IgnoreDelaysDisablesHonorFlags(t *testing.T) {
	now := time.Now()
	p := Policy{IgnoreDelays: true}
	s := p.Resolve(0, now)
	if s.HonorDelays || s.HonorRetryDelays {
		t.Fatal("expected IgnoreDelays to disable both honor flags")
	}
	if s.AcceptingSubmissions {
		t.Fatal("shutdown state must not accept submissions")
	}
}

func TestPolicyResolve_BudgetSetsSpooldownDeadline(t *testing.T) {
	now := time.Now()
	p := Policy{}
	s := p.Resolve(5*time.Second, now)
	if s.SpooldownDeadline.IsZero() {
		t.Fatal("expected a non-zero spooldown deadline")
	}
	if !s.SpooldownDeadline.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("expected deadline %v, got %v", now.Add(5*time.Second), s.SpooldownDeadline)
	}
}

func TestPolicyResolve_ExplicitStateReplacesShortcuts(t *testing.T) {
	explicit := State{Description: "custom", AcceptingSubmissions: true}
	p := Policy{IgnoreDelays: true, Explicit: &explicit}
	s := p.Resolve(time.Second, time.Now())
	if !s.AcceptingSubmissions {
		t.Fatal("expected explicit state to win over shortcut flags")
	}
	if s.Description != "custom" {
		t.Fatalf("expected explicit description to survive, got %q", s.Description)
	}
}

func TestFinishShutdown_OnlyEffectiveOnce(t *testing.T) {
	m := New()
	m.Start()
	m.BeginShutdown(Policy{}, 0, time.Now())
	m.FinishShutdown()
	if m.Phase() != ShutdownDone {
		t.Fatalf("expected ShutdownDone, got %v", m.Phase())
	}
	first := m.Snapshot()
	m.FinishShutdown()
	second := m.Snapshot()
	if first.Description != second.Description {
		t.Fatal("a second FinishShutdown must not replace the installed state")
	}
}
