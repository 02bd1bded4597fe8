// Package control implements the service lifecycle state machine and
// the immutable ControlState value every blocking wait point consults.
package control

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Phase is the coarse lifecycle the service moves through.
type Phase int32

const (
	NotStarted Phase = iota
	Running
	ShutdownInProgress
	ShutdownDone
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case ShutdownInProgress:
		return "SHUTDOWN_IN_PROGRESS"
	case ShutdownDone:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// State is the immutable value describing what the service is
// currently allowed/required to do. A new State replaces the old one
// wholesale via an atomic swap; readers always see a consistent
// snapshot, never a partially-updated one.
type State struct {
	Description string

	AcceptingSubmissions bool
	HonorDelays          bool
	HonorRetryDelays     bool
	WaitForTickets       bool
	LimitTicketWait      bool
	LimitWorkerWait      bool
	TimeoutAfterFailedAttempt bool
	TimeoutAllPending    bool

	// SpooldownDeadline is an absolute timestamp, or the zero Time
	// when there is none.
	SpooldownDeadline time.Time
}

// runningState is the State in force from start() until shutdown().
var runningState = State{
	Description:          "running",
	AcceptingSubmissions:  true,
	HonorDelays:           true,
	HonorRetryDelays:      true,
	WaitForTickets:        true,
}

// Policy carries the caller's shutdown intent (shortcut
// flags). An explicit State, if supplied via Service.ShutdownWithState,
// replaces the shortcuts wholesale rather than composing with them
// (see DESIGN.md, "Open Question decisions").
type Policy struct {
	IgnoreDelays        bool // → HonorDelays=false, HonorRetryDelays=false
	FailAfterAttempt    bool // → TimeoutAfterFailedAttempt=true
	TimeoutAllImmediately bool // → TimeoutAllPending=true

	// Explicit, if non-nil, wholesale-replaces the State the shortcut
	// flags above would otherwise have produced.
	Explicit *State
}

// Resolve turns a Policy plus a wait budget into the State the
// machine will install for the shutdown phase.
func (p Policy) Resolve(budget time.Duration, now time.Time) State {
	if p.Explicit != nil {
		s := *p.Explicit
		if s.Description == "" {
			s.Description = "shutting down (explicit state)"
		}
		return s
	}
	s := State{
		Description:               "shutting down",
		AcceptingSubmissions:      false,
		HonorDelays:               !p.IgnoreDelays,
		HonorRetryDelays:          !p.IgnoreDelays,
		WaitForTickets:            true,
		LimitTicketWait:           true,
		LimitWorkerWait:           true,
		TimeoutAfterFailedAttempt: p.FailAfterAttempt,
		TimeoutAllPending:        p.TimeoutAllImmediately,
	}
	if budget > 0 {
		s.SpooldownDeadline = now.Add(budget)
	}
	return s
}

// Machine is the atomically-swapped lifecycle + control state pair.
type Machine struct {
	phase int32 // atomic Phase
	state atomic.Pointer[State]
}

// New constructs a Machine in NotStarted phase.
func New() *Machine {
	m := &Machine{}
	s := State{Description: "not started"}
	m.state.Store(&s)
	return m
}

// Snapshot returns the current ControlState. Safe for concurrent use,
// lock-free.
func (m *Machine) Snapshot() State { return *m.state.Load() }

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase { return Phase(atomic.LoadInt32(&m.phase)) }

// Start transitions NotStarted → Running. Any other starting phase is
// rejected.
func (m *Machine) Start() error {
	if !atomic.CompareAndSwapInt32(&m.phase, int32(NotStarted), int32(Running)) {
		return fmt.Errorf("control: not in NOT_STARTED state")
	}
	s := runningState
	m.state.Store(&s)
	return nil
}

// BeginShutdown transitions Running → ShutdownInProgress and installs
// the State the policy resolves to. Returns false if the machine was
// not Running (shutting down twice, or shutting down before start, is
// reported by the caller as AlreadyShutDown/NotStarted).
func (m *Machine) BeginShutdown(policy Policy, budget time.Duration, now time.Time) bool {
	if !atomic.CompareAndSwapInt32(&m.phase, int32(Running), int32(ShutdownInProgress)) {
		return false
	}
	s := policy.Resolve(budget, now)
	m.state.Store(&s)
	return true
}

// FinishShutdown transitions ShutdownInProgress → ShutdownDone. Safe
// to call more than once; only the first call has effect.
func (m *Machine) FinishShutdown() {
	if atomic.CompareAndSwapInt32(&m.phase, int32(ShutdownInProgress), int32(ShutdownDone)) {
		s := State{Description: "shut down"}
		m.state.Store(&s)
	}
}
