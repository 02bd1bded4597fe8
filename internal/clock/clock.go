// Package clock provides the single time source RRLS schedules against.
//
// Deadlines and earliest-start timestamps are absolute wall-clock values
// for caller convenience, but every internal comparison goes through a
// Clock so tests can substitute a virtual clock instead of sleeping.
package clock

import "github.com/benbjohnson/clock"

// Clock is the time source every scheduling component depends on.
// It is satisfied by both the real clock and a mock clock in tests.
type Clock = clock.Clock

// Mock is a controllable clock for deterministic scheduling tests.
type Mock = clock.Mock

// New returns the real, wall-clock-backed Clock.
func New() Clock { return clock.New() }

// NewMock returns a virtual clock frozen at an arbitrary epoch; advance it
// with Mock.Add or Mock.Set from test goroutines.
func NewMock() *Mock { return clock.NewMock() }
