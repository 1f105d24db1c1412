package engine

import (
	"time"

	"workrate/internal/event"
)

// transition is the only path that changes the classification of time. It
// commits the open window under the old classification up to at, applies
// mutate, then re-derives ClockRunning and PauseReason from the flags.
func (m *Machine) transition(at time.Time, mutate func(s *State)) {
	m.flush(at)
	mutate(&m.st)
	m.recompute(at)
	m.fx.Changed = true
}

func (s *State) shouldRun() bool {
	return s.IsRunning && s.Registry.OnRegistered && !s.Idle.SystemIdle && !s.Idle.ActivityIdle
}

func (s *State) derivePause() PauseReason {
	switch {
	case !s.IsRunning || s.shouldRun():
		return PauseNone
	case s.Idle.SystemIdle:
		return PauseIdleSystem
	case s.Idle.ActivityIdle:
		return PauseIdleActivity
	default:
		return PauseOffSurface
	}
}

func (m *Machine) recompute(at time.Time) {
	s := &m.st
	running, reason := s.shouldRun(), s.derivePause()
	if running == s.ClockRunning && reason == s.PauseReason {
		return
	}
	s.ClockRunning = running
	s.PauseReason = reason
	if !s.IsRunning {
		return
	}
	m.fx.Transitions = append(m.fx.Transitions, Transition{At: at, Running: running, Reason: reason})
	tag := "running"
	if !running {
		tag = string(reason)
	}
	m.journal(at, event.EventTypeClockChange, s.Registry.Active.Domain(), float64(s.Buckets.VerifiedSec), tag, "")
}
