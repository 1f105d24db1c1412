package engine

import (
	"time"

	"workrate/internal/event"
	"workrate/internal/session"
)

// focus handles every change of the focused surface, registered or not.
func (m *Machine) focus(now time.Time, ref event.SurfaceRef) {
	if m.blocked(ref) {
		m.fx.Blocked = append(m.fx.Blocked, ref)
	}

	m.transition(now, func(s *State) {
		prev := s.Registry.Active
		wasOn := s.Registry.OnRegistered
		isOn := s.Registry.setActive(ref)

		// Switching surfaces is input; any activity-idle stretch is over.
		s.Idle.ActivityIdle = false
		s.Idle.LastActivity = now

		if s.IsRunning {
			m.trackSwitch(s, now, prev, wasOn, isOn)
		}
	})
}

func (m *Machine) trackSwitch(s *State, now time.Time, prev event.SurfaceRef, wasOn, isOn bool) {
	switch {
	case isOn && !wasOn:
		m.closeOffTask(s, now)
	case isOn && wasOn && prev.ID != s.Registry.Active.ID:
		s.OffTask.Switches.Registered++
	case !isOn && wasOn:
		domain := s.Registry.Active.Domain()
		if domain == "" {
			domain = "unknown"
		}
		s.OffTask.Open = &OpenOffTask{Domain: domain, Start: now}
		s.OffTask.Switches.OffTask++
	}
}

// closeOffTask ends the open off-task excursion on return to a registered
// surface. Excursions no longer than the grace period are dropped as noise.
func (m *Machine) closeOffTask(s *State, now time.Time) {
	open := s.OffTask.Open
	if open == nil {
		return
	}
	s.OffTask.Open = nil
	dur := int64(now.Sub(open.Start) / time.Second)
	if dur <= int64(m.cfg.OffTaskGrace/time.Second) {
		return
	}
	s.OffTask.Events = append(s.OffTask.Events, session.OffTaskEvent{
		Domain:      open.Domain,
		StartMs:     open.Start.UnixMilli(),
		DurationSec: dur,
	})
}

// finishOffTask closes an excursion still open at stop, whatever its length.
func (s *State) finishOffTask(now time.Time) {
	open := s.OffTask.Open
	if open == nil {
		return
	}
	s.OffTask.Open = nil
	s.OffTask.Events = append(s.OffTask.Events, session.OffTaskEvent{
		Domain:      open.Domain,
		StartMs:     open.Start.UnixMilli(),
		DurationSec: max(int64(now.Sub(open.Start)/time.Second), 0),
	})
}
