package engine

import (
	"log"
	"time"

	"workrate/internal/event"
)

// systemIdle follows the host's idle detector. System idle supersedes
// activity idle so the same stretch is never counted by both.
func (m *Machine) systemIdle(now time.Time, state event.IdleState) {
	switch state {
	case event.IdleIdle, event.IdleLocked:
		m.transition(now, func(s *State) {
			s.Idle.SystemIdle = true
			s.Idle.ActivityIdle = false
			s.Idle.Recovered = false
		})
	case event.IdleActive:
		m.transition(now, func(s *State) {
			s.Idle.SystemIdle = false
			s.Idle.ActivityIdle = false
			s.Idle.Recovered = false
			s.Idle.LastActivity = now
		})
	default:
		log.Printf("Warning: ignoring unknown idle state %q", state)
	}
}

// checkActivityIdle pauses the clock once the registered surface has gone
// quiet for the threshold. The pause takes effect when the threshold was
// crossed, not when the heartbeat noticed it.
func (m *Machine) checkActivityIdle(now time.Time) {
	s := &m.st
	if !s.ClockRunning || !s.Registry.OnRegistered || s.Idle.SystemIdle || s.Idle.LastActivity.IsZero() {
		return
	}
	idleAt := s.Idle.LastActivity.Add(m.cfg.ActivityIdle)
	if now.Before(idleAt) {
		return
	}
	if idleAt.Before(s.WindowStart) {
		idleAt = s.WindowStart
	}
	m.transition(idleAt, func(s *State) {
		s.Idle.ActivityIdle = true
	})
	log.Printf("Activity idle since %s", idleAt.Format(time.Kitchen))
}

func (m *Machine) fromRegistered(in ActivitySignal) bool {
	r := &m.st.Registry
	if in.SurfaceID != "" {
		return r.IsRegistered(in.SurfaceID)
	}
	if in.Domain == "" {
		return false
	}
	for _, s := range r.Surfaces {
		if s.Domain == in.Domain {
			return true
		}
	}
	return false
}

// activity handles an aggregate intensity ping from a content surface.
// Only pings from registered surfaces count.
func (m *Machine) activity(now time.Time, in ActivitySignal) {
	if !m.st.IsRunning || !m.fromRegistered(in) {
		return
	}
	intensity := min(max(in.Intensity, 0), 100)
	m.transition(now, func(s *State) {
		s.Idle.LastActivity = now
		s.Idle.ActivityIdle = false
		if s.Idle.Recovered {
			s.Idle.SystemIdle = false
			s.Idle.Recovered = false
		}
		s.PeakActivity = max(s.PeakActivity, intensity)
	})
}
