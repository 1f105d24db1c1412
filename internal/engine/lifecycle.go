package engine

import (
	"fmt"
	"log"
	"strings"
	"time"

	"workrate/internal/event"
	"workrate/internal/quality"
	"workrate/internal/session"
)

func (m *Machine) start(now time.Time, in StartSession) error {
	if m.st.IsRunning {
		return ErrSessionRunning
	}
	if len(m.st.Registry.Surfaces) == 0 {
		return ErrNoSurfaces
	}

	id := m.cfg.NewID()
	m.transition(now, func(s *State) {
		s.IsRunning = true
		s.SessionID = id
		s.SessionStart = now
		s.Task = in.Task
		s.Client = in.Client
		s.Tags = append([]string(nil), in.Tags...)

		s.WindowStart = now
		s.LastHeartbeat = now
		s.Buckets = session.Buckets{}
		s.OffTask = OffTaskLog{}
		s.Heatmap = nil
		s.PeakActivity = 0
		s.Adjustments = nil
		// Starting a session is itself input.
		s.Idle = IdleFlags{LastActivity: now}

		s.Registry.setActive(s.Registry.Active)
	})
	m.journal(now, event.EventTypeSessionStart, m.st.Registry.Active.Domain(), 0, in.Task, in.Client)
	log.Printf("Session started: %q with %d registered surface(s)", in.Task, len(m.st.Registry.Surfaces))
	return nil
}

func (m *Machine) stop(now time.Time) error {
	if !m.st.IsRunning {
		return ErrNotRunning
	}
	m.flush(now)
	m.st.finishOffTask(now)

	sess := m.complete(now)
	m.fx.Completed = &sess
	m.fx.Notify = &event.Notification{
		Title:   "Session complete — WorkRate",
		Message: fmt.Sprintf("%s · %s verified · WQI %d", sess.Task, session.FormatDuration(sess.VerifiedSec), sess.Score),
	}
	m.journal(now, event.EventTypeSessionStop, "", float64(sess.VerifiedSec), fmt.Sprintf("wqi=%d", sess.Score), sess.Task)

	log.Printf("Session stopped. Verified: %ds | Off-task: %ds | Idle: %ds | WQI: %d",
		sess.VerifiedSec, sess.OffTaskSec, sess.IdleSec, sess.Score)

	m.reset(now)
	return nil
}

func (m *Machine) toggle(now time.Time, in ToggleSession) error {
	if m.st.IsRunning {
		return m.stop(now)
	}
	start := StartSession{Task: in.Task, Client: in.Client}
	if start.Task == "" {
		start.Task, start.Client = m.st.LastTask, m.st.LastClient
	}
	if start.Task == "" {
		start.Task = "Quick session"
	}
	return m.start(now, start)
}

// complete builds the session record from the flushed state.
func (m *Machine) complete(now time.Time) session.Session {
	s := &m.st
	b := s.Buckets
	total := b.Wall()
	switches := s.OffTask.Switches

	surfaces := make([]session.Surface, 0, len(s.Registry.Surfaces))
	for _, rs := range s.Registry.Surfaces {
		surfaces = append(surfaces, session.Surface{Domain: rs.Domain, Title: rs.Title})
	}

	c := s.clone()
	return session.Session{
		ID:            s.SessionID,
		Task:          s.Task,
		Client:        s.Client,
		Tags:          c.Tags,
		Start:         s.SessionStart,
		End:           now,
		WallSec:       roundSeconds(now.Sub(s.SessionStart)),
		Buckets:       b,
		VerifiedPct:   session.Percent(b.VerifiedSec, total),
		OffTaskPct:    session.Percent(b.OffTaskSec, total),
		IdlePct:       session.Percent(b.IdleSec, total),
		FocusPct:      int(quality.FocusRatio(b.VerifiedSec, b.OffTaskSec)*100 + 0.5),
		Score:         m.cfg.Scorer.Score(b.VerifiedSec, b.OffTaskSec, switches.OffTask),
		Switches:      switches,
		Surfaces:      surfaces,
		OffTaskEvents: c.OffTask.Events,
		Heatmap:       c.Heatmap,
		Adjustments:   c.Adjustments,
	}
}

// reset returns to the stopped state, keeping the registry, focus and deep
// work settings.
func (m *Machine) reset(now time.Time) {
	prev := m.st
	m.st = State{
		Registry:   prev.Registry,
		DeepWork:   prev.DeepWork,
		BlockList:  prev.BlockList,
		Idle:       IdleFlags{LastActivity: now},
		LastTask:   prev.Task,
		LastClient: prev.Client,
	}
	m.recompute(now)
	m.fx.Changed = true
}

func (m *Machine) adjust(now time.Time, in AdjustTime) error {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ErrReasonRequired
	}
	if !m.st.IsRunning {
		return ErrNotRunning
	}
	target := max(in.NewVerifiedSec, 0)

	if n := len(m.st.Adjustments); n > 0 {
		last := m.st.Adjustments[n-1]
		if last.AdjustedSec == target && last.Reason == reason && m.st.Buckets.VerifiedSec == target {
			return ErrDuplicateAdjustment
		}
	}

	m.flush(now)
	original := m.st.Buckets.VerifiedSec
	m.st.Buckets.VerifiedSec = target
	m.st.Adjustments = append(m.st.Adjustments, session.Adjustment{
		OriginalSec: original,
		AdjustedSec: target,
		Reason:      reason,
		Timestamp:   now,
	})
	m.fx.Changed = true
	m.journal(now, event.EventTypeAdjustment, "", float64(target), "", reason)
	return nil
}

func (m *Machine) updateTask(in UpdateTask) error {
	if !m.st.IsRunning {
		return ErrNotRunning
	}
	if in.Task != nil {
		m.st.Task = *in.Task
	}
	if in.Client != nil {
		m.st.Client = *in.Client
	}
	if in.Tags != nil {
		m.st.Tags = append([]string(nil), in.Tags...)
	}
	m.fx.Changed = true
	return nil
}
