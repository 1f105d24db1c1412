package engine

import (
	"log"
	"time"

	"workrate/internal/event"
)

func (r *Registry) IsRegistered(id string) bool {
	return r.index(id) >= 0
}

func (r *Registry) index(id string) int {
	if id == "" {
		return -1
	}
	for i, s := range r.Surfaces {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) validate(ref event.SurfaceRef) error {
	switch {
	case ref.Internal():
		return ErrInternalSurface
	case ref.ID == "" || ref.Domain() == "":
		return ErrInvalidSurface
	case r.IsRegistered(ref.ID):
		return ErrAlreadyRegistered
	}
	return nil
}

// add validates ref and appends it to the registry.
func (r *Registry) add(ref event.SurfaceRef, now time.Time) (RegisteredSurface, error) {
	if err := r.validate(ref); err != nil {
		return RegisteredSurface{}, err
	}
	domain := ref.Domain()
	title := ref.Title
	if title == "" {
		title = domain
	}
	rs := RegisteredSurface{
		ID:           ref.ID,
		URL:          ref.URL,
		Domain:       domain,
		Title:        title,
		RegisteredAt: now,
	}
	r.Surfaces = append(r.Surfaces, rs)
	return rs, nil
}

// remove drops id and reports whether it was the active surface.
func (r *Registry) remove(id string) (wasActive, ok bool) {
	i := r.index(id)
	if i < 0 {
		return false, false
	}
	r.Surfaces = append(r.Surfaces[:i], r.Surfaces[i+1:]...)
	return r.Active.ID == id, true
}

// setActive records the focused surface and returns whether it is registered.
func (r *Registry) setActive(ref event.SurfaceRef) bool {
	r.Active = ref
	r.OnRegistered = r.IsRegistered(ref.ID)
	return r.OnRegistered
}

func (m *Machine) register(now time.Time, ref event.SurfaceRef) error {
	if ref.IsZero() {
		if m.st.Registry.Active.IsZero() {
			return ErrNoActiveSurface
		}
		ref = m.st.Registry.Active
	}

	if err := m.st.Registry.validate(ref); err != nil {
		return err
	}

	var rs RegisteredSurface
	m.transition(now, func(s *State) {
		rs, _ = s.Registry.add(ref, now)
		wasOn := s.Registry.OnRegistered
		if s.Registry.setActive(s.Registry.Active) && !wasOn && s.IsRunning {
			m.closeOffTask(s, now)
		}
	})
	m.fx.Registered = &rs
	m.journal(now, event.EventTypeRegister, rs.Domain, 0, rs.ID, rs.Title)
	log.Printf("Registered surface %s (%s)", rs.Domain, rs.ID)
	return nil
}

func (m *Machine) unregister(now time.Time, id string) error {
	if !m.st.Registry.IsRegistered(id) {
		return ErrUnknownSurface
	}
	domain := m.st.Registry.Surfaces[m.st.Registry.index(id)].Domain
	m.transition(now, func(s *State) {
		if wasActive, _ := s.Registry.remove(id); wasActive {
			s.Registry.OnRegistered = false
		}
	})
	m.journal(now, event.EventTypeUnregister, domain, 0, id, "")
	return nil
}

// clearSurfaces forgets every registration. Like unregistering the focused
// surface, it pauses the clock without opening an off-task excursion.
func (m *Machine) clearSurfaces(now time.Time) {
	n := len(m.st.Registry.Surfaces)
	if n == 0 {
		return
	}
	m.transition(now, func(s *State) {
		s.Registry.Surfaces = nil
		s.Registry.OnRegistered = false
	})
	m.journal(now, event.EventTypeUnregister, "", float64(n), "", "cleared")
	log.Printf("Cleared %d registered surface(s)", n)
}

// surfaceClosed forgets a closed surface. Closing an unregistered surface
// only matters if it was the focused one.
func (m *Machine) surfaceClosed(now time.Time, id string) {
	registered := m.st.Registry.IsRegistered(id)
	active := m.st.Registry.Active.ID == id && id != ""
	if !registered && !active {
		return
	}
	m.transition(now, func(s *State) {
		s.Registry.remove(id)
		if active {
			s.Registry.Active = event.SurfaceRef{}
			s.Registry.OnRegistered = false
		}
	})
	if registered {
		m.journal(now, event.EventTypeUnregister, "", 0, id, "closed")
	}
}
