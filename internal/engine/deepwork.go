package engine

import (
	"strings"

	"workrate/internal/event"
)

// NormalizeDomains lowercases the domains, drops a leading "www." and
// skips blanks, the form the block list is matched in.
func NormalizeDomains(list []string) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (m *Machine) effectiveBlockList() []string {
	if m.st.BlockList != nil {
		return m.st.BlockList
	}
	return m.cfg.DefaultBlockList
}

// blocked reports whether deep work is on and ref's domain is, or is a
// subdomain of, a blocked domain.
func (m *Machine) blocked(ref event.SurfaceRef) bool {
	if !m.st.DeepWork {
		return false
	}
	domain := ref.Domain()
	if domain == "" {
		return false
	}
	for _, b := range m.effectiveBlockList() {
		if domain == b || strings.HasSuffix(domain, "."+b) {
			return true
		}
	}
	return false
}

func (m *Machine) setDeepWork(in SetDeepWork) {
	s := &m.st
	s.DeepWork = in.Enabled
	if list := NormalizeDomains(in.BlockList); len(list) > 0 {
		s.BlockList = list
	} else if !in.Enabled {
		s.BlockList = nil
	}
	m.fx.Changed = true

	if in.Enabled && m.blocked(s.Registry.Active) {
		m.fx.Blocked = append(m.fx.Blocked, s.Registry.Active)
	}
}
