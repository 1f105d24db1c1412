package collector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"workrate/internal/event"
)

// Collector samples the desktop and pushes focus and idle signals. Its
// first sample is sent as soon as Start runs, which seeds the engine's
// focus without a separate query.
type Collector interface {
	Start(ctx context.Context, interval time.Duration, output chan<- event.Signal) error
	Stop() error
}

// Window is the focused top-level window as seen by a collector. ID 0 means
// nothing has focus.
type Window struct {
	ID    uint32
	Class string
	Title string
}

var unsafeHost = regexp.MustCompile(`[^a-z0-9.-]+`)

// Surface maps a window to a surface the engine can register. Windows of
// the same application share a domain, app://<class>.
func (w Window) Surface() event.SurfaceRef {
	class := unsafeHost.ReplaceAllString(strings.ToLower(strings.TrimSpace(w.Class)), "-")
	class = strings.Trim(class, "-")
	if class == "" {
		class = "unknown"
	}
	return event.SurfaceRef{
		ID:    fmt.Sprintf("x11:%d", w.ID),
		URL:   "app://" + class,
		Title: w.Title,
	}
}

// Tracker turns periodic samples into edge-triggered signals: one focus
// signal per window change and one idle signal per threshold crossing.
// A Tracker with no threshold reports focus only, leaving system idle to
// other sources.
type Tracker struct {
	idleAfter time.Duration
	started   bool
	last      Window
	idle      bool
}

func NewTracker(idleAfter time.Duration) *Tracker {
	return &Tracker{idleAfter: idleAfter}
}

// Observe takes one sample. The first sample always reports the current
// focus and idle state.
func (t *Tracker) Observe(now time.Time, w Window, sinceInput time.Duration) []event.Signal {
	var out []event.Signal

	focusChanged := !t.started || w.ID != t.last.ID || w.Class != t.last.Class
	if focusChanged && w.ID != 0 {
		out = append(out, event.Signal{Kind: event.SignalFocus, At: now, Surface: w.Surface()})
	}
	if focusChanged {
		t.last = w
	}

	idle := t.idleAfter > 0 && sinceInput >= t.idleAfter
	if t.idleAfter > 0 && (!t.started || idle != t.idle) {
		state := event.IdleActive
		if idle {
			state = event.IdleIdle
		}
		out = append(out, event.Signal{Kind: event.SignalIdle, At: now, Idle: state})
		t.idle = idle
	}

	t.started = true
	return out
}

func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndex(s[:maxLen-3], " "); idx > maxLen/2 {
		return s[:idx] + "..."
	}
	return s[:maxLen-3] + "..."
}
