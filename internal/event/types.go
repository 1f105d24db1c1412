package event

import (
	"net/url"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeClockChange  EventType = "clock_change"
	EventTypeSessionStart EventType = "session_start"
	EventTypeSessionStop  EventType = "session_stop"
	EventTypeRegister     EventType = "surface_register"
	EventTypeUnregister   EventType = "surface_unregister"
	EventTypeAdjustment   EventType = "time_adjustment"
	EventTypeAppStart     EventType = "app_start"
	EventTypeAppStop      EventType = "app_stop"
)

// Event is one row of the transition journal.
type Event struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"timestamp"`
	Type      EventType `db:"type"`
	SessionID string    `db:"session_id"`
	Domain    string    `db:"domain"`
	Value     float64   `db:"value"` // seconds flushed, adjusted seconds, etc.
	Tag       string    `db:"tag"`   // pause reason, surface id
	Notes     string    `db:"notes"`
}

// SurfaceRef identifies something the user can focus: a browser tab, or a
// desktop window reported by the X11 collector as app://<class>.
type SurfaceRef struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

var internalSchemes = []string{
	"chrome", "chrome-extension", "about", "edge", "moz-extension", "brave", "devtools",
}

// Internal reports whether the surface is a browser-internal page.
func (r SurfaceRef) Internal() bool {
	scheme, _, ok := strings.Cut(r.URL, ":")
	if !ok {
		return false
	}
	scheme = strings.ToLower(scheme)
	for _, s := range internalSchemes {
		if scheme == s {
			return true
		}
	}
	return false
}

// Domain returns the host of the surface URL without a leading "www.", or
// "" when the URL cannot be parsed.
func (r SurfaceRef) Domain() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func (r SurfaceRef) IsZero() bool { return r.ID == "" }

type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

type SignalKind string

const (
	SignalFocus    SignalKind = "focus_changed"
	SignalClosed   SignalKind = "surface_closed"
	SignalIdle     SignalKind = "idle_changed"
	SignalActivity SignalKind = "activity_signal"
)

// Signal is what collectors push towards the engine.
type Signal struct {
	Kind      SignalKind
	At        time.Time
	Surface   SurfaceRef
	Idle      IdleState
	Intensity int
}

type Notification struct {
	Title   string
	Message string
}
