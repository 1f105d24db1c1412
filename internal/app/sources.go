package app

import (
	"strings"
	"sync"

	"workrate/internal/event"
)

type signalSource int

const (
	fromBridge  signalSource = iota // socket commands from the browser bridge
	fromDesktop                     // the window-system collector
)

func (s signalSource) String() string {
	if s == fromDesktop {
		return "desktop"
	}
	return "bridge"
}

// sourceArbiter keeps the browser bridge and the desktop collector from
// overriding each other. The desktop knows which window is in front, the
// bridge knows which tab is showing inside the browser. While a browser
// window is in front, focus is the bridge's last tab.
//
// System idle belongs to the desktop once it has reported it. Screen locks
// are only seen by the bridge, so a lock and the matching unlock always
// pass, and desktop idle reports are held back while locked.
type sourceArbiter struct {
	mu       sync.Mutex
	browsers map[string]bool

	tab         event.SurfaceRef
	windowKnown bool
	inBrowser   bool

	desktopIdle  bool
	bridgeLocked bool
}

func newSourceArbiter(browserClasses []string) *sourceArbiter {
	r := &sourceArbiter{}
	r.setBrowsers(browserClasses)
	return r
}

func (r *sourceArbiter) setBrowsers(classes []string) {
	browsers := make(map[string]bool, len(classes))
	for _, c := range classes {
		browsers[strings.ToLower(strings.TrimSpace(c))] = true
	}
	r.mu.Lock()
	r.browsers = browsers
	r.mu.Unlock()
}

// route returns the signal the engine should see. It reports false when
// the other source owns what the signal describes.
func (r *sourceArbiter) route(src signalSource, sig event.Signal) (event.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch sig.Kind {
	case event.SignalFocus:
		if src == fromDesktop {
			return r.desktopFocus(sig), true
		}
		r.tab = sig.Surface
		// Replayed when the browser window comes to the front.
		return sig, !r.windowKnown || r.inBrowser

	case event.SignalClosed:
		if src == fromBridge && sig.Surface.ID == r.tab.ID {
			r.tab = event.SurfaceRef{}
		}
		return sig, true

	case event.SignalIdle:
		if src == fromDesktop {
			r.desktopIdle = true
			return sig, !r.bridgeLocked
		}
		return sig, r.bridgeIdle(sig.Idle)
	}
	return sig, true
}

func (r *sourceArbiter) desktopFocus(sig event.Signal) event.Signal {
	r.windowKnown = true
	r.inBrowser = r.browsers[sig.Surface.Domain()]
	if r.inBrowser && !r.tab.IsZero() {
		sig.Surface = r.tab
	}
	return sig
}

func (r *sourceArbiter) bridgeIdle(state event.IdleState) bool {
	switch {
	case state == event.IdleLocked:
		r.bridgeLocked = true
		return true
	case state == event.IdleActive && r.bridgeLocked:
		r.bridgeLocked = false
		return true
	}
	return !r.desktopIdle
}
