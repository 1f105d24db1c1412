// Package clock lets the engine and its collectors read time and schedule
// ticks through an injectable source, so tests can drive heartbeats and
// idle thresholds without sleeping.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C, a channel of capacity 1. Slow readers drop
// ticks instead of queueing them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
