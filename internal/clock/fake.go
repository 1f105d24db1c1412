package clock

import (
	"sync"
	"time"
)

// Fake returns a clock frozen at initial. It only moves on Advance or Set.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTicker{
		next:     c.current.Add(d),
		interval: d,
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ft)
	return &Ticker{
		C: ft.ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline was passed. A ticker that missed several periods fires once.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
}

// Set jumps to t. Moving backwards fires nothing.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fireLocked()
}

// TickerCount reports live tickers. Tests use it to wait until a goroutine
// has created its ticker before advancing.
func (c *FakeClock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) fireLocked() {
	live := c.tickers[:0]
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if c.current.Before(t.next) {
			continue
		}
		select {
		case t.ch <- c.current:
		default:
		}
		for !c.current.Before(t.next) {
			t.next = t.next.Add(t.interval)
		}
	}
	c.tickers = live
}
