package x11

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"workrate/internal/collector"
	"workrate/internal/event"
)

// X11Collector polls the active window through EWMH and the time since
// the last user input through the MIT-SCREEN-SAVER extension.
type X11Collector struct {
	X           *xgbutil.XUtil
	tracker     *collector.Tracker
	idleSupport bool
	stopChan    chan struct{}
	stopOnce    sync.Once
}

func NewX11Collector(idleAfter time.Duration) (*X11Collector, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by Window Manager: %v", err)
	}

	idleSupport := true
	if err := screensaver.Init(X.Conn()); err != nil {
		log.Printf("Warning: MIT-SCREEN-SAVER unavailable, system idle detection disabled: %v", err)
		idleSupport = false
		idleAfter = 0
	}

	return &X11Collector{
		X:           X,
		tracker:     collector.NewTracker(idleAfter),
		idleSupport: idleSupport,
		stopChan:    make(chan struct{}),
	}, nil
}

func (c *X11Collector) activeWindow() (collector.Window, error) {
	winID, err := ewmh.ActiveWindowGet(c.X)
	if err != nil {
		return collector.Window{}, fmt.Errorf("could not get active window ID: %w", err)
	}
	if winID == 0 {
		return collector.Window{}, nil
	}

	title, err := ewmh.WmNameGet(c.X, winID)
	if err != nil || title == "" {
		title, err = icccm.WmNameGet(c.X, winID)
		if err != nil {
			title = ""
		}
	}

	class := ""
	if hints, err := icccm.WmClassGet(c.X, winID); err == nil && hints != nil {
		class = hints.Class
	}

	return collector.Window{ID: uint32(winID), Class: class, Title: title}, nil
}

func (c *X11Collector) sinceInput() time.Duration {
	if !c.idleSupport {
		return 0
	}
	reply, err := screensaver.QueryInfo(c.X.Conn(), xproto.Drawable(c.X.RootWin())).Reply()
	if err != nil {
		return 0
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond
}

func (c *X11Collector) Start(ctx context.Context, interval time.Duration, output chan<- event.Signal) error {
	log.Printf("Starting X11 collector (interval: %s, idle detection: %t)", interval, c.idleSupport)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer c.X.Conn().Close()

	emit := func(sig []event.Signal) error {
		for _, s := range sig {
			if s.Kind == event.SignalFocus {
				log.Printf("Focus Changed: %s '%s'", s.Surface.URL, collector.Truncate(s.Surface.Title, 50))
			}
			select {
			case output <- s:
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stopChan:
				return errStopped
			}
		}
		return nil
	}

	sample := func() error {
		w, err := c.activeWindow()
		if err != nil {
			return nil // window manager may be switching desktops
		}
		return emit(c.tracker.Observe(time.Now(), w, c.sinceInput()))
	}

	if err := sample(); err != nil {
		return c.exit(err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("X11 collector stopping due to context cancellation.")
			return ctx.Err()
		case <-c.stopChan:
			log.Println("X11 collector stopping.")
			return nil
		case <-ticker.C:
			if err := sample(); err != nil {
				return c.exit(err)
			}
		}
	}
}

var errStopped = errors.New("collector stopped")

func (c *X11Collector) exit(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

func (c *X11Collector) Stop() error {
	log.Println("Sending stop signal to X11 collector.")
	c.stopOnce.Do(func() { close(c.stopChan) })
	return nil
}
