// Package notify shows desktop notifications for engine events.
package notify

import (
	"log"
	"sync/atomic"

	"github.com/gen2brain/beeep"

	"workrate/internal/event"
)

// Desktop delivers notifications through the platform notifier. It can be
// switched off at runtime when the config changes.
type Desktop struct {
	enabled atomic.Bool
	send    func(title, message string) error
}

func NewDesktop(enabled bool) *Desktop {
	beeep.AppName = "WorkRate"
	d := &Desktop{send: func(title, message string) error {
		return beeep.Notify(title, message, "")
	}}
	d.enabled.Store(enabled)
	return d
}

func (d *Desktop) SetEnabled(v bool) { d.enabled.Store(v) }

func (d *Desktop) Enabled() bool { return d.enabled.Load() }

func (d *Desktop) Notify(n event.Notification) error {
	if !d.enabled.Load() {
		log.Printf("Notification (muted): [%s] %s", n.Title, n.Message)
		return nil
	}
	log.Printf("Notification: [%s] %s", n.Title, n.Message)
	return d.send(n.Title, n.Message)
}
