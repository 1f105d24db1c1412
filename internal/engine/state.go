package engine

import (
	"fmt"
	"time"

	"workrate/internal/codec"
	"workrate/internal/event"
	"workrate/internal/session"
)

type PauseReason string

const (
	PauseNone         PauseReason = ""
	PauseIdleSystem   PauseReason = "idle_system"
	PauseIdleActivity PauseReason = "idle_activity"
	PauseOffSurface   PauseReason = "off_surface"
)

type RegisteredSurface struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Title        string    `json:"title"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type Registry struct {
	Surfaces     []RegisteredSurface `json:"surfaces"`
	Active       event.SurfaceRef    `json:"active"`
	OnRegistered bool                `json:"onRegistered"`
}

type IdleFlags struct {
	SystemIdle   bool      `json:"systemIdle"`
	ActivityIdle bool      `json:"activityIdle"`
	LastActivity time.Time `json:"lastActivity"`
	// Recovered marks a SystemIdle that was imposed by restart recovery
	// rather than reported by the host.
	Recovered bool `json:"recovered"`
}

type OpenOffTask struct {
	Domain string    `json:"domain"`
	Start  time.Time `json:"start"`
}

type OffTaskLog struct {
	Events   []session.OffTaskEvent `json:"events"`
	Open     *OpenOffTask           `json:"open,omitempty"`
	Switches session.Switches       `json:"switches"`
}

// State is the whole engine state. Only the Machine writes it; the Runner
// encodes it after every change so a restart can pick up where it left off.
type State struct {
	IsRunning    bool      `json:"isRunning"`
	SessionID    string    `json:"sessionId"`
	SessionStart time.Time `json:"sessionStart"`
	Task         string    `json:"task"`
	Client       string    `json:"client"`
	Tags         []string  `json:"tags"`

	ClockRunning bool        `json:"clockRunning"`
	PauseReason  PauseReason `json:"pauseReason"`
	WindowStart  time.Time   `json:"windowStart"`

	Idle     IdleFlags       `json:"idle"`
	Registry Registry        `json:"registry"`
	Buckets  session.Buckets `json:"buckets"`
	OffTask  OffTaskLog      `json:"offTask"`

	Heatmap      []session.HeatmapBlock `json:"heatmap"`
	PeakActivity int                    `json:"peakActivity"` // since the last heatmap sample
	Adjustments  []session.Adjustment   `json:"adjustments"`

	DeepWork  bool     `json:"deepWork"`
	BlockList []string `json:"blockList"` // nil means the configured default list

	LastHeartbeat time.Time `json:"lastHeartbeat"`

	// Labels of the last completed session, reused by ToggleSession.
	LastTask   string `json:"lastTask,omitempty"`
	LastClient string `json:"lastClient,omitempty"`
}

func (s State) clone() State {
	c := s
	c.Tags = append([]string(nil), s.Tags...)
	c.Registry.Surfaces = append([]RegisteredSurface(nil), s.Registry.Surfaces...)
	c.OffTask.Events = append([]session.OffTaskEvent(nil), s.OffTask.Events...)
	if s.OffTask.Open != nil {
		open := *s.OffTask.Open
		c.OffTask.Open = &open
	}
	c.Heatmap = append([]session.HeatmapBlock(nil), s.Heatmap...)
	c.Adjustments = append([]session.Adjustment(nil), s.Adjustments...)
	c.BlockList = append([]string(nil), s.BlockList...)
	return c
}

// EncodeState serializes a state for the local store.
func EncodeState(s State) ([]byte, error) {
	data, err := codec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine state: %w", err)
	}
	return data, nil
}

func DecodeState(data []byte) (State, error) {
	var s State
	if err := codec.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode engine state: %w", err)
	}
	return s, nil
}
