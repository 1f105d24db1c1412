package engine

import (
	"time"

	"workrate/internal/session"
)

type BadgeState string

const (
	BadgeStopped  BadgeState = ""
	BadgeCounting BadgeState = "counting"
	BadgePaused   BadgeState = "paused"
	BadgeOff      BadgeState = "off"
)

type Badge struct {
	State BadgeState `json:"state"`
	Text  string     `json:"text"`
	Color string     `json:"color"`
}

func (s *State) badge() Badge {
	switch {
	case !s.IsRunning:
		return Badge{}
	case s.Idle.SystemIdle || s.Idle.ActivityIdle:
		return Badge{State: BadgePaused, Text: "⏸", Color: "#B8520E"}
	case s.ClockRunning:
		return Badge{State: BadgeCounting, Text: "●", Color: "#1B7A50"}
	default:
		return Badge{State: BadgeOff, Text: "○", Color: "#A5A29A"}
	}
}

// Snapshot is the sanitized view broadcast to subscribers and returned by
// get_state. Buckets include the still-open window so counters tick
// smoothly between heartbeats.
type Snapshot struct {
	At           time.Time   `json:"at"`
	IsRunning    bool        `json:"isRunning"`
	SessionID    string      `json:"sessionId,omitempty"`
	SessionStart time.Time   `json:"sessionStart"`
	Task         string      `json:"task"`
	Client       string      `json:"client"`
	Tags         []string    `json:"tags"`
	ClockRunning bool        `json:"clockRunning"`
	PauseReason  PauseReason `json:"pauseReason"`

	session.Buckets
	Score int `json:"wqi"`

	RegisteredSurfaces []RegisteredSurface `json:"registeredSurfaces"`
	ActiveDomain       string              `json:"activeDomain"`
	OnRegistered       bool                `json:"onRegistered"`
	SystemIdle         bool                `json:"systemIdle"`
	ActivityIdle       bool                `json:"activityIdle"`
	Recovered          bool                `json:"recovered"`

	session.Switches
	OffTaskEvents []session.OffTaskEvent `json:"offTaskEvents"`
	Heatmap       []session.HeatmapBlock `json:"activityBlocks"`
	Adjustments   []session.Adjustment   `json:"adjustments"`

	DeepWork  bool     `json:"deepWorkEnabled"`
	BlockList []string `json:"blockList"`
	Badge     Badge    `json:"badge"`
}

// Snapshot renders the state as of now without mutating it.
func (m *Machine) Snapshot(now time.Time) Snapshot {
	c := m.st.clone()

	live := c.Buckets
	if c.IsRunning && !c.WindowStart.IsZero() {
		if open := roundSeconds(now.Sub(c.WindowStart)); open > 0 {
			switch c.classify() {
			case BucketVerified:
				live.VerifiedSec += open
			case BucketIdle:
				live.IdleSec += open
			default:
				live.OffTaskSec += open
			}
		}
	}

	return Snapshot{
		At:                 now,
		IsRunning:          c.IsRunning,
		SessionID:          c.SessionID,
		SessionStart:       c.SessionStart,
		Task:               c.Task,
		Client:             c.Client,
		Tags:               c.Tags,
		ClockRunning:       c.ClockRunning,
		PauseReason:        c.PauseReason,
		Buckets:            live,
		Score:              m.cfg.Scorer.Score(live.VerifiedSec, live.OffTaskSec, c.OffTask.Switches.OffTask),
		RegisteredSurfaces: c.Registry.Surfaces,
		ActiveDomain:       c.Registry.Active.Domain(),
		OnRegistered:       c.Registry.OnRegistered,
		SystemIdle:         c.Idle.SystemIdle,
		ActivityIdle:       c.Idle.ActivityIdle,
		Recovered:          c.Idle.Recovered,
		Switches:           c.OffTask.Switches,
		OffTaskEvents:      c.OffTask.Events,
		Heatmap:            c.Heatmap,
		Adjustments:        c.Adjustments,
		DeepWork:           c.DeepWork,
		BlockList:          append([]string(nil), m.effectiveBlockList()...),
		Badge:              c.badge(),
	}
}
