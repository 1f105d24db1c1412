// Package session holds the completed-session record handed from the engine
// to local storage and the backend. JSON names are the backend wire format.
package session

import (
	"fmt"
	"time"
)

// Buckets are the three disjoint time totals, in seconds.
type Buckets struct {
	VerifiedSec int64 `json:"verifiedSec"`
	OffTaskSec  int64 `json:"offTaskSec"`
	IdleSec     int64 `json:"idleSec"`
}

func (b Buckets) Wall() int64 { return b.VerifiedSec + b.OffTaskSec + b.IdleSec }

type OffTaskEvent struct {
	Domain      string `json:"domain"`
	StartMs     int64  `json:"startMs"`
	DurationSec int64  `json:"durationSec"`
}

// HeatmapBlock aggregates one 5-minute block of one hour of the day.
type HeatmapBlock struct {
	Hour        int `json:"hour"`
	Block       int `json:"block"`
	VerifiedSec int `json:"verifiedSec"`
	OffTaskSec  int `json:"offTaskSec"`
	IdleSec     int `json:"idleSec"`
	Intensity   int `json:"intensity"`
	Activity    int `json:"activity"` // peak activity signal seen in the block
}

type Adjustment struct {
	OriginalSec int64     `json:"originalSec"`
	AdjustedSec int64     `json:"adjustedSec"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

type Switches struct {
	Registered int `json:"registeredSwitches"`
	OffTask    int `json:"offTaskSwitches"`
}

type Surface struct {
	Domain string `json:"domain"`
	Title  string `json:"title"`
}

type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncQueued  SyncState = "queued"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"
)

type Session struct {
	ID     string   `json:"localId"`
	Task   string   `json:"task"`
	Client string   `json:"client"`
	Tags   []string `json:"tags"`

	Start time.Time `json:"sessionStart"`
	End   time.Time `json:"sessionEnd"`

	WallSec int64 `json:"wallSec"`
	Buckets
	VerifiedPct int `json:"verifiedPct"`
	OffTaskPct  int `json:"offTaskPct"`
	IdlePct     int `json:"idlePct"`
	FocusPct    int `json:"focusPct"`
	Score       int `json:"wqi"`

	Switches
	Surfaces      []Surface      `json:"registeredSurfaces"`
	OffTaskEvents []OffTaskEvent `json:"offTaskEvents"`
	Heatmap       []HeatmapBlock `json:"activityBlocks"`
	Adjustments   []Adjustment   `json:"adjustments"`

	Shared   bool `json:"shared"`
	Approved bool `json:"approved"`
}

// Percent returns part/whole as a rounded percentage, 0 when whole is 0.
func Percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int((part*200 + whole) / (whole * 2))
}

// FormatDuration renders seconds as "1h 5m", "3m 12s" or "45s".
func FormatDuration(sec int64) string {
	if sec <= 0 {
		return "0m"
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
