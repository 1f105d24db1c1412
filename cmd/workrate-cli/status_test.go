package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/engine"
	"workrate/internal/gateway"
	"workrate/internal/session"
	"workrate/internal/storage"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestRenderStatusIdle(t *testing.T) {
	out := renderStatus(engine.Snapshot{}, now)
	assert.Contains(t, out, "No session running.")
	assert.Contains(t, out, "none")
}

func TestRenderStatusRunning(t *testing.T) {
	snap := engine.Snapshot{
		IsRunning:    true,
		SessionStart: now.Add(-time.Hour),
		Task:         "Billing API",
		Client:       "Acme",
		Buckets:      session.Buckets{VerifiedSec: 3000, OffTaskSec: 300, IdleSec: 45},
		Score:        81,
		PauseReason:  engine.PauseOffSurface,
		RegisteredSurfaces: []engine.RegisteredSurface{
			{Domain: "github.com"}, {Domain: "linear.app"},
		},
		DeepWork:  true,
		BlockList: []string{"youtube.com", "reddit.com"},
		Badge:     engine.Badge{State: engine.BadgePaused, Text: "❚❚", Color: "#B8520E"},
	}
	out := renderStatus(snap, now)
	assert.Contains(t, out, "Billing API (Acme)")
	assert.Contains(t, out, "PAUSED")
	assert.Contains(t, out, "1 hour ago")
	assert.Contains(t, out, "paused: off registered surfaces")
	assert.Contains(t, out, "50m")
	assert.Contains(t, out, "github.com, linear.app")
	assert.Contains(t, out, "2 domains blocked")
}

func TestRenderSessions(t *testing.T) {
	assert.Equal(t, "No sessions stored yet.\n", renderSessions(nil, now))

	s := storage.StoredSession{SyncState: session.SyncQueued}
	s.Task = "Billing API"
	s.End = now.Add(-2 * time.Hour)
	s.VerifiedSec = 3900
	s.FocusPct = 92
	s.Score = 77
	out := renderSessions([]storage.StoredSession{s}, now)
	for _, want := range []string{"TASK", "Billing API", "1h 5m", "92%", "77", "queued", "2 hours ago"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderSyncStatus(t *testing.T) {
	out := renderSyncStatus(gateway.Status{Queued: 1200}, now)
	assert.Contains(t, out, "not logged in")
	assert.Contains(t, out, "1,200 sessions")
	assert.NotContains(t, out, "Last upload")

	out = renderSyncStatus(gateway.Status{LoggedIn: true, Email: "dev@acme.io", LastDrain: now.Add(-3 * time.Minute), LastError: "offline"}, now)
	assert.Contains(t, out, "dev@acme.io")
	assert.Contains(t, out, "3 minutes ago")
	assert.Contains(t, out, "Last error: offline")
}

func TestHeatRows(t *testing.T) {
	rows := heatRows([]session.HeatmapBlock{
		{Hour: 9, Block: 0, Intensity: 100},
		{Hour: 9, Block: 1, Intensity: 50},
		{Hour: 10, Block: 11, Intensity: 10},
	})
	require.Len(t, rows, 2)
	assert.True(t, strings.HasPrefix(rows[0], "09 "))
	assert.Contains(t, rows[0], "█")
	assert.Contains(t, rows[0], "▓")
	assert.True(t, strings.HasPrefix(rows[1], "10 "))
	assert.Contains(t, rows[1], "░")
}

func TestWatchText(t *testing.T) {
	assert.Contains(t, watchText(engine.Snapshot{}), "No session running")

	out := watchText(engine.Snapshot{
		IsRunning:    true,
		Task:         "Fix [bug]",
		Buckets:      session.Buckets{VerifiedSec: 125},
		ActiveDomain: "github.com",
		Badge:        engine.Badge{State: engine.BadgeCounting, Text: "●", Color: "#1B7A50"},
	})
	assert.Contains(t, out, "COUNTING")
	assert.Contains(t, out, "2m 5s")
	assert.Contains(t, out, "github.com")
	assert.Contains(t, out, "counting")
}

func stored(start time.Time, verified, offTask, idle int64, score int) storage.StoredSession {
	var s storage.StoredSession
	s.Start = start
	s.End = start.Add(time.Duration(verified+offTask+idle) * time.Second)
	s.Buckets = session.Buckets{VerifiedSec: verified, OffTaskSec: offTask, IdleSec: idle}
	s.Score = score
	return s
}

func TestBuildReport(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)

	a := stored(day1, 3600, 600, 0, 80)
	a.OffTaskEvents = []session.OffTaskEvent{{Domain: "youtube.com", DurationSec: 400}, {Domain: "reddit.com", DurationSec: 200}}
	a.Heatmap = []session.HeatmapBlock{{Hour: 9, Block: 0, Intensity: 100}, {Hour: 9, Block: 1, Intensity: 60}}
	b := stored(day2, 1800, 0, 200, 90)
	b.OffTaskEvents = []session.OffTaskEvent{{Domain: "youtube.com", DurationSec: 60}}
	b.Heatmap = []session.HeatmapBlock{{Hour: 9, Block: 0, Intensity: 50}}
	b.Adjustments = []session.Adjustment{{OriginalSec: 1900, AdjustedSec: 1800, Reason: "meeting"}}
	old := stored(day1.AddDate(0, 0, -30), 999, 0, 0, 10)

	data := buildReport([]storage.StoredSession{b, old, a}, day1.AddDate(0, 0, -1), day2.AddDate(0, 0, 1))

	assert.Equal(t, 2, data.Sessions)
	assert.Equal(t, "1h 30m", data.Verified)
	assert.Equal(t, 85, data.AvgScore)
	assert.Equal(t, 1, data.Adjustments)
	assert.Equal(t, session.Percent(5400, 6000), data.FocusPct)

	require.Len(t, data.Days, 2)
	assert.Equal(t, day1.Format("2006-01-02"), data.Days[0].Date)
	assert.Equal(t, session.Percent(3600, 4200), data.Days[0].VerifiedPct)

	require.Len(t, data.Distractions, 2)
	assert.Equal(t, "youtube.com", data.Distractions[0].Domain)
	assert.Equal(t, 2, data.Distractions[0].Count)

	require.Len(t, data.Heat, 1)
	assert.Equal(t, "09:00", data.Heat[0].Hour)
	assert.Equal(t, 75, data.Heat[0].Cells[0])
	assert.Equal(t, 60, data.Heat[0].Cells[1])

	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, data))
	html := buf.String()
	assert.Contains(t, html, "youtube.com")
	assert.Contains(t, html, "1 manual time adjustment")
	assert.Contains(t, html, "rgba(27,122,80,")
}
