package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/event"
)

func TestWindowSurface(t *testing.T) {
	s := Window{ID: 42, Class: "Google Chrome", Title: "Inbox"}.Surface()
	assert.Equal(t, "x11:42", s.ID)
	assert.Equal(t, "app://google-chrome", s.URL)
	assert.Equal(t, "google-chrome", s.Domain())
	assert.False(t, s.Internal())

	assert.Equal(t, "app://unknown", Window{ID: 1}.Surface().URL)
}

func TestTrackerFirstSampleReportsEverything(t *testing.T) {
	tr := NewTracker(2 * time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	sig := tr.Observe(now, Window{ID: 7, Class: "code"}, 0)
	require.Len(t, sig, 2)
	assert.Equal(t, event.SignalFocus, sig[0].Kind)
	assert.Equal(t, "x11:7", sig[0].Surface.ID)
	assert.Equal(t, event.SignalIdle, sig[1].Kind)
	assert.Equal(t, event.IdleActive, sig[1].Idle)

	assert.Empty(t, tr.Observe(now.Add(2*time.Second), Window{ID: 7, Class: "code", Title: "other file"}, time.Second))
}

func TestTrackerFocusChanges(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()
	tr.Observe(now, Window{ID: 7, Class: "code"}, 0)

	sig := tr.Observe(now, Window{ID: 9, Class: "firefox"}, 0)
	require.Len(t, sig, 1)
	assert.Equal(t, "app://firefox", sig[0].Surface.URL)

	assert.Empty(t, tr.Observe(now, Window{}, 0), "losing focus emits nothing")
	sig = tr.Observe(now, Window{ID: 9, Class: "firefox"}, 0)
	require.Len(t, sig, 1, "refocusing after no window reports the surface again")
}

func TestTrackerIdleCrossings(t *testing.T) {
	tr := NewTracker(2 * time.Minute)
	now := time.Now()
	w := Window{ID: 7, Class: "code"}
	tr.Observe(now, w, 0)

	assert.Empty(t, tr.Observe(now, w, 119*time.Second))
	sig := tr.Observe(now, w, 2*time.Minute)
	require.Len(t, sig, 1)
	assert.Equal(t, event.IdleIdle, sig[0].Idle)
	assert.Empty(t, tr.Observe(now, w, 10*time.Minute))

	sig = tr.Observe(now, w, 0)
	require.Len(t, sig, 1)
	assert.Equal(t, event.IdleActive, sig[0].Idle)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hello wor...", Truncate("hello world again", 12))
	assert.Equal(t, "a long title...", Truncate("a long title here", 16))
}

func TestTrackerWithoutThresholdReportsFocusOnly(t *testing.T) {
	tr := NewTracker(0)
	now := time.Now()

	sig := tr.Observe(now, Window{ID: 7, Class: "code"}, 0)
	require.Len(t, sig, 1)
	assert.Equal(t, event.SignalFocus, sig[0].Kind)
	assert.Empty(t, tr.Observe(now, Window{ID: 7, Class: "code"}, time.Hour))
}
