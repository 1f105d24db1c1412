package engine

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/event"
	"workrate/internal/quality"
	"workrate/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

var (
	project = event.SurfaceRef{ID: "tab-1", URL: "https://github.com/acme/api", Title: "acme/api"}
	docs    = event.SurfaceRef{ID: "tab-2", URL: "https://www.docs.acme.io/guide", Title: "Guide"}
	news    = event.SurfaceRef{ID: "tab-3", URL: "https://news.ycombinator.com/", Title: "HN"}
	video   = event.SurfaceRef{ID: "tab-4", URL: "https://m.youtube.com/watch?v=1", Title: "video"}
)

func newTestMachine() *Machine {
	cfg := DefaultConfig()
	cfg.NewID = func() string { return "session-1" }
	return NewMachine(cfg)
}

func assertClockInvariant(t *testing.T, m *Machine) {
	t.Helper()
	s := m.State()
	want := s.IsRunning && s.Registry.OnRegistered && !s.Idle.SystemIdle && !s.Idle.ActivityIdle
	assert.Equal(t, want, s.ClockRunning, "clockRunning out of sync with its flags: %+v", s)
	if s.ClockRunning || !s.IsRunning {
		assert.Equal(t, PauseNone, s.PauseReason)
	} else {
		assert.NotEqual(t, PauseNone, s.PauseReason)
	}
}

func handle(t *testing.T, m *Machine, now time.Time, in Input) Effects {
	t.Helper()
	fx, err := m.Handle(now, in)
	require.NoError(t, err)
	assertClockInvariant(t, m)
	return fx
}

// startOnProject registers the project surface, focuses it and starts a
// session at t0.
func startOnProject(t *testing.T) *Machine {
	t.Helper()
	m := newTestMachine()
	handle(t, m, t0, FocusChanged{Surface: project})
	handle(t, m, t0, RegisterSurface{})
	handle(t, m, t0, StartSession{Task: "API review", Client: "Acme"})
	return m
}

func heartbeats(t *testing.T, m *Machine, from, to float64) {
	t.Helper()
	for s := from; s <= to; s += 30 {
		handle(t, m, at(s), HeartbeatTick{})
	}
}

func TestScenarioStaysOnProject(t *testing.T) {
	m := startOnProject(t)
	assert.True(t, m.State().ClockRunning)

	heartbeats(t, m, 30, 90)
	fx := handle(t, m, at(90), StopSession{})

	require.NotNil(t, fx.Completed)
	s := fx.Completed
	assert.Equal(t, int64(90), s.VerifiedSec)
	assert.Equal(t, int64(0), s.OffTaskSec)
	assert.Equal(t, int64(0), s.IdleSec)
	assert.Equal(t, int64(90), s.WallSec)
	assert.Equal(t, 100, s.VerifiedPct)
	assert.Equal(t, "session-1", s.ID)
	assert.Empty(t, s.OffTaskEvents)
}

func TestScenarioLeavesAndReturns(t *testing.T) {
	m := startOnProject(t)

	fx := handle(t, m, at(10), FocusChanged{Surface: news})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, PauseOffSurface, fx.Transitions[0].Reason)

	handle(t, m, at(30), HeartbeatTick{})
	handle(t, m, at(40), FocusChanged{Surface: project})
	fx = handle(t, m, at(40), StopSession{})

	s := fx.Completed
	require.NotNil(t, s)
	assert.Equal(t, int64(10), s.VerifiedSec)
	assert.Equal(t, int64(30), s.OffTaskSec)
	assert.Equal(t, int64(0), s.IdleSec)
	require.Len(t, s.OffTaskEvents, 1)
	assert.Equal(t, "news.ycombinator.com", s.OffTaskEvents[0].Domain)
	assert.Equal(t, at(10).UnixMilli(), s.OffTaskEvents[0].StartMs)
	assert.Equal(t, int64(30), s.OffTaskEvents[0].DurationSec)
	assert.Equal(t, 1, s.Switches.OffTask)
}

func TestScenarioSystemIdleResumesAutomatically(t *testing.T) {
	m := startOnProject(t)
	heartbeats(t, m, 30, 30)

	fx := handle(t, m, at(50), SystemIdleChanged{State: event.IdleIdle})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, PauseIdleSystem, fx.Transitions[0].Reason)
	assert.Equal(t, BadgePaused, m.Snapshot(at(50)).Badge.State)

	heartbeats(t, m, 60, 90)
	fx = handle(t, m, at(120), SystemIdleChanged{State: event.IdleActive})
	require.Len(t, fx.Transitions, 1)
	assert.True(t, fx.Transitions[0].Running)
	assert.True(t, m.State().ClockRunning)

	fx = handle(t, m, at(150), StopSession{})
	s := fx.Completed
	assert.Equal(t, int64(70), s.IdleSec)
	assert.Equal(t, int64(80), s.VerifiedSec)
	assert.Equal(t, int64(0), s.OffTaskSec)
	assert.Empty(t, s.OffTaskEvents)
}

func TestScenarioSwitchesFeedScore(t *testing.T) {
	m := startOnProject(t)
	for i := 0; i < 5; i++ {
		base := float64(100 + i*100)
		handle(t, m, at(base), FocusChanged{Surface: news})
		handle(t, m, at(base+2), FocusChanged{Surface: project})
	}
	fx := handle(t, m, at(3610), StopSession{})
	s := fx.Completed

	assert.Equal(t, 5, s.Switches.OffTask)
	assert.Empty(t, s.OffTaskEvents, "excursions inside the grace period are noise")
	assert.Equal(t, int64(10), s.OffTaskSec)
	assert.Equal(t, int64(3600), s.VerifiedSec)
	want := quality.NewScorer(quality.DefaultWeights(), nil).Score(3600, 10, 5)
	assert.Equal(t, want, s.Score)
	assert.Equal(t, 86, s.Score)
}

func TestEventsAtSameInstantFlushOnce(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(30), HeartbeatTick{})
	handle(t, m, at(30), FocusChanged{Surface: news})
	handle(t, m, at(30), HeartbeatTick{})
	handle(t, m, at(30), SystemIdleChanged{State: event.IdleLocked})

	b := m.State().Buckets
	assert.Equal(t, int64(30), b.Wall())
	assert.Equal(t, int64(30), b.VerifiedSec)
}

func TestActivityIdleIsBackdated(t *testing.T) {
	m := startOnProject(t)
	heartbeats(t, m, 30, 150)
	assert.True(t, m.State().ClockRunning)

	// Last activity was the start at t0. The 180s threshold passes at 180
	// and the next heartbeat only notices at 210.
	fx := handle(t, m, at(210), HeartbeatTick{})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, at(180), fx.Transitions[0].At)
	assert.Equal(t, PauseIdleActivity, fx.Transitions[0].Reason)

	s := m.State()
	assert.True(t, s.Idle.ActivityIdle)
	assert.Equal(t, PauseIdleActivity, s.PauseReason)
	assert.Equal(t, int64(180), s.Buckets.VerifiedSec)
	assert.Equal(t, int64(30), s.Buckets.IdleSec)
}

func TestActivityIdleTransitionUsesThresholdInstant(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(100), ActivitySignal{SurfaceID: project.ID, Intensity: 40})

	// No heartbeat between 100 and 400: the clock stops at 280, not 400.
	fx := handle(t, m, at(400), HeartbeatTick{})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, at(280), fx.Transitions[0].At)

	b := m.State().Buckets
	assert.Equal(t, int64(280), b.VerifiedSec)
	assert.Equal(t, int64(120), b.IdleSec)

	// Activity on the project resumes the clock immediately.
	fx = handle(t, m, at(410), ActivitySignal{SurfaceID: project.ID, Intensity: 70})
	require.Len(t, fx.Transitions, 1)
	assert.True(t, fx.Transitions[0].Running)
	assert.Equal(t, int64(130), m.State().Buckets.IdleSec)
}

func TestActivityFromUnregisteredSurfaceIsIgnored(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(200), HeartbeatTick{})
	require.True(t, m.State().Idle.ActivityIdle)

	fx := handle(t, m, at(210), ActivitySignal{SurfaceID: news.ID, Intensity: 90})
	assert.False(t, fx.Changed)
	assert.True(t, m.State().Idle.ActivityIdle)

	handle(t, m, at(220), ActivitySignal{Domain: "github.com", Intensity: 90})
	assert.False(t, m.State().Idle.ActivityIdle)
}

func TestSystemIdleSupersedesActivityIdle(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(200), HeartbeatTick{})
	require.Equal(t, PauseIdleActivity, m.State().PauseReason)

	handle(t, m, at(210), SystemIdleChanged{State: event.IdleIdle})
	s := m.State()
	assert.True(t, s.Idle.SystemIdle)
	assert.False(t, s.Idle.ActivityIdle)
	assert.Equal(t, PauseIdleSystem, s.PauseReason)
}

func TestRegistryRejections(t *testing.T) {
	m := newTestMachine()

	_, err := m.Handle(t0, RegisterSurface{})
	assert.ErrorIs(t, err, ErrNoActiveSurface)

	for _, url := range []string{"chrome://newtab", "chrome-extension://abc/popup.html", "about:blank", "edge://settings", "moz-extension://x", "brave://rewards"} {
		_, err := m.Handle(t0, RegisterSurface{Surface: event.SurfaceRef{ID: "x", URL: url}})
		assert.ErrorIs(t, err, ErrInternalSurface, url)
	}

	_, err = m.Handle(t0, RegisterSurface{Surface: event.SurfaceRef{ID: "x", URL: "not a url"}})
	assert.ErrorIs(t, err, ErrInvalidSurface)

	handle(t, m, t0, RegisterSurface{Surface: docs})
	_, err = m.Handle(t0, RegisterSurface{Surface: docs})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	s := m.State()
	require.Len(t, s.Registry.Surfaces, 1)
	assert.Equal(t, "docs.acme.io", s.Registry.Surfaces[0].Domain)

	_, err = m.Handle(t0, UnregisterSurface{ID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownSurface)
}

func TestUnregisterActiveSurfaceStopsClock(t *testing.T) {
	m := startOnProject(t)
	fx := handle(t, m, at(60), UnregisterSurface{ID: project.ID})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, PauseOffSurface, fx.Transitions[0].Reason)

	handle(t, m, at(90), HeartbeatTick{})
	b := m.State().Buckets
	assert.Equal(t, int64(60), b.VerifiedSec)
	assert.Equal(t, int64(30), b.OffTaskSec)
	assert.Equal(t, BadgeOff, m.Snapshot(at(90)).Badge.State)
}

func TestSurfaceClosedRemovesRegistration(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(5), RegisterSurface{Surface: docs})
	handle(t, m, at(20), SurfaceClosed{ID: project.ID})

	s := m.State()
	assert.False(t, s.ClockRunning)
	assert.True(t, s.Registry.Active.IsZero())
	require.Len(t, s.Registry.Surfaces, 1)
	assert.Equal(t, docs.ID, s.Registry.Surfaces[0].ID)

	fx := handle(t, m, at(25), SurfaceClosed{ID: "unknown"})
	assert.False(t, fx.Changed)
}

func TestClearSurfacesPausesWithoutExcursion(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(5), RegisterSurface{Surface: docs})

	fx := handle(t, m, at(60), ClearSurfaces{})
	require.Len(t, fx.Transitions, 1)
	assert.Equal(t, PauseOffSurface, fx.Transitions[0].Reason)
	require.Len(t, fx.Journal, 2, "clock change plus the clear itself")
	assert.Equal(t, "cleared", fx.Journal[1].Notes)
	assert.Equal(t, float64(2), fx.Journal[1].Value)

	s := m.State()
	assert.Empty(t, s.Registry.Surfaces)
	assert.Equal(t, project.ID, s.Registry.Active.ID, "focus is kept")
	assert.Nil(t, s.OffTask.Open)
	assert.Equal(t, int64(60), s.Buckets.VerifiedSec)

	fx = handle(t, m, at(61), ClearSurfaces{})
	assert.False(t, fx.Changed)
}

func TestToggleSession(t *testing.T) {
	m := newTestMachine()
	_, err := m.Handle(t0, ToggleSession{})
	assert.ErrorIs(t, err, ErrNoSurfaces)

	handle(t, m, t0, FocusChanged{Surface: project})
	handle(t, m, t0, RegisterSurface{})
	handle(t, m, t0, ToggleSession{})
	assert.True(t, m.State().IsRunning)
	assert.Equal(t, "Quick session", m.State().Task)
	handle(t, m, at(30), ToggleSession{})

	handle(t, m, at(40), StartSession{Task: "API review", Client: "Acme"})
	fx := handle(t, m, at(100), ToggleSession{})
	require.NotNil(t, fx.Completed)
	assert.Equal(t, int64(60), fx.Completed.VerifiedSec)
	assert.False(t, m.State().IsRunning)

	handle(t, m, at(110), ToggleSession{})
	s := m.State()
	assert.True(t, s.IsRunning)
	assert.Equal(t, "API review", s.Task)
	assert.Equal(t, "Acme", s.Client)
	handle(t, m, at(120), ToggleSession{})

	handle(t, m, at(130), ToggleSession{Task: "Docs"})
	assert.Equal(t, "Docs", m.State().Task)
	assert.Empty(t, m.State().Client)
}

func TestRegisteredSwitchesAreCountedSeparately(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(1), RegisterSurface{Surface: docs})
	handle(t, m, at(10), FocusChanged{Surface: docs})
	handle(t, m, at(20), FocusChanged{Surface: project})
	fx := handle(t, m, at(30), StopSession{})

	assert.Equal(t, 2, fx.Completed.Switches.Registered)
	assert.Equal(t, 0, fx.Completed.Switches.OffTask)
	assert.Equal(t, int64(30), fx.Completed.VerifiedSec)
}

func TestStartErrors(t *testing.T) {
	m := newTestMachine()
	_, err := m.Handle(t0, StartSession{Task: "x"})
	assert.ErrorIs(t, err, ErrNoSurfaces)

	_, err = m.Handle(t0, StopSession{})
	assert.ErrorIs(t, err, ErrNotRunning)

	m = startOnProject(t)
	_, err = m.Handle(at(1), StartSession{Task: "again"})
	assert.ErrorIs(t, err, ErrSessionRunning)
}

func TestStartOffSurfaceAccruesOffTask(t *testing.T) {
	m := newTestMachine()
	handle(t, m, t0, RegisterSurface{Surface: project})
	handle(t, m, t0, FocusChanged{Surface: news})
	handle(t, m, t0, StartSession{Task: "late start"})

	s := m.State()
	assert.False(t, s.ClockRunning)
	assert.Equal(t, PauseOffSurface, s.PauseReason)

	handle(t, m, at(30), HeartbeatTick{})
	assert.Equal(t, int64(30), m.State().Buckets.OffTaskSec)
}

func TestStopClosesOpenOffTaskAndResets(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(1), SetDeepWork{Enabled: true, BlockList: []string{"youtube.com"}})
	handle(t, m, at(50), FocusChanged{Surface: news})
	fx := handle(t, m, at(52), StopSession{})

	require.Len(t, fx.Completed.OffTaskEvents, 1)
	assert.Equal(t, int64(2), fx.Completed.OffTaskEvents[0].DurationSec)
	require.NotNil(t, fx.Notify)
	assert.Equal(t, "Session complete — WorkRate", fx.Notify.Title)
	assert.Equal(t, "API review · 50s verified · WQI 91", fx.Notify.Message)

	s := m.State()
	assert.False(t, s.IsRunning)
	assert.False(t, s.ClockRunning)
	assert.Empty(t, s.SessionID)
	assert.Equal(t, session.Buckets{}, s.Buckets)
	assert.Len(t, s.Registry.Surfaces, 1)
	assert.Equal(t, news.ID, s.Registry.Active.ID)
	assert.True(t, s.DeepWork)
	assert.Equal(t, []string{"youtube.com"}, s.BlockList)
	assert.Equal(t, BadgeStopped, m.Snapshot(at(52)).Badge.State)
}

func TestAdjustTime(t *testing.T) {
	m := newTestMachine()
	_, err := m.Handle(t0, AdjustTime{NewVerifiedSec: 10, Reason: "meeting"})
	assert.ErrorIs(t, err, ErrNotRunning)

	m = startOnProject(t)
	_, err = m.Handle(at(10), AdjustTime{NewVerifiedSec: 10, Reason: "   "})
	assert.ErrorIs(t, err, ErrReasonRequired)

	handle(t, m, at(60), AdjustTime{NewVerifiedSec: 1800, Reason: "offline whiteboard session"})
	_, err = m.Handle(at(60), AdjustTime{NewVerifiedSec: 1800, Reason: "offline whiteboard session"})
	assert.ErrorIs(t, err, ErrDuplicateAdjustment)

	handle(t, m, at(60), AdjustTime{NewVerifiedSec: -5, Reason: "reset"})
	s := m.State()
	assert.Equal(t, int64(0), s.Buckets.VerifiedSec)
	require.Len(t, s.Adjustments, 2)
	assert.Equal(t, int64(60), s.Adjustments[0].OriginalSec)
	assert.Equal(t, int64(1800), s.Adjustments[0].AdjustedSec)
	assert.Equal(t, int64(1800), s.Adjustments[1].OriginalSec)
	assert.Equal(t, int64(0), s.Adjustments[1].AdjustedSec)

	fx := handle(t, m, at(90), StopSession{})
	assert.Equal(t, int64(30), fx.Completed.VerifiedSec)
	assert.Len(t, fx.Completed.Adjustments, 2)
}

func TestDeepWorkBlocksButStillAccounts(t *testing.T) {
	m := startOnProject(t)
	fx := handle(t, m, at(1), SetDeepWork{Enabled: true})
	assert.Empty(t, fx.Blocked)

	fx = handle(t, m, at(10), FocusChanged{Surface: video})
	require.Len(t, fx.Blocked, 1)
	assert.Equal(t, video.ID, fx.Blocked[0].ID)
	assert.False(t, m.State().ClockRunning)

	fx = handle(t, m, at(20), FocusChanged{Surface: news})
	assert.Empty(t, fx.Blocked)

	handle(t, m, at(30), FocusChanged{Surface: project})
	assert.Equal(t, int64(20), m.State().Buckets.OffTaskSec)
}

func TestDeepWorkCustomList(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(1), FocusChanged{Surface: news})

	fx := handle(t, m, at(2), SetDeepWork{Enabled: true, BlockList: []string{" YCombinator.com "}})
	require.Len(t, fx.Blocked, 1, "enabling reports the focused surface when it is blocked")
	assert.Equal(t, []string{"ycombinator.com"}, m.State().BlockList)

	fx = handle(t, m, at(3), FocusChanged{Surface: video})
	assert.Empty(t, fx.Blocked, "custom list replaces the defaults")

	handle(t, m, at(4), SetDeepWork{Enabled: false})
	assert.Nil(t, m.State().BlockList)
	fx = handle(t, m, at(5), FocusChanged{Surface: news})
	assert.Empty(t, fx.Blocked)
}

func TestConfiguredBlockListIsNormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultBlockList = []string{" www.YouTube.com "}
	m := NewMachine(cfg)
	handle(t, m, t0, FocusChanged{Surface: project})
	handle(t, m, t0, RegisterSurface{})
	handle(t, m, t0, SetDeepWork{Enabled: true})

	fx := handle(t, m, at(1), FocusChanged{Surface: video})
	require.Len(t, fx.Blocked, 1)
	assert.Equal(t, []string{"youtube.com"}, m.Config().DefaultBlockList)
}

func TestUpdateTask(t *testing.T) {
	m := newTestMachine()
	task := "x"
	_, err := m.Handle(t0, UpdateTask{Task: &task})
	assert.ErrorIs(t, err, ErrNotRunning)

	m = startOnProject(t)
	task = "Code review"
	handle(t, m, at(1), UpdateTask{Task: &task, Tags: []string{"review"}})
	s := m.State()
	assert.Equal(t, "Code review", s.Task)
	assert.Equal(t, "Acme", s.Client)
	assert.Equal(t, []string{"review"}, s.Tags)
}

func TestHeatmapSamples(t *testing.T) {
	m := startOnProject(t)
	handle(t, m, at(20), ActivitySignal{SurfaceID: project.ID, Intensity: 55})
	heartbeats(t, m, 30, 60)
	handle(t, m, at(70), FocusChanged{Surface: news})
	heartbeats(t, m, 90, 90)
	for s := 300.0; s <= 600; s += 30 {
		handle(t, m, at(s), FocusChanged{Surface: project})
		handle(t, m, at(s), HeartbeatTick{})
	}

	hm := m.State().Heatmap
	require.Len(t, hm, 3)
	first := hm[0]
	assert.Equal(t, 9, first.Hour)
	assert.Equal(t, 0, first.Block)
	assert.Equal(t, 60, first.VerifiedSec)
	assert.Equal(t, 30, first.OffTaskSec)
	assert.Equal(t, 20, first.Intensity)
	assert.Equal(t, 55, first.Activity)

	second := hm[1]
	assert.Equal(t, 1, second.Block)
	assert.Equal(t, 300, second.VerifiedSec, "capped at the block length")
	assert.Equal(t, 100, second.Intensity)
}

func TestSnapshotIncludesOpenWindow(t *testing.T) {
	m := startOnProject(t)
	snap := m.Snapshot(at(12))
	assert.Equal(t, int64(12), snap.VerifiedSec)
	assert.Equal(t, BadgeCounting, snap.Badge.State)
	assert.Equal(t, "#1B7A50", snap.Badge.Color)
	assert.Equal(t, "github.com", snap.ActiveDomain)
	assert.Equal(t, int64(0), m.State().Buckets.VerifiedSec, "snapshot does not flush")
}

func TestRestoreCreditsGapAsIdle(t *testing.T) {
	m := startOnProject(t)
	heartbeats(t, m, 30, 60)

	data, err := EncodeState(m.State())
	require.NoError(t, err)
	st, err := DecodeState(data)
	require.NoError(t, err)

	r := Restore(m.Config(), st, at(660))
	assertClockInvariant(t, r)
	s := r.State()
	assert.Equal(t, int64(60), s.Buckets.VerifiedSec)
	assert.Equal(t, int64(600), s.Buckets.IdleSec)
	assert.False(t, s.ClockRunning)
	assert.Equal(t, PauseIdleSystem, s.PauseReason)
	assert.True(t, s.Idle.Recovered)

	// Activity on the project ends the recovery pause.
	handle(t, r, at(670), ActivitySignal{SurfaceID: project.ID, Intensity: 10})
	assert.True(t, r.State().ClockRunning)

	fx := handle(t, r, at(700), StopSession{})
	assert.Equal(t, int64(700), fx.Completed.Wall())
	assert.Equal(t, int64(700), fx.Completed.WallSec)
}

func TestRestoreStoppedStateKeepsRegistry(t *testing.T) {
	m := newTestMachine()
	handle(t, m, t0, RegisterSurface{Surface: project})
	r := Restore(m.Config(), m.State(), at(3600))
	s := r.State()
	assert.False(t, s.IsRunning)
	assert.Len(t, s.Registry.Surfaces, 1)
	assert.False(t, s.Idle.Recovered)
}

func TestBucketConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	surfaces := []event.SurfaceRef{project, docs, news, video}
	idleStates := []event.IdleState{event.IdleActive, event.IdleIdle, event.IdleLocked}

	for run := 0; run < 50; run++ {
		m := newTestMachine()
		handle(t, m, t0, RegisterSurface{Surface: project})
		handle(t, m, t0, RegisterSurface{Surface: docs})
		handle(t, m, t0, FocusChanged{Surface: project})
		handle(t, m, t0, StartSession{Task: "fuzz"})

		now := t0
		for step := 0; step < 200; step++ {
			// Some events share an instant with the previous one.
			if rng.IntN(4) > 0 {
				now = now.Add(time.Duration(rng.IntN(45_000)) * time.Millisecond)
			}
			var in Input
			switch rng.IntN(6) {
			case 0:
				in = FocusChanged{Surface: surfaces[rng.IntN(len(surfaces))]}
			case 1:
				in = SystemIdleChanged{State: idleStates[rng.IntN(len(idleStates))]}
			case 2:
				in = ActivitySignal{SurfaceID: surfaces[rng.IntN(len(surfaces))].ID, Intensity: rng.IntN(101)}
			case 3:
				in = SurfaceClosed{ID: news.ID}
			default:
				in = HeartbeatTick{}
			}
			handle(t, m, now, in)
		}

		end := now.Add(time.Duration(rng.IntN(10_000)) * time.Millisecond)
		fx := handle(t, m, end, StopSession{})
		got := float64(fx.Completed.Wall())
		assert.InDelta(t, end.Sub(t0).Seconds(), got, 0.5, "run %d", run)
	}
}
