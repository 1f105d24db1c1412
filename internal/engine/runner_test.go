package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workrate/internal/clock"
	"workrate/internal/event"
	"workrate/internal/session"
)

type memStore struct {
	mu    sync.Mutex
	saves int
	last  []byte
}

func (s *memStore) SaveState(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = append([]byte(nil), data...)
	return nil
}

// state decodes the last save. It is called from Eventually conditions, so
// it reports problems instead of failing the test.
func (s *memStore) state() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return State{}, false
	}
	st, err := DecodeState(s.last)
	return st, err == nil
}

type memJournal struct {
	mu     sync.Mutex
	events []event.Event
}

func (j *memJournal) SaveEvent(_ context.Context, ev event.Event) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return int64(len(j.events)), nil
}

func (j *memJournal) types() []event.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]event.EventType, 0, len(j.events))
	for _, ev := range j.events {
		out = append(out, ev.Type)
	}
	return out
}

type memSink struct {
	mu       sync.Mutex
	sessions []session.Session
}

func (s *memSink) Submit(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type memNotifier struct {
	mu    sync.Mutex
	notes []event.Notification
}

func (n *memNotifier) Notify(note event.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type runnerFixture struct {
	clk      *clock.FakeClock
	runner   *Runner
	store    *memStore
	journal  *memJournal
	sink     *memSink
	notifier *memNotifier
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		clk:      clock.Fake(t0),
		store:    &memStore{},
		journal:  &memJournal{},
		sink:     &memSink{},
		notifier: &memNotifier{},
	}
	f.runner = NewRunner(newTestMachine(), RunnerOptions{
		Clock:    f.clk,
		Store:    f.store,
		Journal:  f.journal,
		Sink:     f.sink,
		Notifier: f.notifier,
	})
	f.runner.Start()
	t.Cleanup(f.runner.Stop)

	// The loop creates its heartbeat ticker on its first iteration.
	require.Eventually(t, func() bool { return f.clk.TickerCount() == 1 }, time.Second, 5*time.Millisecond)
	return f
}

func (f *runnerFixture) submit(t *testing.T, in Input) Effects {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fx, err := f.runner.Submit(ctx, in)
	require.NoError(t, err)
	return fx
}

func (f *runnerFixture) verified(t *testing.T) int64 {
	t.Helper()
	snap, err := f.runner.Snapshot(context.Background())
	require.NoError(t, err)
	return snap.VerifiedSec
}

func TestRunnerHeartbeatFlushes(t *testing.T) {
	f := newRunnerFixture(t)
	f.submit(t, FocusChanged{Surface: project})
	f.submit(t, RegisterSurface{})
	f.submit(t, StartSession{Task: "runner"})

	f.clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		st, ok := f.store.state()
		return ok && st.LastHeartbeat.Equal(at(30))
	}, time.Second, 5*time.Millisecond)

	st, _ := f.store.state()
	assert.Equal(t, int64(30), st.Buckets.VerifiedSec)
	assert.True(t, st.ClockRunning)
	assert.Equal(t, int64(30), f.verified(t))
}

func TestRunnerCompletesSession(t *testing.T) {
	f := newRunnerFixture(t)
	f.submit(t, FocusChanged{Surface: project})
	f.submit(t, RegisterSurface{})
	f.submit(t, StartSession{Task: "runner"})

	f.clk.Advance(45 * time.Second)
	fx := f.submit(t, StopSession{})
	require.NotNil(t, fx.Completed)

	require.Eventually(t, func() bool { return f.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(45), f.sink.sessions[0].Wall())

	require.Eventually(t, func() bool {
		types := f.journal.types()
		return len(types) > 0 && types[len(types)-1] == event.EventTypeSessionStop
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.journal.types(), event.EventTypeSessionStart)
	assert.Contains(t, f.journal.types(), event.EventTypeRegister)
}

func TestRunnerReturnsHandlerErrors(t *testing.T) {
	f := newRunnerFixture(t)
	_, err := f.runner.Submit(context.Background(), StartSession{Task: "nothing registered"})
	assert.ErrorIs(t, err, ErrNoSurfaces)
}

func TestRunnerBroadcastsSnapshots(t *testing.T) {
	f := newRunnerFixture(t)
	updates, cancel := f.runner.Subscribe()
	defer cancel()

	f.submit(t, RegisterSurface{Surface: project})
	select {
	case snap := <-updates:
		require.Len(t, snap.RegisteredSurfaces, 1)
		assert.Equal(t, "github.com", snap.RegisteredSurfaces[0].Domain)
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast")
	}
}

func TestRunnerStopPersistsFinalState(t *testing.T) {
	f := newRunnerFixture(t)
	f.submit(t, RegisterSurface{Surface: project})
	f.runner.Stop()

	st, ok := f.store.state()
	require.True(t, ok)
	assert.Len(t, st.Registry.Surfaces, 1)

	_, err := f.runner.Submit(context.Background(), StopSession{})
	assert.ErrorIs(t, err, ErrRunnerStopped)
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Publish(Snapshot{Task: "x"})
	}
	assert.Len(t, ch, cap(ch))
	cancel()
	cancel()
	assert.Equal(t, 0, b.Len())
}
