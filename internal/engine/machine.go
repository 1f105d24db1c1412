// Package engine is the verified-time accounting core. A Machine owns the
// engine State and changes it only through Handle, a pure reducer that
// never performs I/O. The Runner feeds it inputs one at a time and applies
// the returned Effects.
package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"workrate/internal/event"
	"workrate/internal/quality"
	"workrate/internal/session"
)

type Config struct {
	Heartbeat        time.Duration
	ActivityIdle     time.Duration
	OffTaskGrace     time.Duration
	DefaultBlockList []string
	Scorer           quality.Scorer
	NewID            func() string
}

var DefaultBlockList = []string{
	"youtube.com", "twitter.com", "x.com", "facebook.com", "instagram.com",
	"reddit.com", "tiktok.com", "netflix.com", "twitch.tv",
}

func DefaultConfig() Config {
	return Config{
		Heartbeat:        30 * time.Second,
		ActivityIdle:     180 * time.Second,
		OffTaskGrace:     3 * time.Second,
		DefaultBlockList: DefaultBlockList,
		Scorer:           quality.NewScorer(quality.DefaultWeights(), nil),
		NewID:            uuid.NewString,
	}
}

// --- Inputs ---

type Input interface{ input() }

type StartSession struct {
	Task   string
	Client string
	Tags   []string
}

type StopSession struct{}

// ToggleSession stops the running session, or starts one labelled Task,
// falling back to the last session's task and client.
type ToggleSession struct {
	Task   string
	Client string
}

// RegisterSurface registers Surface, or the focused surface when it is zero.
type RegisterSurface struct {
	Surface event.SurfaceRef
}

type UnregisterSurface struct {
	ID string
}

// ClearSurfaces drops every registration.
type ClearSurfaces struct{}

type AdjustTime struct {
	NewVerifiedSec int64
	Reason         string
}

type SetDeepWork struct {
	Enabled   bool
	BlockList []string
}

// UpdateTask edits the labels of the running session. Nil fields are left
// unchanged.
type UpdateTask struct {
	Task   *string
	Client *string
	Tags   []string
}

type FocusChanged struct {
	Surface event.SurfaceRef
}

type SurfaceClosed struct {
	ID string
}

type SystemIdleChanged struct {
	State event.IdleState
}

type ActivitySignal struct {
	SurfaceID string
	Domain    string
	Intensity int
}

type HeartbeatTick struct{}

// UpdateSettings applies reloaded configuration. Zero fields are ignored.
type UpdateSettings struct {
	DefaultBlockList []string
	Scorer           *quality.Scorer
}

func (StartSession) input()      {}
func (StopSession) input()       {}
func (ToggleSession) input()     {}
func (ClearSurfaces) input()     {}
func (RegisterSurface) input()   {}
func (UnregisterSurface) input() {}
func (AdjustTime) input()        {}
func (SetDeepWork) input()       {}
func (UpdateTask) input()        {}
func (FocusChanged) input()      {}
func (SurfaceClosed) input()     {}
func (SystemIdleChanged) input() {}
func (ActivitySignal) input()    {}
func (HeartbeatTick) input()     {}
func (UpdateSettings) input()    {}

// --- Effects ---

// Transition records one flip of the running clock or of its pause reason.
type Transition struct {
	At      time.Time
	Running bool
	Reason  PauseReason
}

// Effects describe what the Runner must do after a Handle call.
type Effects struct {
	Changed     bool
	Transitions []Transition
	Journal     []event.Event
	Completed   *session.Session
	Registered  *RegisteredSurface
	Blocked     []event.SurfaceRef
	Notify      *event.Notification
}

// --- Machine ---

type Machine struct {
	cfg Config
	st  State
	fx  *Effects
}

func NewMachine(cfg Config) *Machine {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	cfg.DefaultBlockList = NormalizeDomains(cfg.DefaultBlockList)
	return &Machine{cfg: cfg}
}

// Restore rebuilds a machine from a persisted state. A session that was
// running when the process went away is resumed conservatively: the whole
// unflushed gap is credited as idle and the clock stays paused as system
// idle until the host reports activity.
func Restore(cfg Config, st State, now time.Time) *Machine {
	m := NewMachine(cfg)
	m.st = st
	m.fx = &Effects{}
	if !st.IsRunning {
		return m
	}

	gap := roundSeconds(now.Sub(m.st.WindowStart))
	if gap > 0 {
		m.st.Buckets.IdleSec += gap
		log.Printf("Recovered session %s: crediting %ds gap as idle", st.SessionID, gap)
	}
	m.st.WindowStart = now
	m.st.Idle.SystemIdle = true
	m.st.Idle.ActivityIdle = false
	m.st.Idle.Recovered = true
	m.recompute(now)
	m.fx = nil
	return m
}

func (m *Machine) Config() Config { return m.cfg }

// State returns a copy of the current state.
func (m *Machine) State() State { return m.st.clone() }

// Handle applies one input at now. On error the state is unchanged.
func (m *Machine) Handle(now time.Time, in Input) (Effects, error) {
	m.fx = &Effects{}
	defer func() { m.fx = nil }()

	var err error
	switch in := in.(type) {
	case StartSession:
		err = m.start(now, in)
	case StopSession:
		err = m.stop(now)
	case ToggleSession:
		err = m.toggle(now, in)
	case RegisterSurface:
		err = m.register(now, in.Surface)
	case UnregisterSurface:
		err = m.unregister(now, in.ID)
	case ClearSurfaces:
		m.clearSurfaces(now)
	case AdjustTime:
		err = m.adjust(now, in)
	case SetDeepWork:
		m.setDeepWork(in)
	case UpdateTask:
		err = m.updateTask(in)
	case FocusChanged:
		m.focus(now, in.Surface)
	case SurfaceClosed:
		m.surfaceClosed(now, in.ID)
	case SystemIdleChanged:
		m.systemIdle(now, in.State)
	case ActivitySignal:
		m.activity(now, in)
	case HeartbeatTick:
		m.heartbeat(now)
	case UpdateSettings:
		m.updateSettings(in)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownInput, in)
	}
	if err != nil {
		return Effects{}, err
	}
	return *m.fx, nil
}

func (m *Machine) journal(at time.Time, typ event.EventType, domain string, value float64, tag, notes string) {
	m.fx.Journal = append(m.fx.Journal, event.Event{
		Timestamp: at,
		Type:      typ,
		SessionID: m.st.SessionID,
		Domain:    domain,
		Value:     value,
		Tag:       tag,
		Notes:     notes,
	})
}

func (m *Machine) updateSettings(in UpdateSettings) {
	if len(in.DefaultBlockList) > 0 {
		m.cfg.DefaultBlockList = NormalizeDomains(in.DefaultBlockList)
	}
	if in.Scorer != nil {
		m.cfg.Scorer = *in.Scorer
	}
}
