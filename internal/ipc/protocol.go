package ipc

import (
	"encoding/json"
	"fmt"

	"workrate/internal/event"
)

const SocketPath = "/tmp/workrate.sock"

// Command is one request on the socket. Args stays raw until the daemon
// knows which struct to decode it into.
type Command struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// NewCommand builds a command with args marshalled in place.
func NewCommand(name string, args any) (Command, error) {
	cmd := Command{Name: name}
	if args == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return cmd, fmt.Errorf("failed to encode %s args: %w", name, err)
	}
	cmd.Args = raw
	return cmd, nil
}

// DecodeArgs fills v from the command args. Missing args leave v untouched.
func (c Command) DecodeArgs(v any) error {
	if len(c.Args) == 0 || string(c.Args) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("invalid args for %s: %w", c.Name, err)
	}
	return nil
}

// --- Command Names ---

const (
	CmdPing              = "ping"
	CmdStartSession      = "start_session"
	CmdStopSession       = "stop_session"
	CmdToggleSession     = "toggle_session"
	CmdRegisterSurface   = "register_surface"
	CmdUnregisterSurface = "unregister_surface"
	CmdClearSurfaces     = "clear_surfaces"
	CmdAdjustTime        = "adjust_time"
	CmdSetDeepWork       = "set_deep_work"
	CmdUpdateTask        = "update_task"
	CmdGetState          = "get_state"
	CmdListSessions      = "list_sessions"
	CmdSyncDrain         = "sync_drain"
	CmdSyncStatus        = "sync_status"
	CmdSetTokens         = "set_tokens"
	CmdLogout            = "logout"
	CmdSubscribe         = "subscribe"

	// Host signals, normally sent by a browser bridge or collector.
	CmdFocusChanged   = "focus_changed"
	CmdSurfaceClosed  = "surface_closed"
	CmdIdleChanged    = "idle_changed"
	CmdActivitySignal = "activity_signal"
	CmdNetworkOnline  = "network_online"
)

// --- Command Argument Structs ---

type StartSessionArgs struct {
	Task   string   `json:"task"`
	Client string   `json:"client,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// ToggleSessionArgs labels the session a toggle starts. Empty means the
// last session's task and client.
type ToggleSessionArgs struct {
	Task   string `json:"task,omitempty"`
	Client string `json:"client,omitempty"`
}

// RegisterSurfaceArgs registers Surface, or the focused surface when it is
// omitted.
type RegisterSurfaceArgs struct {
	Surface *event.SurfaceRef `json:"surface,omitempty"`
}

type SurfaceIDArgs struct {
	ID string `json:"id"`
}

type AdjustTimeArgs struct {
	NewVerifiedSec int64  `json:"new_verified_sec"`
	Reason         string `json:"reason"`
}

type SetDeepWorkArgs struct {
	Enabled   bool     `json:"enabled"`
	BlockList []string `json:"block_list,omitempty"`
}

// UpdateTaskArgs changes only the fields that are present.
type UpdateTaskArgs struct {
	Task   *string  `json:"task,omitempty"`
	Client *string  `json:"client,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

type ListSessionsArgs struct {
	Limit int `json:"limit"`
}

type SetTokensArgs struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
	Email        string `json:"email,omitempty"`
}

type FocusChangedArgs struct {
	Surface event.SurfaceRef `json:"surface"`
}

type IdleChangedArgs struct {
	State event.IdleState `json:"state"`
}

type ActivitySignalArgs struct {
	SurfaceID string `json:"surface_id"`
	Domain    string `json:"domain,omitempty"`
	Intensity int    `json:"intensity"`
}
