package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"workrate/internal/clock"
	"workrate/internal/collector"
	"workrate/internal/collector/x11"
	"workrate/internal/config"
	"workrate/internal/engine"
	"workrate/internal/event"
	"workrate/internal/gateway"
	"workrate/internal/ipc"
	"workrate/internal/notify"
	"workrate/internal/session"
	"workrate/internal/storage"

	sqlitestore "workrate/internal/storage/sqlite"
)

type App struct {
	cfg       *config.Config
	clock     clock.Clock
	storage   storage.Storage
	collector collector.Collector
	runner    *engine.Runner
	client    *gateway.Client
	gateway   *gateway.Gateway
	notifier  *notify.Desktop

	socketPath string
	listener   *net.UnixListener

	signalChan chan event.Signal
	sources    *sourceArbiter

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*App)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithCollector replaces the X11 collector.
func WithCollector(c collector.Collector) Option {
	return func(a *App) { a.collector = c }
}

func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		clock:      clock.Real(),
		socketPath: cfg.SocketPath,
		signalChan: make(chan event.Signal, 100),
		sources:    newSourceArbiter(cfg.Collector.BrowserClasses),
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.SocketPath
	}
	for _, opt := range opts {
		opt(a)
	}

	store := sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := store.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.storage = store

	machine := a.loadMachine(ctx)

	a.client = gateway.NewClient(cfg.Sync.APIBase, cfg.SyncTimeout(), store)
	a.gateway = gateway.New(store, a.client, gateway.Options{
		BatchSize:     cfg.Sync.BatchSize,
		DrainInterval: cfg.DrainInterval(),
		Clock:         a.clock,
	})
	a.notifier = notify.NewDesktop(cfg.Notifications.Enabled)

	a.runner = engine.NewRunner(machine, engine.RunnerOptions{
		Clock:    a.clock,
		Store:    store,
		Journal:  store,
		Sink:     a.gateway,
		Notifier: a.notifier,
	})

	if a.collector == nil && cfg.Collector.Enabled {
		x11Col, err := x11.NewX11Collector(cfg.SystemIdleThreshold())
		if err != nil {
			log.Printf("Warning: Failed to initialize X11 collector: %v. Desktop tracking disabled.", err)
		} else {
			a.collector = x11Col
		}
	}

	return a, nil
}

// loadMachine resumes from the last saved state, or starts fresh when
// there is none or it cannot be read.
func (a *App) loadMachine(ctx context.Context) *engine.Machine {
	mc := a.cfg.MachineConfig()

	data, err := a.storage.LoadState(ctx)
	if errors.Is(err, storage.ErrNoState) {
		return engine.NewMachine(mc)
	}
	if err != nil {
		log.Printf("Warning: failed to load engine state, starting fresh: %v", err)
		return engine.NewMachine(mc)
	}
	st, err := engine.DecodeState(data)
	if err != nil {
		log.Printf("Warning: discarding unreadable engine state: %v", err)
		return engine.NewMachine(mc)
	}
	if st.IsRunning {
		log.Printf("Resuming session %s (%s); the offline gap counts as idle", st.SessionID, st.Task)
	}
	return engine.Restore(mc, st, a.clock.Now())
}

// ApplyConfig pushes settings that may change at runtime into the running
// components.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.notifier.SetEnabled(cfg.Notifications.Enabled)
	a.sources.setBrowsers(cfg.Collector.BrowserClasses)

	scorer := cfg.Scorer()
	in := engine.UpdateSettings{DefaultBlockList: cfg.Engine.BlockList, Scorer: &scorer}
	ctx, cancel := context.WithTimeout(a.ctx, 2*time.Second)
	defer cancel()
	if _, err := a.runner.Submit(ctx, in); err != nil {
		log.Printf("Warning: failed to apply reloaded config: %v", err)
		return
	}
	log.Println("Reloaded config applied.")
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}
	if err := os.Chmod(a.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set permissions on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads one command and answers it. A subscribe command
// keeps the connection open and streams snapshots instead.
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}
	conn.SetReadDeadline(time.Time{})

	if cmd.Name == ipc.CmdSubscribe {
		a.stream(conn, encoder)
		return
	}

	log.Printf("Received command: %s", cmd.Name)

	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()
	resp := a.processCommand(ctx, cmd)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := encoder.Encode(resp); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// stream writes the current snapshot, then every update, as JSON lines
// until the client disconnects or the daemon stops.
func (a *App) stream(conn *net.UnixConn, encoder *json.Encoder) {
	updates, cancel := a.runner.Subscribe()
	defer cancel()

	// A read returning means the client hung up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()

	snap, err := a.runner.Snapshot(a.ctx)
	if err != nil {
		_ = encoder.Encode(ipc.Response{Success: false, Message: err.Error()})
		return
	}
	if err := encoder.Encode(ipc.Response{Success: true, Message: "STATE_UPDATE", Data: snap}); err != nil {
		return
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-gone:
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := encoder.Encode(ipc.Response{Success: true, Message: "STATE_UPDATE", Data: s}); err != nil {
				return
			}
		}
	}
}

func fail(format string, args ...any) ipc.Response {
	return ipc.Response{Success: false, Message: fmt.Sprintf(format, args...)}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(ctx context.Context, cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdStartSession:
		var args ipc.StartSessionArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.submit(ctx, engine.StartSession{Task: args.Task, Client: args.Client, Tags: args.Tags},
			func(engine.Effects) string { return fmt.Sprintf("Session started: %s", args.Task) })

	case ipc.CmdStopSession:
		fx, err := a.runner.Submit(ctx, engine.StopSession{})
		if err != nil {
			return fail("%v", err)
		}
		return completed(fx.Completed)

	case ipc.CmdToggleSession:
		var args ipc.ToggleSessionArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		fx, err := a.runner.Submit(ctx, engine.ToggleSession{Task: args.Task, Client: args.Client})
		if err != nil {
			return fail("%v", err)
		}
		if fx.Completed != nil {
			return completed(fx.Completed)
		}
		return ipc.Response{Success: true, Message: "Session started"}

	case ipc.CmdRegisterSurface:
		var args ipc.RegisterSurfaceArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		var in engine.RegisterSurface
		if args.Surface != nil {
			in.Surface = *args.Surface
		}
		fx, err := a.runner.Submit(ctx, in)
		if err != nil {
			return fail("%v", err)
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("Registered %s", fx.Registered.Domain), Data: fx.Registered}

	case ipc.CmdUnregisterSurface:
		var args ipc.SurfaceIDArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.submit(ctx, engine.UnregisterSurface{ID: args.ID},
			func(engine.Effects) string { return fmt.Sprintf("Unregistered %s", args.ID) })

	case ipc.CmdClearSurfaces:
		return a.submit(ctx, engine.ClearSurfaces{},
			func(engine.Effects) string { return "Cleared registered surfaces" })

	case ipc.CmdAdjustTime:
		var args ipc.AdjustTimeArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.submit(ctx, engine.AdjustTime{NewVerifiedSec: args.NewVerifiedSec, Reason: args.Reason},
			func(engine.Effects) string { return "Verified time adjusted" })

	case ipc.CmdSetDeepWork:
		var args ipc.SetDeepWorkArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.submit(ctx, engine.SetDeepWork{Enabled: args.Enabled, BlockList: args.BlockList},
			func(engine.Effects) string {
				if args.Enabled {
					return "Deep work enabled"
				}
				return "Deep work disabled"
			})

	case ipc.CmdUpdateTask:
		var args ipc.UpdateTaskArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.submit(ctx, engine.UpdateTask{Task: args.Task, Client: args.Client, Tags: args.Tags},
			func(engine.Effects) string { return "Task updated" })

	case ipc.CmdGetState:
		snap, err := a.runner.Snapshot(ctx)
		if err != nil {
			return fail("%v", err)
		}
		return ipc.Response{Success: true, Data: snap}

	case ipc.CmdListSessions:
		args := ipc.ListSessionsArgs{Limit: 20}
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		list, err := a.storage.ListSessions(ctx, args.Limit)
		if err != nil {
			return fail("Failed to list sessions: %v", err)
		}
		return ipc.Response{Success: true, Data: list}

	case ipc.CmdSyncDrain:
		res, err := a.gateway.Drain(ctx)
		if errors.Is(err, storage.ErrNoTokens) {
			return fail("Not logged in; queued sessions stay local")
		}
		if err != nil {
			return fail("Drain failed: %v", err)
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("%d synced, %d skipped, %d failed", res.Synced, res.Skipped, res.Failed), Data: res}

	case ipc.CmdSyncStatus:
		st, err := a.gateway.Status(ctx)
		if err != nil {
			return fail("%v", err)
		}
		return ipc.Response{Success: true, Data: st}

	case ipc.CmdSetTokens:
		var args ipc.SetTokensArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		t := storage.Tokens{AccessToken: args.AccessToken, RefreshToken: args.RefreshToken, UserID: args.UserID, Email: args.Email}
		if !t.Valid() {
			return fail("accessToken is required")
		}
		if err := a.storage.SaveTokens(ctx, t); err != nil {
			return fail("Failed to save tokens: %v", err)
		}
		a.gateway.Kick()
		return ipc.Response{Success: true, Message: "Logged in"}

	case ipc.CmdLogout:
		if err := a.client.Logout(ctx); err != nil {
			return fail("Logout failed: %v", err)
		}
		return ipc.Response{Success: true, Message: "Logged out"}

	case ipc.CmdNetworkOnline:
		a.gateway.Kick()
		return ipc.Response{Success: true, Message: "Draining sync queue"}

	case ipc.CmdFocusChanged:
		var args ipc.FocusChangedArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.signal(ctx, event.Signal{Kind: event.SignalFocus, Surface: args.Surface})

	case ipc.CmdSurfaceClosed:
		var args ipc.SurfaceIDArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.signal(ctx, event.Signal{Kind: event.SignalClosed, Surface: event.SurfaceRef{ID: args.ID}})

	case ipc.CmdIdleChanged:
		var args ipc.IdleChangedArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		switch args.State {
		case event.IdleActive, event.IdleIdle, event.IdleLocked:
		default:
			return fail("Invalid idle state %q", args.State)
		}
		return a.signal(ctx, event.Signal{Kind: event.SignalIdle, Idle: args.State})

	case ipc.CmdActivitySignal:
		var args ipc.ActivitySignalArgs
		if err := cmd.DecodeArgs(&args); err != nil {
			return fail("%v", err)
		}
		return a.signal(ctx, event.Signal{
			Kind:      event.SignalActivity,
			Surface:   event.SurfaceRef{ID: args.SurfaceID, URL: domainURL(args.Domain)},
			Intensity: args.Intensity,
		})

	default:
		return fail("Unknown command: %s", cmd.Name)
	}
}

func completed(s *session.Session) ipc.Response {
	return ipc.Response{
		Success: true,
		Message: fmt.Sprintf("Session complete: %s verified, WQI %d", session.FormatDuration(s.VerifiedSec), s.Score),
		Data:    s,
	}
}

func (a *App) submit(ctx context.Context, in engine.Input, msg func(engine.Effects) string) ipc.Response {
	fx, err := a.runner.Submit(ctx, in)
	if err != nil {
		return fail("%v", err)
	}
	a.afterEffects(fx)
	return ipc.Response{Success: true, Message: msg(fx)}
}

// signal applies a signal from the browser bridge.
func (a *App) signal(ctx context.Context, sig event.Signal) ipc.Response {
	applied, err := a.applySignal(ctx, fromBridge, sig)
	if err != nil {
		return fail("%v", err)
	}
	if !applied {
		return ipc.Response{Success: true, Message: "Deferred to the desktop collector"}
	}
	return ipc.Response{Success: true}
}

// applySignal turns a collector or bridge signal into an engine input. It
// reports false when the arbiter held the signal back.
func (a *App) applySignal(ctx context.Context, src signalSource, sig event.Signal) (bool, error) {
	sig, ok := a.sources.route(src, sig)
	if !ok {
		log.Printf("Held back %s %s signal", src, sig.Kind)
		return false, nil
	}

	var in engine.Input
	switch sig.Kind {
	case event.SignalFocus:
		in = engine.FocusChanged{Surface: sig.Surface}
	case event.SignalClosed:
		in = engine.SurfaceClosed{ID: sig.Surface.ID}
	case event.SignalIdle:
		in = engine.SystemIdleChanged{State: sig.Idle}
	case event.SignalActivity:
		in = engine.ActivitySignal{SurfaceID: sig.Surface.ID, Domain: sig.Surface.Domain(), Intensity: sig.Intensity}
	default:
		return false, fmt.Errorf("unknown signal %q", sig.Kind)
	}
	fx, err := a.runner.Submit(ctx, in)
	if err != nil {
		return false, err
	}
	a.afterEffects(fx)
	return true, nil
}

// afterEffects handles what the engine asks of the host: the daemon cannot
// close a window, so blocked surfaces produce a reminder instead.
func (a *App) afterEffects(fx engine.Effects) {
	for _, s := range fx.Blocked {
		n := event.Notification{
			Title:   "Deep work — WorkRate",
			Message: fmt.Sprintf("%s is on your block list", s.Domain()),
		}
		a.wg.Go(func() {
			if err := a.notifier.Notify(n); err != nil {
				log.Printf("Warning: notification failed: %v", err)
			}
		})
	}
}

func (a *App) forwardSignals() {
	defer log.Println("Signal forwarder stopped.")
	for {
		select {
		case <-a.ctx.Done():
			return
		case sig := <-a.signalChan:
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			if _, err := a.applySignal(ctx, fromDesktop, sig); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Warning: %s signal rejected: %v", sig.Kind, err)
			}
			cancel()
		}
	}
}

// Run starts every component and blocks until Shutdown or SIGINT/SIGTERM.
func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting WorkRate daemon...")
	if a.collector == nil {
		log.Println("Desktop focus/idle collection: DISABLED")
	} else {
		log.Println("Desktop focus/idle collection: ENABLED")
	}

	if err := a.setupSocket(); err != nil {
		a.cancel()
		return fmt.Errorf("failed to set up socket: %w", err)
	}

	a.handleSignals()

	a.gateway.Start()
	a.runner.Start()
	a.wg.Go(a.forwardSignals)

	if a.collector != nil {
		a.wg.Go(func() {
			err := a.collector.Start(a.ctx, a.cfg.CollectionInterval(), a.signalChan)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Collector error: %v", err)
			}
			log.Println("Collector goroutine finished.")
		})
	}

	a.wg.Go(a.listenForCommands)

	if _, err := a.storage.SaveEvent(a.ctx, event.Event{Timestamp: a.clock.Now(), Type: event.EventTypeAppStart}); err != nil {
		log.Printf("Warning: Failed to save AppStart event: %v", err)
	}

	log.Println("WorkRate daemon running. Send commands via workrate-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")
	if err := a.listener.Close(); err != nil {
		log.Printf("Error closing socket listener: %v", err)
	}
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			log.Printf("Error stopping collector: %v", err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()
	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}
	return nil
}

// Shutdown asks Run to return.
func (a *App) Shutdown() { a.cancel() }

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")

	// The runner writes its final state before the store closes.
	a.runner.Stop()
	a.gateway.Stop()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	if _, err := a.storage.SaveEvent(saveCtx, event.Event{Timestamp: a.clock.Now(), Type: event.EventTypeAppStop}); err != nil {
		log.Printf("Warning: Failed to save AppStop event: %v", err)
	}

	if err := a.storage.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	if a.listener != nil {
		if _, err := os.Stat(a.socketPath); err == nil {
			log.Printf("Removing socket file: %s", a.socketPath)
			if err := os.Remove(a.socketPath); err != nil {
				log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
			}
		}
	}

	log.Println("Cleanup finished.")
}

func domainURL(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain
}
