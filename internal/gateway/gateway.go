// Package gateway hands completed sessions to the backend. Local storage is
// always written first; uploads that cannot happen now are queued and
// drained later in batches.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"workrate/internal/clock"
	"workrate/internal/session"
	"workrate/internal/storage"
)

type Store interface {
	SaveSession(ctx context.Context, s session.Session) error
	SetSyncState(ctx context.Context, localID string, state session.SyncState, detail string) error
	Enqueue(ctx context.Context, s session.Session) error
	PendingBatch(ctx context.Context, limit int) ([]session.Session, error)
	Dequeue(ctx context.Context, localIDs ...string) error
	QueueCount(ctx context.Context) (int, error)
	LoadTokens(ctx context.Context) (storage.Tokens, error)
}

type Backend interface {
	SyncSession(ctx context.Context, s session.Session) error
	SyncBatch(ctx context.Context, batch []session.Session) (BatchResult, error)
}

type Options struct {
	BatchSize     int
	DrainInterval time.Duration // 0 disables periodic draining
	SaveAttempts  int
	SaveBackoff   time.Duration
	Clock         clock.Clock
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 || o.BatchSize > 100 {
		o.BatchSize = 100
	}
	if o.SaveAttempts <= 0 {
		o.SaveAttempts = 3
	}
	if o.SaveBackoff <= 0 {
		o.SaveBackoff = 100 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonOffline          = "offline"
	ReasonAuthExpired      = "auth_expired"
)

// Result describes what happened to one submitted session.
type Result struct {
	Synced bool
	Queued bool
	Reason string
}

type DrainResult struct {
	Synced  int
	Skipped int
	Failed  int
}

type Status struct {
	Queued    int       `json:"queued"`
	LoggedIn  bool      `json:"loggedIn"`
	Email     string    `json:"email,omitempty"`
	LastDrain time.Time `json:"lastDrain"`
	LastError string    `json:"lastError,omitempty"`
}

type Gateway struct {
	store   Store
	backend Backend
	opts    Options

	jobs chan session.Session
	kick chan struct{}

	mu        sync.Mutex
	lastDrain time.Time
	lastErr   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func New(store Store, backend Backend, opts Options) *Gateway {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		store:   store,
		backend: backend,
		opts:    opts,
		jobs:    make(chan session.Session, 32),
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (g *Gateway) Start() {
	log.Println("Starting sync gateway")
	g.wg.Go(g.runLoop)
}

// Stop waits for in-flight work. Sessions still waiting in the job channel
// are saved and queued so nothing is lost.
func (g *Gateway) Stop() {
	log.Println("Stopping sync gateway")
	g.cancel()
	g.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case s := <-g.jobs:
			if err := g.saveLocal(ctx, s); err == nil {
				g.enqueue(ctx, s, ReasonOffline)
			}
		default:
			return
		}
	}
}

// Submit hands a completed session to the worker. It never blocks the
// caller.
func (g *Gateway) Submit(s session.Session) {
	select {
	case g.jobs <- s:
	default:
		g.wg.Go(func() {
			select {
			case g.jobs <- s:
			case <-g.ctx.Done():
				if _, err := g.Sync(context.Background(), s); err != nil {
					log.Printf("Error: session %s could not be saved: %v", s.ID, err)
				}
			}
		})
	}
}

// Kick asks the worker to drain the queue soon, e.g. when the network is
// back or new tokens arrived.
func (g *Gateway) Kick() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

func (g *Gateway) runLoop() {
	defer log.Println("Sync gateway loop stopped.")

	var tick <-chan time.Time
	if g.opts.DrainInterval > 0 {
		t := g.opts.Clock.NewTicker(g.opts.DrainInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-g.ctx.Done():
			return
		case s := <-g.jobs:
			res, err := g.Sync(g.ctx, s)
			switch {
			case err != nil:
				log.Printf("Error: session %s: %v", s.ID, err)
			case res.Synced:
				log.Printf("Session synced to server: %s", s.ID)
			case res.Queued:
				log.Printf("Session queued for sync (%s): %s", res.Reason, s.ID)
			}
		case <-g.kick:
			g.drainAndLog()
		case <-tick:
			g.drainAndLog()
		}
	}
}

func (g *Gateway) drainAndLog() {
	res, err := g.Drain(g.ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNoTokens) && !errors.Is(err, context.Canceled) {
			log.Printf("Warning: queue drain failed, will retry later: %v", err)
		}
		return
	}
	if res.Synced+res.Skipped+res.Failed > 0 {
		log.Printf("Queue drained: %d synced, %d skipped, %d failed", res.Synced, res.Skipped, res.Failed)
	}
}

func (g *Gateway) saveLocal(ctx context.Context, s session.Session) error {
	return storage.Retry(ctx, g.opts.SaveAttempts, g.opts.SaveBackoff, func() error {
		return g.store.SaveSession(ctx, s)
	})
}

func (g *Gateway) enqueue(ctx context.Context, s session.Session, reason string) {
	if err := g.store.Enqueue(ctx, s); err != nil {
		log.Printf("Error: failed to queue session %s: %v", s.ID, err)
		return
	}
	if err := g.store.SetSyncState(ctx, s.ID, session.SyncQueued, reason); err != nil {
		log.Printf("Warning: %v", err)
	}
}

func (g *Gateway) loggedIn(ctx context.Context) (storage.Tokens, bool, error) {
	t, err := g.store.LoadTokens(ctx)
	if errors.Is(err, storage.ErrNoTokens) {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	return t, t.Valid(), nil
}

// Sync saves s locally, then tries to upload it. A failure to save locally
// is the only error returned; upload problems are reported in Result.
func (g *Gateway) Sync(ctx context.Context, s session.Session) (Result, error) {
	if err := g.saveLocal(ctx, s); err != nil {
		return Result{}, fmt.Errorf("failed to save session locally: %w", err)
	}

	_, ok, err := g.loggedIn(ctx)
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	if !ok {
		g.enqueue(ctx, s, ReasonNotAuthenticated)
		return Result{Queued: true, Reason: ReasonNotAuthenticated}, nil
	}

	// Older sessions go first.
	if _, err := g.Drain(ctx); err != nil && !errors.Is(err, storage.ErrNoTokens) {
		log.Printf("Warning: queue drain failed, will retry later: %v", err)
	}

	err = g.backend.SyncSession(ctx, s)
	var apiErr *APIError
	switch {
	case err == nil:
		if err := g.store.SetSyncState(ctx, s.ID, session.SyncSynced, ""); err != nil {
			log.Printf("Warning: %v", err)
		}
		return Result{Synced: true}, nil
	case errors.Is(err, ErrNetwork):
		g.enqueue(ctx, s, ReasonOffline)
		return Result{Queued: true, Reason: ReasonOffline}, nil
	case errors.Is(err, ErrAuth):
		g.enqueue(ctx, s, ReasonAuthExpired)
		return Result{Queued: true, Reason: ReasonAuthExpired}, nil
	case errors.As(err, &apiErr):
		g.setLastError(apiErr.Error())
		if err := g.store.SetSyncState(ctx, s.ID, session.SyncFailed, apiErr.Message); err != nil {
			log.Printf("Warning: %v", err)
		}
		return Result{Reason: apiErr.Message}, nil
	default:
		g.setLastError(err.Error())
		g.enqueue(ctx, s, err.Error())
		return Result{Queued: true, Reason: err.Error()}, nil
	}
}

// Drain uploads queued sessions in batches until the queue is empty or a
// batch fails. Without tokens it does nothing and returns ErrNoTokens.
func (g *Gateway) Drain(ctx context.Context) (DrainResult, error) {
	var total DrainResult
	_, ok, err := g.loggedIn(ctx)
	if err != nil {
		return total, err
	}
	if !ok {
		return total, storage.ErrNoTokens
	}

	for {
		batch, err := g.store.PendingBatch(ctx, g.opts.BatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		res, err := g.backend.SyncBatch(ctx, batch)
		if err != nil {
			g.setLastError(err.Error())
			return total, fmt.Errorf("batch of %d: %w", len(batch), err)
		}

		failed := make(map[string]string, len(res.Errors))
		for _, e := range res.Errors {
			failed[e.LocalID] = e.Error
		}
		ids := make([]string, 0, len(batch))
		for _, s := range batch {
			ids = append(ids, s.ID)
			state, detail := session.SyncSynced, ""
			if msg, bad := failed[s.ID]; bad {
				state, detail = session.SyncFailed, msg
			}
			if err := g.store.SetSyncState(ctx, s.ID, state, detail); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Printf("Warning: %v", err)
			}
		}
		if err := g.store.Dequeue(ctx, ids...); err != nil {
			return total, err
		}

		total.Synced += res.Synced
		total.Skipped += res.Skipped
		total.Failed += len(res.Errors)
		if len(batch) < g.opts.BatchSize {
			break
		}
	}

	g.mu.Lock()
	g.lastDrain = g.opts.Clock.Now()
	g.lastErr = ""
	g.mu.Unlock()
	return total, nil
}

func (g *Gateway) setLastError(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastErr = msg
}

func (g *Gateway) Status(ctx context.Context) (Status, error) {
	n, err := g.store.QueueCount(ctx)
	if err != nil {
		return Status{}, err
	}
	t, ok, err := g.loggedIn(ctx)
	if err != nil {
		return Status{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Queued:    n,
		LoggedIn:  ok,
		Email:     t.Email,
		LastDrain: g.lastDrain,
		LastError: g.lastErr,
	}, nil
}
