package engine

import (
	"bytes"
	"context"
	"errors"
	"log"
	"time"

	"github.com/sourcegraph/conc"

	"workrate/internal/clock"
	"workrate/internal/event"
	"workrate/internal/session"
)

// StateStore keeps the encoded engine state between runs.
type StateStore interface {
	SaveState(ctx context.Context, data []byte) error
}

// Journal records transitions for later inspection.
type Journal interface {
	SaveEvent(ctx context.Context, ev event.Event) (int64, error)
}

// SessionSink takes ownership of completed sessions.
type SessionSink interface {
	Submit(s session.Session)
}

type Notifier interface {
	Notify(n event.Notification) error
}

type RunnerOptions struct {
	Clock    clock.Clock
	Store    StateStore
	Journal  Journal
	Sink     SessionSink
	Notifier Notifier
}

var ErrRunnerStopped = errors.New("engine runner stopped")

type request struct {
	in    Input // nil asks for a snapshot only
	reply chan reply
}

type reply struct {
	fx   Effects
	snap Snapshot
	err  error
}

// Runner is the engine event loop. It is the only goroutine that touches
// the Machine; commands, host signals and heartbeats are serialized on one
// channel in arrival order.
type Runner struct {
	m     *Machine
	opts  RunnerOptions
	bcast *Broadcaster

	cmdChan   chan request
	persistCh chan []byte
	journalCh chan event.Event

	lastSaved []byte // owned by the persister

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	done   chan struct{}
}

func NewRunner(m *Machine, opts RunnerOptions) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		m:         m,
		opts:      opts,
		bcast:     NewBroadcaster(),
		cmdChan:   make(chan request, 16),
		persistCh: make(chan []byte, 1),
		journalCh: make(chan event.Event, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (r *Runner) Start() {
	log.Println("Starting engine runner")
	r.wg.Go(r.runLoop)
	r.wg.Go(r.persistLoop)
}

// Stop ends the loop and writes the final state synchronously.
func (r *Runner) Stop() {
	log.Println("Stopping engine runner")
	r.cancel()
	r.wg.Wait()
	r.bcast.Close()

	if r.opts.Store == nil {
		return
	}
	data, err := EncodeState(r.m.State())
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opts.Store.SaveState(ctx, data); err != nil {
		log.Printf("Error: failed to persist final engine state: %v", err)
	}
}

// Submit hands an input to the loop and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, in Input) (Effects, error) {
	rep, err := r.call(ctx, request{in: in, reply: make(chan reply, 1)})
	if err != nil {
		return Effects{}, err
	}
	return rep.fx, rep.err
}

// Snapshot returns the state as seen by the loop right now.
func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	rep, err := r.call(ctx, request{reply: make(chan reply, 1)})
	return rep.snap, err
}

func (r *Runner) Subscribe() (<-chan Snapshot, func()) {
	return r.bcast.Subscribe()
}

func (r *Runner) call(ctx context.Context, req request) (reply, error) {
	select {
	case r.cmdChan <- req:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-r.ctx.Done():
		return reply{}, ErrRunnerStopped
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-r.done:
		return reply{}, ErrRunnerStopped
	}
}

func (r *Runner) runLoop() {
	defer close(r.done)
	defer log.Println("Engine runner loop stopped.")

	ticker := r.opts.Clock.NewTicker(r.m.Config().Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case req := <-r.cmdChan:
			now := r.opts.Clock.Now()
			if req.in == nil {
				req.reply <- reply{snap: r.m.Snapshot(now)}
				continue
			}
			fx, err := r.m.Handle(now, req.in)
			if err == nil {
				r.apply(now, fx)
			}
			req.reply <- reply{fx: fx, err: err}

		case <-ticker.C:
			now := r.opts.Clock.Now()
			fx, err := r.m.Handle(now, HeartbeatTick{})
			if err != nil {
				log.Printf("Warning: heartbeat failed: %v", err)
				continue
			}
			r.apply(now, fx)
		}
	}
}

// apply carries out effects once the in-memory transition is complete.
// Nothing here blocks the loop on I/O.
func (r *Runner) apply(now time.Time, fx Effects) {
	for _, t := range fx.Transitions {
		if t.Running {
			log.Printf("Clock RUNNING at %s", t.At.Format(time.TimeOnly))
		} else {
			log.Printf("Clock PAUSED (%s) at %s", t.Reason, t.At.Format(time.TimeOnly))
		}
	}

	for _, ev := range fx.Journal {
		select {
		case r.journalCh <- ev:
		default:
			log.Printf("Warning: journal queue full, dropping %s event", ev.Type)
		}
	}

	if fx.Changed {
		r.schedulePersist()
		r.bcast.Publish(r.m.Snapshot(now))
	}

	if fx.Completed != nil && r.opts.Sink != nil {
		r.opts.Sink.Submit(*fx.Completed)
	}

	if fx.Notify != nil && r.opts.Notifier != nil {
		n := *fx.Notify
		r.wg.Go(func() {
			if err := r.opts.Notifier.Notify(n); err != nil {
				log.Printf("Warning: notification failed: %v", err)
			}
		})
	}
}

// schedulePersist replaces any snapshot the persister has not picked up yet.
func (r *Runner) schedulePersist() {
	if r.opts.Store == nil {
		return
	}
	data, err := EncodeState(r.m.State())
	if err != nil {
		log.Printf("Error: %v", err)
		return
	}
	select {
	case <-r.persistCh:
	default:
	}
	r.persistCh <- data
}

func (r *Runner) persistLoop() {
	defer log.Println("Engine persister stopped.")
	for {
		select {
		case <-r.ctx.Done():
			r.drainJournal()
			return
		case data := <-r.persistCh:
			r.persist(data)
		case ev := <-r.journalCh:
			r.record(ev)
		}
	}
}

func (r *Runner) persist(data []byte) {
	if bytes.Equal(data, r.lastSaved) {
		return
	}
	if err := r.opts.Store.SaveState(r.ctx, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("Error: failed to persist engine state: %v", err)
		}
		return
	}
	r.lastSaved = data
}

func (r *Runner) record(ev event.Event) {
	if r.opts.Journal == nil {
		return
	}
	if _, err := r.opts.Journal.SaveEvent(r.ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Warning: failed to journal %s event: %v", ev.Type, err)
	}
}

// drainJournal flushes queued journal rows on shutdown.
func (r *Runner) drainJournal() {
	if r.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-r.journalCh:
			if _, err := r.opts.Journal.SaveEvent(ctx, ev); err != nil {
				log.Printf("Warning: failed to journal %s event: %v", ev.Type, err)
			}
		default:
			return
		}
	}
}
