package storage

import (
	"context"
	"errors"
	"time"

	"workrate/internal/event"
	"workrate/internal/session"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNoState  = errors.New("no saved engine state")
	ErrNoTokens = errors.New("not authenticated")
)

// StoredSession is a completed session as kept locally, with its upload
// status.
type StoredSession struct {
	session.Session
	SyncState session.SyncState `json:"syncState"`
	SyncError string            `json:"syncError,omitempty"`
	SavedAt   time.Time         `json:"savedAt"`
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
	Email        string `json:"email,omitempty"`
}

func (t Tokens) Valid() bool { return t.AccessToken != "" }

type Storage interface {
	Init(ctx context.Context) error

	// Transition journal.
	SaveEvent(ctx context.Context, e event.Event) (int64, error)
	GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error)

	// Completed sessions. Local storage is the source of truth.
	SaveSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, localID string) (StoredSession, error)
	ListSessions(ctx context.Context, limit int) ([]StoredSession, error)
	SetSyncState(ctx context.Context, localID string, state session.SyncState, detail string) error

	// Offline upload queue, deduplicated by local id.
	Enqueue(ctx context.Context, s session.Session) error
	PendingBatch(ctx context.Context, limit int) ([]session.Session, error)
	Dequeue(ctx context.Context, localIDs ...string) error
	QueueCount(ctx context.Context) (int, error)

	// Engine state snapshot, opaque to the store.
	SaveState(ctx context.Context, data []byte) error
	LoadState(ctx context.Context) ([]byte, error)

	SaveTokens(ctx context.Context, t Tokens) error
	LoadTokens(ctx context.Context) (Tokens, error)
	ClearTokens(ctx context.Context) error

	Close() error
}

// Retry runs op up to attempts times, doubling the wait after each
// failure. It gives up early when ctx ends.
func Retry(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
