package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"workrate/internal/event"
	"workrate/internal/session"
	"workrate/internal/storage"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

var _ storage.Storage = (*SQLiteStore)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	type TEXT NOT NULL,
	session_id TEXT,
	domain TEXT,
	value REAL,
	tag TEXT,
	notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);

CREATE TABLE IF NOT EXISTS sessions (
	local_id TEXT PRIMARY KEY,
	task TEXT,
	client TEXT,
	session_start DATETIME NOT NULL,
	session_end DATETIME NOT NULL,
	verified_sec INTEGER NOT NULL,
	off_task_sec INTEGER NOT NULL,
	idle_sec INTEGER NOT NULL,
	wqi INTEGER NOT NULL,
	payload TEXT NOT NULL,
	sync_state TEXT NOT NULL DEFAULT 'pending',
	sync_error TEXT,
	saved_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions (session_start);

CREATE TABLE IF NOT EXISTS sync_queue (
	local_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	queued_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	data BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_tokens (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	user_id TEXT,
	email TEXT,
	updated_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// Single writer connection.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}
	log.Println("Database initialized successfully.")
	return nil
}

// --- Journal ---

func (s *SQLiteStore) SaveEvent(ctx context.Context, e event.Event) (int64, error) {
	query := `INSERT INTO events (timestamp, type, session_id, domain, value, tag, notes)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, e.Timestamp, e.Type, e.SessionID, e.Domain, e.Value, e.Tag, e.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error) {
	query := `SELECT id, timestamp, type, session_id, domain, value, tag, notes
	          FROM events
	          WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{start, end}

	if len(eventTypes) > 0 {
		placeholders := strings.Repeat("?,", len(eventTypes)-1) + "?"
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, et := range eventTypes {
			args = append(args, et)
		}
	}

	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var sessionID, domain, tag, notes sql.NullString
		var value sql.NullFloat64

		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &sessionID, &domain, &value, &tag, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.SessionID = sessionID.String
		e.Domain = domain.String
		e.Value = value.Float64
		e.Tag = tag.String
		e.Notes = notes.String
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// --- Sessions ---

func (s *SQLiteStore) SaveSession(ctx context.Context, sess session.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	query := `INSERT INTO sessions (local_id, task, client, session_start, session_end,
	              verified_sec, off_task_sec, idle_sec, wqi, payload, sync_state, saved_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(local_id) DO UPDATE SET
	              task = excluded.task,
	              client = excluded.client,
	              session_end = excluded.session_end,
	              verified_sec = excluded.verified_sec,
	              off_task_sec = excluded.off_task_sec,
	              idle_sec = excluded.idle_sec,
	              wqi = excluded.wqi,
	              payload = excluded.payload`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.Task, sess.Client, sess.Start, sess.End,
		sess.VerifiedSec, sess.OffTaskSec, sess.IdleSec, sess.Score,
		string(payload), session.SyncPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

const selectSessionSQL = `SELECT payload, sync_state, sync_error, saved_at FROM sessions`

func scanSession(row interface{ Scan(...any) error }) (storage.StoredSession, error) {
	var out storage.StoredSession
	var payload string
	var syncErr sql.NullString
	if err := row.Scan(&payload, &out.SyncState, &syncErr, &out.SavedAt); err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out.Session); err != nil {
		return out, fmt.Errorf("failed to decode session payload: %w", err)
	}
	out.SyncError = syncErr.String
	return out, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, localID string) (storage.StoredSession, error) {
	row := s.db.QueryRowContext(ctx, selectSessionSQL+` WHERE local_id = ?`, localID)
	out, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("session %s: %w", localID, storage.ErrNotFound)
	}
	if err != nil {
		return out, fmt.Errorf("failed to load session %s: %w", localID, err)
	}
	return out, nil
}

// ListSessions returns the most recent sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]storage.StoredSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectSessionSQL+` ORDER BY session_start DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredSession
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetSyncState(ctx context.Context, localID string, state session.SyncState, detail string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET sync_state = ?, sync_error = ? WHERE local_id = ?`,
		state, detail, localID)
	if err != nil {
		return fmt.Errorf("failed to update sync state of %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", localID, storage.ErrNotFound)
	}
	return nil
}

// --- Sync queue ---

func (s *SQLiteStore) Enqueue(ctx context.Context, sess session.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sync_queue (local_id, payload, queued_at) VALUES (?, ?, ?)`,
		sess.ID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue session %s: %w", sess.ID, err)
	}
	return nil
}

// PendingBatch returns up to limit queued sessions, oldest first.
func (s *SQLiteStore) PendingBatch(ctx context.Context, limit int) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM sync_queue ORDER BY queued_at ASC, local_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode queued session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Dequeue(ctx context.Context, localIDs ...string) error {
	if len(localIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(localIDs)-1) + "?"
	args := make([]interface{}, 0, len(localIDs))
	for _, id := range localIDs {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM sync_queue WHERE local_id IN (%s)`, placeholders), args...); err != nil {
		return fmt.Errorf("failed to dequeue %d session(s): %w", len(localIDs), err)
	}
	return nil
}

func (s *SQLiteStore) QueueCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

// --- Engine state ---

func (s *SQLiteStore) SaveState(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO engine_state (id, data, updated_at) VALUES (1, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadState(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM engine_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engine state: %w", err)
	}
	return data, nil
}

// --- Auth tokens ---

func (s *SQLiteStore) SaveTokens(ctx context.Context, t storage.Tokens) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO auth_tokens (id, access_token, refresh_token, user_id, email, updated_at)
	          VALUES (1, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	              access_token = excluded.access_token,
	              refresh_token = excluded.refresh_token,
	              user_id = excluded.user_id,
	              email = excluded.email,
	              updated_at = excluded.updated_at`,
		t.AccessToken, t.RefreshToken, t.UserID, t.Email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTokens(ctx context.Context) (storage.Tokens, error) {
	var t storage.Tokens
	var refresh, userID, email sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT access_token, refresh_token, user_id, email FROM auth_tokens WHERE id = 1`).
		Scan(&t.AccessToken, &refresh, &userID, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return t, storage.ErrNoTokens
	}
	if err != nil {
		return t, fmt.Errorf("failed to load tokens: %w", err)
	}
	t.RefreshToken = refresh.String
	t.UserID = userID.String
	t.Email = email.String
	return t, nil
}

func (s *SQLiteStore) ClearTokens(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens`); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
