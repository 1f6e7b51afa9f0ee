package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Session is a persisted capture session.
type Session struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	DeviceLabel string     `json:"device_label"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Segments    int        `json:"segments"`
	Triggers    int        `json:"triggers"`
}

// Segment is a persisted final segment.
type Segment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Late      bool      `json:"late,omitempty"`
}

// Trigger is a persisted sound alert.
type Trigger struct {
	SessionID string    `json:"session_id"`
	SegmentID string    `json:"segment_id"`
	RuleID    string    `json:"rule_id"`
	Keyword   string    `json:"keyword"`
	Priority  string    `json:"priority"`
	Text      string    `json:"text"`
	FiredAt   time.Time `json:"fired_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		device_label TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE segments (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		speaker TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		late INTEGER NOT NULL DEFAULT 0,
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		UNIQUE (session_id, id)
	)`,
	`CREATE TABLE triggers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		segment_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		keyword TEXT NOT NULL,
		priority TEXT NOT NULL,
		text TEXT NOT NULL,
		fired_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_triggers_session ON triggers(session_id, fired_at)`,
}

// Open opens or creates the database at path and applies pending
// migrations. Writes are serialized over a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if isCantOpen(err) {
			return nil, fmt.Errorf("cannot create database at %q: %w", path, err)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isCantOpen(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CANTOPEN
	}
	return false
}

// migrate applies the migrations past PRAGMA user_version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// SaveSession inserts a session or updates its state and error.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, device_id, device_label, state, started_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state,
			error = CASE WHEN excluded.error != '' THEN excluded.error ELSE sessions.error END
	`, sess.ID, sess.DeviceID, sess.DeviceLabel, sess.State, formatTime(sess.StartedAt), sess.Error)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// EndSession records the end of a session.
func (s *Store) EndSession(ctx context.Context, id, state string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, ended_at = ? WHERE id = ?
	`, state, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// SaveSegment stores a final segment. Saving the same segment twice is a
// no-op.
func (s *Store) SaveSegment(ctx context.Context, seg Segment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, session_id, text, speaker, timestamp, late)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, id) DO NOTHING
	`, seg.ID, seg.SessionID, seg.Text, seg.Speaker, formatTime(seg.Timestamp), seg.Late)
	if err != nil {
		return fmt.Errorf("save segment %s: %w", seg.ID, err)
	}
	return nil
}

// SaveTrigger stores a sound alert.
func (s *Store) SaveTrigger(ctx context.Context, tr Trigger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (session_id, segment_id, rule_id, keyword, priority, text, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tr.SessionID, tr.SegmentID, tr.RuleID, tr.Keyword, tr.Priority, tr.Text, formatTime(tr.FiredAt))
	if err != nil {
		return fmt.Errorf("save trigger for segment %s: %w", tr.SegmentID, err)
	}
	return nil
}

// Sessions returns the most recent sessions first, with segment and trigger
// counts.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.device_id, s.device_label, s.state, s.started_at, s.ended_at, s.error,
			(SELECT COUNT(*) FROM segments WHERE session_id = s.id),
			(SELECT COUNT(*) FROM triggers WHERE session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.DeviceLabel, &sess.State,
			&startedAt, &endedAt, &sess.Error, &sess.Segments, &sess.Triggers); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = parseTime(startedAt)
		if endedAt.Valid {
			t := parseTime(endedAt.String)
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Segments returns a session's segments in arrival order.
func (s *Store) Segments(ctx context.Context, sessionID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, text, speaker, timestamp, late
		FROM segments
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var ts string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Text, &seg.Speaker, &ts, &seg.Late); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Timestamp = parseTime(ts)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Triggers returns a session's triggers oldest first. An empty sessionID
// returns the most recent triggers across sessions, newest first.
func (s *Store) Triggers(ctx context.Context, sessionID string, limit int) ([]Trigger, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT session_id, segment_id, rule_id, keyword, priority, text, fired_at
		FROM triggers WHERE session_id = ? ORDER BY id ASC LIMIT ?`
	args := []any{sessionID, limit}
	if sessionID == "" {
		query = `
		SELECT session_id, segment_id, rule_id, keyword, priority, text, fired_at
		FROM triggers ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var tr Trigger
		var firedAt string
		if err := rows.Scan(&tr.SessionID, &tr.SegmentID, &tr.RuleID, &tr.Keyword,
			&tr.Priority, &tr.Text, &firedAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		tr.FiredAt = parseTime(firedAt)
		triggers = append(triggers, tr)
	}
	return triggers, rows.Err()
}
