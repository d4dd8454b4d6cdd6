// Package eventstore keeps the story history: one row per session and a
// timeline of agent events.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	_ "modernc.org/sqlite"
)

// Fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Event represents a recorded timeline entry. SessionID is empty for events
// that do not belong to a story.
type Event struct {
	ID        int64
	SessionID string
	TraceID   string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Session is the stored summary of one story session.
type Session struct {
	ID                  string
	Prompt              string
	Language            string
	AgeRating           string
	Status              string
	ParagraphsGenerated int
	ParagraphsPlayed    int
	AudioDuration       time.Duration
	TimeToFirstAudio    time.Duration
	Error               string
	CreatedAt           time.Time
	EndedAt             time.Time
}

// Summary aggregates stored sessions.
type Summary struct {
	Sessions                int           `json:"sessions"`
	Completed               int           `json:"completed"`
	Failed                  int           `json:"failed"`
	Stopped                 int           `json:"stopped"`
	ParagraphsPlayed        int           `json:"paragraphs_played"`
	AudioDuration           time.Duration `json:"audio_duration"`
	AverageTimeToFirstAudio time.Duration `json:"average_time_to_first_audio"`
}

// Store wraps a SQLite-backed story history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the recorder and queries share it.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    language TEXT,
    age_rating TEXT,
    status TEXT NOT NULL,
    paragraphs_generated INTEGER NOT NULL DEFAULT 0,
    paragraphs_played INTEGER NOT NULL DEFAULT 0,
    audio_duration_ms INTEGER NOT NULL DEFAULT 0,
    ttfa_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at TEXT NOT NULL,
    ended_at TEXT
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    trace_id TEXT,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TEXT NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// SaveSession inserts or updates a session row.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	if s.disabled() {
		return nil
	}
	if sess.ID == "" {
		return errors.New("session id required")
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, prompt, language, age_rating, status, paragraphs_generated,
		     paragraphs_played, audio_duration_ms, ttfa_ms, error, created_at, ended_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     status=excluded.status,
		     paragraphs_generated=excluded.paragraphs_generated,
		     paragraphs_played=excluded.paragraphs_played,
		     audio_duration_ms=excluded.audio_duration_ms,
		     ttfa_ms=excluded.ttfa_ms,
		     error=excluded.error,
		     ended_at=excluded.ended_at`,
		sess.ID, sess.Prompt, sess.Language, sess.AgeRating, sess.Status, sess.ParagraphsGenerated,
		sess.ParagraphsPlayed, sess.AudioDuration.Milliseconds(), sess.TimeToFirstAudio.Milliseconds(),
		nullString(sess.Error), formatTime(sess.CreatedAt), nullTime(sess.EndedAt))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, trace_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		nullString(evt.SessionID), nullString(evt.TraceID), evt.Type, evt.Payload, formatTime(evt.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return nil
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, trace_id, event_type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var session, trace sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &session, &trace, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.SessionID, e.TraceID = session.String, trace.String
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, prompt, language, age_rating, status, paragraphs_generated, paragraphs_played,
		     audio_duration_ms, ttfa_ms, error, created_at, ended_at
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var language, rating, errText, ended sql.NullString
		var audioMS, ttfaMS int64
		var created string
		if err := rows.Scan(&sess.ID, &sess.Prompt, &language, &rating, &sess.Status, &sess.ParagraphsGenerated,
			&sess.ParagraphsPlayed, &audioMS, &ttfaMS, &errText, &created, &ended); err != nil {
			return nil, err
		}
		sess.Language, sess.AgeRating, sess.Error = language.String, rating.String, errText.String
		sess.AudioDuration = time.Duration(audioMS) * time.Millisecond
		sess.TimeToFirstAudio = time.Duration(ttfaMS) * time.Millisecond
		sess.CreatedAt = parseTime(created)
		if ended.Valid {
			sess.EndedAt = parseTime(ended.String)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Summarize aggregates every stored session. The time-to-first-audio
// average only covers completed sessions that produced audio.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	if s.disabled() {
		return sum, nil
	}
	var avg sql.NullFloat64
	var audioMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		     COALESCE(SUM(status = 'completed'), 0),
		     COALESCE(SUM(status = 'failed'), 0),
		     COALESCE(SUM(status = 'stopped'), 0),
		     COALESCE(SUM(paragraphs_played), 0),
		     COALESCE(SUM(audio_duration_ms), 0),
		     AVG(CASE WHEN status = 'completed' AND paragraphs_generated > 0 THEN ttfa_ms END)
		 FROM sessions`).Scan(&sum.Sessions, &sum.Completed, &sum.Failed, &sum.Stopped,
		&sum.ParagraphsPlayed, &audioMS, &avg)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize sessions: %w", err)
	}
	sum.AudioDuration = time.Duration(audioMS) * time.Millisecond
	if avg.Valid {
		sum.AverageTimeToFirstAudio = time.Duration(avg.Float64 * float64(time.Millisecond))
	}
	return sum, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		// nothing to prune
		return tx.Commit()
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := formatTime(s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour))
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	ts, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
