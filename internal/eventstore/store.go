package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-stream/internal/config"
	_ "modernc.org/sqlite"
)

// Record is one stored transcript delta.
type Record struct {
	ID        int64
	SessionID string
	Text      string
	IsFinal   bool
	Utterance int
	Sequence  uint64
	CreatedAt time.Time
}

// SessionInfo describes a stored session.
type SessionInfo struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time
}

// Store keeps a SQLite-backed transcript timeline per session.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode opens no database
// and every write is a no-op.
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
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
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
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    utterance INTEGER NOT NULL,
    sequence INTEGER NOT NULL,
    text TEXT NOT NULL,
    is_final INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_seq ON transcripts(session_id, sequence);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartSession records a session start. Restarting a known id keeps its transcripts.
func (s *Store) StartSession(ctx context.Context, sessionID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET ended_at=NULL`,
		sessionID, s.clock().UnixNano())
	return err
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		s.clock().UnixNano(), sessionID)
	return err
}

// AppendTranscript writes one transcript delta.
func (s *Store) AppendTranscript(ctx context.Context, rec Record) error {
	if !s.enabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, utterance, sequence, text, is_final, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Utterance, int64(rec.Sequence), rec.Text, rec.IsFinal, rec.CreatedAt.UnixNano())
	return err
}

// Transcripts retrieves up to limit deltas for a session in delivery order.
func (s *Store) Transcripts(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, utterance, sequence, text, is_final, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY sequence ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			seq     int64
			created int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Utterance, &seq, &r.Text, &r.IsFinal, &created); err != nil {
			return nil, err
		}
		r.Sequence = uint64(seq)
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Utterances joins each utterance's deltas into its full text, in order.
func (s *Store) Utterances(ctx context.Context, sessionID string) ([]string, error) {
	records, err := s.Transcripts(ctx, sessionID, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	var (
		out     []string
		current strings.Builder
		last    = -1
	)
	for _, r := range records {
		if r.Utterance != last && current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
		last = r.Utterance
		current.WriteString(r.Text)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out, nil
}

// Session returns the stored session row, or sql.ErrNoRows.
func (s *Store) Session(ctx context.Context, sessionID string) (SessionInfo, error) {
	if !s.enabled() {
		return SessionInfo{}, sql.ErrNoRows
	}
	var (
		info    SessionInfo
		started int64
		ended   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, started_at, ended_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&info.SessionID, &started, &ended)
	if err != nil {
		return SessionInfo{}, err
	}
	info.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		info.EndedAt = time.Unix(0, ended.Int64).UTC()
	}
	return info, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
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

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
