package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
)

const (
	deleteAttempts = 5
	deleteBackoff  = 50 * time.Millisecond
)

// SQLiteStore keeps session states as JSON rows.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(dbPath string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer avoids SQLITE_BUSY between concurrent conversations
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*dialogue.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return decodeState([]byte(raw))
}

func (s *SQLiteStore) Put(ctx context.Context, st dialogue.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT INTO sessions (id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, st.ID, string(raw), st.CreatedAt.Unix(), updated.Unix()); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Delete removes the session, retrying while the database is busy.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := retry(ctx, deleteAttempts, deleteBackoff, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			s.log.Warn("delete session failed", zap.String("id", id), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpired deletes sessions idle for longer than ttl and returns how
// many were removed.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if n > 0 {
		s.log.Info("expired sessions removed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
