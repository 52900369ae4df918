// Package store provides the SQLite-backed local database: durable
// key/value storage for the write queue and a log of flush cycles.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the local SQLite database.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers without relying on busy retries.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Load returns the value stored under key, or nil if the key was never saved.
func (s *SQLiteStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var value []byte
	err := s.db.QueryRow("SELECT value FROM local_storage WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// Save stores data under key, replacing any previous value.
func (s *SQLiteStore) Save(key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO local_storage (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	res, err := s.db.Exec("DELETE FROM local_storage WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// historyTimeLayout is fixed width so started_at sorts and compares as text.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FlushRecord is one row of the flush history.
type FlushRecord struct {
	ID        int64
	Source    types.SyncSource
	Status    types.SyncStatus
	StartedAt time.Time
	Duration  time.Duration
	Sent      int
	Remaining int
	Failed    int
	Error     string
	Summary   *types.FlushSummary
}

// RecordFlush appends the outcome of one flush cycle to the history.
// summary may be nil when the cycle failed before producing results.
func (s *SQLiteStore) RecordFlush(ctx context.Context, source types.SyncSource, status types.SyncStatus, summary *types.FlushSummary, flushErr error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var (
		startedAt = time.Now().UTC()
		duration  time.Duration
		sent      int
		remaining int
		failed    int
		errText   sql.NullString
	)
	if summary != nil {
		if !summary.StartedAt.IsZero() {
			startedAt = summary.StartedAt.UTC()
		}
		duration = summary.Duration
		sent = summary.Sent
		remaining = summary.Remaining
		failed = summary.Due - summary.Sent
	}
	if flushErr != nil {
		errText = sql.NullString{String: flushErr.Error(), Valid: true}
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flush_history (source, status, started_at, duration_ms, sent, remaining, failed, error, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(source), string(status), startedAt.Format(historyTimeLayout), duration.Milliseconds(),
		sent, remaining, failed, errText, string(raw))
	if err != nil {
		return fmt.Errorf("record flush: %w", err)
	}
	return nil
}

// RecentFlushes returns up to limit flush records, newest first.
func (s *SQLiteStore) RecentFlushes(ctx context.Context, limit int) ([]FlushRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, status, started_at, duration_ms, sent, remaining, failed, error, summary
		FROM flush_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query flush history: %w", err)
	}
	defer rows.Close()

	var out []FlushRecord
	for rows.Next() {
		var (
			r          FlushRecord
			source     string
			status     string
			startedAt  string
			durationMS int64
			errText    sql.NullString
			raw        string
		)
		if err := rows.Scan(&r.ID, &source, &status, &startedAt, &durationMS, &r.Sent, &r.Remaining, &r.Failed, &errText, &raw); err != nil {
			return nil, err
		}
		r.Source = types.SyncSource(source)
		r.Status = types.SyncStatus(status)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Error = errText.String
		if raw != "" && raw != "null" {
			var summary types.FlushSummary
			if err := json.Unmarshal([]byte(raw), &summary); err == nil {
				r.Summary = &summary
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneFlushHistory deletes flush records started before the given time and
// returns how many were removed.
func (s *SQLiteStore) PruneFlushHistory(ctx context.Context, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM flush_history WHERE started_at < ?",
		before.UTC().Format(historyTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune flush history: %w", err)
	}
	return res.RowsAffected()
}
