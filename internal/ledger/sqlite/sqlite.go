package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/openfiesta/fiesta-gateway/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	used_model TEXT NOT NULL,
	key_source TEXT NOT NULL,
	status TEXT NOT NULL,
	fallback_used INTEGER NOT NULL DEFAULT 0,
	delta_bytes INTEGER NOT NULL DEFAULT 0,
	dropped_frames INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exchanges_model_created ON exchanges(model, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new exchange entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.Model == "" {
		return errors.New("ledger record requires model")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	usedModel := entry.UsedModel
	if usedModel == "" {
		usedModel = entry.Model
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchanges(request_id, model, used_model, key_source, status, fallback_used, delta_bytes, dropped_frames, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.Model,
		usedModel,
		entry.KeySource,
		entry.Status,
		boolToInt(entry.FallbackUsed),
		entry.DeltaBytes,
		entry.DroppedFrames,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary returns aggregated exchange outcomes.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0) AS errors,
	COALESCE(SUM(delta_bytes), 0) AS delta_bytes,
	COALESCE(SUM(fallback_used), 0) AS fallbacks
FROM exchanges`)

	var sum ledger.Summary
	if err := row.Scan(&sum.TotalRequests, &sum.TotalErrors, &sum.TotalDeltaBytes, &sum.FallbacksUsed); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest exchange entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, model, used_model, key_source, status, fallback_used, delta_bytes, dropped_frames, duration_ms, created_at
FROM exchanges
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var fallback int
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Model, &e.UsedModel, &e.KeySource, &e.Status, &fallback, &e.DeltaBytes, &e.DroppedFrames, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FallbackUsed = fallback != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
