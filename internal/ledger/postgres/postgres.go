package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openfiesta/fiesta-gateway/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config tunes the connection pool for concurrent streaming workloads.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed ledger store using the provided DSN.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
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
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	used_model TEXT NOT NULL,
	key_source TEXT NOT NULL,
	status TEXT NOT NULL,
	fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
	delta_bytes BIGINT NOT NULL DEFAULT 0,
	dropped_frames BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID,
		entry.Model,
		usedModel,
		entry.KeySource,
		entry.Status,
		entry.FallbackUsed,
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
	COUNT(*),
	COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(delta_bytes), 0),
	COALESCE(SUM(CASE WHEN fallback_used THEN 1 ELSE 0 END), 0)
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
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Model, &e.UsedModel, &e.KeySource, &e.Status, &e.FallbackUsed, &e.DeltaBytes, &e.DroppedFrames, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
