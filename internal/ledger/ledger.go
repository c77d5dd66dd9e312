// Package ledger records one row per completed exchange for operational
// visibility. Writes are best-effort: a ledger failure never fails a request.
package ledger

import (
	"context"
	"time"
)

// Entry is a single exchange record.
type Entry struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"request_id"`
	Model         string    `json:"model"`
	UsedModel     string    `json:"used_model"`
	KeySource     string    `json:"key_source"`
	Status        string    `json:"status"`
	FallbackUsed  bool      `json:"fallback_used"`
	DeltaBytes    int64     `json:"delta_bytes"`
	DroppedFrames int64     `json:"dropped_frames"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary aggregates exchange outcomes.
type Summary struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalErrors     int64 `json:"total_errors"`
	TotalDeltaBytes int64 `json:"total_delta_bytes"`
	FallbacksUsed   int64 `json:"fallbacks_used"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
