// Package metrics tracks gateway counters in process. Snapshots are exposed
// over the admin endpoint as JSON.
package metrics

import (
	"sync"
	"time"
)

// Collector collects per-model request metrics.
type Collector struct {
	mu sync.RWMutex

	requestsByModel map[string]int64
	requestDurMS    map[string]int64
	errorsByModel   map[string]int64
	inProgress      int64

	fallbackRetries int64
	fallbacksUsed   int64
	timeouts        int64
	streamedBytes   int64
	droppedFrames   int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		requestsByModel: make(map[string]int64),
		requestDurMS:    make(map[string]int64),
		errorsByModel:   make(map[string]int64),
		startTime:       time.Now(),
	}
}

// RecordRequestStart increments in-flight requests.
func (c *Collector) RecordRequestStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress++
}

// RecordRequest records one finished exchange.
func (c *Collector) RecordRequest(model string, duration time.Duration, streamedBytes int64, droppedFrames int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress--
	c.requestsByModel[model]++
	c.requestDurMS[model] += duration.Milliseconds()
	c.streamedBytes += streamedBytes
	c.droppedFrames += int64(droppedFrames)
}

// RecordError records a failed exchange for a model.
func (c *Collector) RecordError(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorsByModel[model]++
}

// RecordFallback records a fallback retry and whether its stream was adopted.
func (c *Collector) RecordFallback(used bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbackRetries++
	if used {
		c.fallbacksUsed++
	}
}

// RecordTimeout records an upstream timeout.
func (c *Collector) RecordTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds   int64            `json:"uptime_seconds"`
	RequestsByModel map[string]int64 `json:"requests_by_model"`
	RequestDurMS    map[string]int64 `json:"request_duration_ms_by_model"`
	ErrorsByModel   map[string]int64 `json:"errors_by_model"`
	InProgress      int64            `json:"in_progress"`
	FallbackRetries int64            `json:"fallback_retries"`
	FallbacksUsed   int64            `json:"fallbacks_used"`
	Timeouts        int64            `json:"timeouts"`
	StreamedBytes   int64            `json:"streamed_bytes"`
	DroppedFrames   int64            `json:"dropped_frames"`
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UptimeSeconds:   int64(time.Since(c.startTime).Seconds()),
		RequestsByModel: copyMap(c.requestsByModel),
		RequestDurMS:    copyMap(c.requestDurMS),
		ErrorsByModel:   copyMap(c.errorsByModel),
		InProgress:      c.inProgress,
		FallbackRetries: c.fallbackRetries,
		FallbacksUsed:   c.fallbacksUsed,
		Timeouts:        c.timeouts,
		StreamedBytes:   c.streamedBytes,
		DroppedFrames:   c.droppedFrames,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
