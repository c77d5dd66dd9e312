package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequestStart()
	c.RecordRequestStart()

	snap := c.GetSnapshot()
	if snap.InProgress != 2 {
		t.Fatalf("expected 2 in progress, got %d", snap.InProgress)
	}

	c.RecordRequest("a/model", 120*time.Millisecond, 1000, 2)
	c.RecordRequest("a/model", 80*time.Millisecond, 500, 0)
	c.RecordError("a/model")
	c.RecordFallback(true)
	c.RecordFallback(false)
	c.RecordTimeout()

	snap = c.GetSnapshot()
	if snap.InProgress != 0 {
		t.Fatalf("expected 0 in progress, got %d", snap.InProgress)
	}
	if snap.RequestsByModel["a/model"] != 2 {
		t.Fatalf("expected 2 requests, got %d", snap.RequestsByModel["a/model"])
	}
	if snap.RequestDurMS["a/model"] != 200 {
		t.Fatalf("expected 200ms total, got %d", snap.RequestDurMS["a/model"])
	}
	if snap.ErrorsByModel["a/model"] != 1 {
		t.Fatalf("expected 1 error, got %d", snap.ErrorsByModel["a/model"])
	}
	if snap.FallbackRetries != 2 || snap.FallbacksUsed != 1 {
		t.Fatalf("unexpected fallback counters %+v", snap)
	}
	if snap.Timeouts != 1 {
		t.Fatalf("expected 1 timeout, got %d", snap.Timeouts)
	}
	if snap.StreamedBytes != 1500 {
		t.Fatalf("expected 1500 streamed bytes, got %d", snap.StreamedBytes)
	}
	if snap.DroppedFrames != 2 {
		t.Fatalf("expected 2 dropped frames, got %d", snap.DroppedFrames)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart()
	c.RecordRequest("m", time.Millisecond, 1, 0)

	snap := c.GetSnapshot()
	snap.RequestsByModel["m"] = 99

	if c.GetSnapshot().RequestsByModel["m"] != 1 {
		t.Fatal("mutating a snapshot must not affect the collector")
	}
}

func TestCollectorConcurrency(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordRequestStart()
				c.RecordRequest("m", time.Millisecond, 10, 1)
				_ = c.GetSnapshot()
			}
		}()
	}
	wg.Wait()

	snap := c.GetSnapshot()
	if snap.RequestsByModel["m"] != 800 {
		t.Fatalf("expected 800 requests, got %d", snap.RequestsByModel["m"])
	}
	if snap.InProgress != 0 {
		t.Fatalf("expected 0 in progress, got %d", snap.InProgress)
	}
}
