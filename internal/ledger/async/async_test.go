package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openfiesta/fiesta-gateway/internal/ledger"
)

type captureStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (c *captureStore) Record(ctx context.Context, entry ledger.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureStore) Summary(ctx context.Context) (ledger.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ledger.Summary{TotalRequests: int64(len(c.entries))}, nil
}

func (c *captureStore) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]ledger.Entry(nil), c.entries...)
	return out, nil
}

func (c *captureStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestRecordNeverBlocks(t *testing.T) {
	under := &captureStore{}
	s := New(under, Config{ChannelBuffer: 1, FlushInterval: time.Hour, BatchSize: 1000})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = s.Record(context.Background(), ledger.Entry{Model: "m"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record must not block on a full queue")
	}
}

func TestFlushOnClose(t *testing.T) {
	under := &captureStore{}
	s := New(under, Config{FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		if err := s.Record(context.Background(), ledger.Entry{Model: "m", RequestID: "r"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := under.count(); got != 5 {
		t.Fatalf("expected 5 flushed entries, got %d", got)
	}
	if !under.closed {
		t.Fatal("underlying store must be closed")
	}
}

func TestPeriodicFlush(t *testing.T) {
	under := &captureStore{}
	s := New(under, Config{FlushInterval: 20 * time.Millisecond})
	defer s.Close()

	_ = s.Record(context.Background(), ledger.Entry{Model: "m"})

	deadline := time.Now().Add(2 * time.Second)
	for under.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry was not flushed by the ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadsDelegate(t *testing.T) {
	under := &captureStore{entries: []ledger.Entry{{Model: "m"}}}
	s := New(under, Config{})
	defer s.Close()

	sum, err := s.Summary(context.Background())
	if err != nil || sum.TotalRequests != 1 {
		t.Fatalf("summary delegate failed: %+v %v", sum, err)
	}
	entries, err := s.ListRecent(context.Background(), 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list delegate failed: %v %v", entries, err)
	}
}
