package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "gateway.log"), 1024)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	want := filepath.Join(dir, "gateway-"+today+".log")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read %s: %v", want, err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestWriterSizeRollover(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "gateway.log"), 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if _, err := w.Write([]byte("12345678\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "gateway-*.log"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected a size rollover, got files %v", files)
	}
	rolled := false
	for _, f := range files {
		if strings.Contains(filepath.Base(f), "-2.log") {
			rolled = true
		}
	}
	if !rolled {
		t.Fatalf("expected an index-suffixed file, got %v", files)
	}
}

func TestWriterDiscardTarget(t *testing.T) {
	w, err := NewWriter("-", 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := w.Write([]byte("ignored")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
