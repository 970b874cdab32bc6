package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONLWriterFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "events", 16, 1)
	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "2026-03-04", "events.jsonl"))
	if len(lines) != 3 {
		t.Fatalf("got %d lines; want 3", len(lines))
	}
	if lines[2]["n"] != float64(2) {
		t.Fatalf("last line = %v; want n=2", lines[2])
	}
}

func TestJSONLWriterRejectsAfterClose(t *testing.T) {
	w := NewJSONLWriter(t.TempDir(), "events", 4, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after Close = %v; want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
