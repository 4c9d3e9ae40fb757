package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

func TestWriterAppendsToDaily(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	seg := transcribe.Segment{
		Text:      "Notice is hereby given.",
		StartTime: 0.0,
		EndTime:   1.0,
		Timestamp: time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local),
	}

	if err := w.Append(seg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	path := filepath.Join(dir, "2026-02-26.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "[10:30:00]") {
		t.Errorf("expected timestamp in content, got: %s", content)
	}
	if !strings.Contains(content, "Notice is hereby given.") {
		t.Errorf("expected segment text in content, got: %s", content)
	}
	if w.PathFor(seg.Timestamp) != path {
		t.Errorf("PathFor = %q, want %q", w.PathFor(seg.Timestamp), path)
	}
}

func TestWriterMultipleAppends(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	ts := time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local)

	_ = w.Append(transcribe.Segment{Text: "First.", Timestamp: ts})
	_ = w.Append(transcribe.Segment{Text: "Second.", Timestamp: ts})

	path := filepath.Join(dir, "2026-02-26.md")
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}
