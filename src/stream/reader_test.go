package stream

import (
	"path/filepath"
	"testing"
)

func TestSnapshotEventsElidesBeforeLastClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	w, err := NewWriter(path, 80, 24, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.AppendOutput("stale output")
	w.AppendOutput("\x1b[2Jfresh start")
	w.AppendOutput("more")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, events, err := SnapshotEvents(path, 0)
	if err != nil {
		t.Fatalf("SnapshotEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after elision, got %d: %+v", len(events), events)
	}
	if events[0].Data != "\x1b[2Jfresh start" {
		t.Fatalf("unexpected first retained event: %+v", events[0])
	}
	if events[0].T != 0 {
		t.Fatalf("expected rebased first timestamp 0, got %v", events[0].T)
	}
}

func TestSnapshotEventsRespectsTailLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	w, err := NewWriter(path, 80, 24, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.AppendOutput("x")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, events, err := SnapshotEvents(path, 2)
	if err != nil {
		t.Fatalf("SnapshotEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected tail-limited 2 events, got %d", len(events))
	}
}

func TestSnapshotEventsNoClearKeepsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	w, err := NewWriter(path, 80, 24, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.AppendOutput("a")
	w.AppendOutput("b")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, events, err := SnapshotEvents(path, 0)
	if err != nil {
		t.Fatalf("SnapshotEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected both events retained, got %d", len(events))
	}
}
