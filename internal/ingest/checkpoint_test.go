package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoints.json"), nil)

	if cp := store.Load("github"); cp != "" {
		t.Errorf("expected empty checkpoint for unknown source, got %s", cp)
	}

	cp := CheckpointFromTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Save("github", cp); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("linear", CheckpointFromTime(time.Now().UTC())); err != nil {
		t.Fatalf("save second source: %v", err)
	}

	if got := store.Load("github"); got != cp {
		t.Errorf("expected %s, got %s", cp, got)
	}
}

func TestCheckpointStore_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	cp := CheckpointFromTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	first := NewCheckpointStore(path, nil)
	if err := first.Save("github", cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := NewCheckpointStore(path, nil)
	if got := second.Load("github"); got != cp {
		t.Errorf("expected %s after restart, got %s", cp, got)
	}
}

func TestCheckpointStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	store := NewCheckpointStore(path, nil)
	if cp := store.Load("github"); cp != "" {
		t.Errorf("expected empty checkpoint from corrupt file, got %s", cp)
	}

	// Saving must replace the corrupt file with a valid one.
	want := CheckpointFromTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := store.Save("github", want); err != nil {
		t.Fatalf("save over corrupt file: %v", err)
	}
	if got := store.Load("github"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
