package ingest

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// CheckpointStore persists per-source checkpoints as one small JSON file,
// so a restarted process resumes polling where it left off. A corrupt
// file degrades to empty checkpoints (default lookback), matching the
// snapshot recovery policy.
type CheckpointStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewCheckpointStore creates a store backed by the given file.
func NewCheckpointStore(path string, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{path: path, logger: logger}
}

// Load returns the persisted checkpoint for a source, or the empty
// checkpoint when none is recorded.
func (s *CheckpointStore) Load(source string) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Checkpoint(s.read()[source])
}

// Save records the checkpoint for a source.
func (s *CheckpointStore) Save(source string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.read()
	all[source] = string(cp)

	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *CheckpointStore) read() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint file unreadable, starting fresh", "path", s.path, "error", err)
		}
		return map[string]string{}
	}
	var all map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		s.logger.Warn("checkpoint file corrupt, starting fresh", "path", s.path, "error", err)
		return map[string]string{}
	}
	return all
}
