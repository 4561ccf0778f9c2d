// Package deadletter records events whose delivery ultimately failed, so
// operators can inspect and replay them.
package deadletter

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// FailureInfo describes why an event failed delivery.
type FailureInfo struct {
	Route        string `json:"route"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// record is one dead-letter log line.
type record struct {
	FailedAt time.Time       `json:"failed_at"`
	Info     FailureInfo     `json:"info"`
	Event    *event.Envelope `json:"event"`
}

// Handler appends failed events to a newline-delimited JSON log. A nil
// path disables recording.
type Handler struct {
	mu   sync.Mutex
	path string
}

// NewHandler creates a dead-letter handler. An empty path yields a
// handler that discards everything.
func NewHandler(path string) *Handler {
	return &Handler{path: path}
}

// Record appends one failure.
func (h *Handler) Record(evt *event.Envelope, info FailureInfo) error {
	if h.path == "" {
		return nil
	}

	line, err := json.Marshal(record{
		FailedAt: time.Now().UTC(),
		Info:     info,
		Event:    evt,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open dead letter log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}
