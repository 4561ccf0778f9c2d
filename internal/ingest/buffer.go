package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// buffer holds webhook envelopes between receipt and the next poll.
type buffer interface {
	append(evt *event.Envelope) error
	// drain returns all buffered envelopes in append order and clears
	// the buffer atomically with respect to concurrent appends.
	drain() ([]*event.Envelope, error)
}

// memBuffer is the in-memory queue used when no durable path is
// configured. Lost on crash, by design.
type memBuffer struct {
	mu    sync.Mutex
	queue []*event.Envelope
}

func (b *memBuffer) append(evt *event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, evt)
	return nil
}

func (b *memBuffer) drain() ([]*event.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.queue
	b.queue = nil
	return drained, nil
}

// fileBuffer is an append-only newline-delimited JSON log, truncated to
// empty on each successful drain. A crash between append and drain means
// those lines are read again after restart: at-least-once, not
// exactly-once.
type fileBuffer struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func newFileBuffer(path string, logger *slog.Logger) *fileBuffer {
	return &fileBuffer{path: path, logger: logger}
}

func (b *fileBuffer) append(evt *event.Envelope) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	return f.Sync()
}

// drain reads the whole log and truncates it under one lock, so appends
// landing during a drain are never lost: they either made it into the
// read or remain for the next drain. An unreadable or malformed file
// degrades to an empty drain rather than failing the poll.
func (b *fileBuffer) drain() ([]*event.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("buffer file unreadable, draining empty", "path", b.path, "error", err)
		}
		return nil, nil
	}

	var drained []*event.Envelope
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt event.Envelope
		if err := json.Unmarshal(line, &evt); err != nil {
			b.logger.Warn("skipping malformed buffer line", "path", b.path, "error", err)
			continue
		}
		drained = append(drained, &evt)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("buffer scan stopped early", "path", b.path, "error", err)
	}

	if err := os.Truncate(b.path, 0); err != nil {
		// Leave the lines in place; they will replay on the next drain.
		return nil, err
	}
	return drained, nil
}
