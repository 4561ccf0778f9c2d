// Package dedup implements the time-windowed, hash-keyed admission gate
// for repeated events.
package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
	"github.com/OrgLoop/orgloop-sub001/internal/jsonpath"
)

// absentSentinel stands in for key fields that do not resolve. It keeps
// key construction total: an event with a missing field still dedups.
const absentSentinel = "<absent>"

// keySeparator joins resolved key fields. NUL cannot appear in normal
// field values, so ("ab","") and ("a","b") hash differently.
const keySeparator = "\x00"

// minSweepInterval floors the background sweep cadence for tiny windows.
const minSweepInterval = 10 * time.Second

// DefaultKey is used when configuration names no key paths.
var DefaultKey = []string{"source", "type", "id"}

// Config holds dedup transform configuration.
type Config struct {
	Key    []string      `yaml:"key,omitempty"`
	Window time.Duration `yaml:"window"`
}

// Dedup drops events whose key was already admitted inside the window.
// State is process-local and is cleared on Close; it does not survive a
// restart.
type Dedup struct {
	key    []string
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen map[[sha256.Size]byte]time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a dedup transform and starts its background sweep.
func New(cfg Config, logger *slog.Logger) (*Dedup, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("dedup window must be positive, got %s", cfg.Window)
	}
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Key
	if len(key) == 0 {
		key = DefaultKey
	}

	d := &Dedup{
		key:    key,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
		seen:   make(map[[sha256.Size]byte]time.Time),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.sweepLoop()
	return d, nil
}

// Apply admits or drops one event. The first admission of a key anchors
// the window: repeats inside the window are dropped without refreshing
// the stored instant, so a steady stream of repeats still expires.
func (d *Dedup) Apply(_ context.Context, evt *event.Envelope) (*event.Envelope, error) {
	key := d.keyFor(evt)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if stored, ok := d.seen[key]; ok {
		if now.Sub(stored) < d.window {
			d.logger.Debug("duplicate event dropped", "event_id", evt.ID, "source", evt.Source)
			return nil, nil
		}
		// Expired entry: this admission starts a fresh window.
		d.seen[key] = now
		return evt, nil
	}

	d.seen[key] = now
	return evt, nil
}

// keyFor resolves the configured paths against the event and hashes the
// NUL-joined values.
func (d *Dedup) keyFor(evt *event.Envelope) [sha256.Size]byte {
	data := evt.AsMap()
	h := sha256.New()
	for i, path := range d.key {
		if i > 0 {
			h.Write([]byte(keySeparator))
		}
		h.Write([]byte(resolveKeyField(data, path)))
	}
	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

func resolveKeyField(data map[string]any, path string) string {
	res := jsonpath.Resolve(data, path)
	switch res.Kind {
	case jsonpath.Scalar:
		if res.Value == nil {
			return absentSentinel
		}
		return fmt.Sprintf("%v", res.Value)
	case jsonpath.Projected:
		if len(res.Values) == 0 {
			return absentSentinel
		}
		return fmt.Sprintf("%v", res.Values)
	default:
		return absentSentinel
	}
}

// sweepLoop evicts expired entries so memory stays bounded to roughly one
// window's worth of distinct keys.
func (d *Dedup) sweepLoop() {
	defer close(d.done)

	interval := d.window
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dedup) sweep() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, stored := range d.seen {
		if now.Sub(stored) > d.window {
			delete(d.seen, key)
		}
	}
}

// Size returns the current number of cached keys.
func (d *Dedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Close stops the sweep and clears all state.
func (d *Dedup) Close() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
		<-d.done
	}
	d.mu.Lock()
	d.seen = make(map[[sha256.Size]byte]time.Time)
	d.mu.Unlock()
	return nil
}
