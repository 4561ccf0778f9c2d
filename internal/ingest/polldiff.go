package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// Lister performs one full listing of current upstream state. Connector
// implementations live elsewhere; the diff engine only needs this one
// operation.
type Lister interface {
	List(ctx context.Context) ([]Entity, error)
}

// Entity is one upstream object in a listing, keyed by a stable id.
type Entity struct {
	ID     string
	Fields map[string]any
}

// DiffConfig configures a pull-mode source.
type DiffConfig struct {
	// Source is the connector identifier stamped on envelopes.
	Source string
	// Platform fills provenance.platform. Defaults to Source.
	Platform string
	// SnapshotPath is where the previous listing is persisted between
	// polls. Required: without it every poll would re-create everything.
	SnapshotPath string
	// TrackFields limits change detection to these fields. Empty means
	// every field is tracked.
	TrackFields []string
}

// DiffSource synthesizes created/changed/removed events by comparing each
// listing against the persisted previous one.
type DiffSource struct {
	source   string
	platform string
	path     string
	tracked  []string
	lister   Lister
	logger   *slog.Logger
	now      func() time.Time
}

// NewDiffSource creates a pull-mode source around a Lister.
func NewDiffSource(cfg DiffConfig, lister Lister, logger *slog.Logger) (*DiffSource, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("diff source name is required")
	}
	if cfg.SnapshotPath == "" {
		return nil, fmt.Errorf("diff source %q requires a snapshot path", cfg.Source)
	}
	if lister == nil {
		return nil, fmt.Errorf("diff source %q requires a lister", cfg.Source)
	}
	if logger == nil {
		logger = slog.Default()
	}
	platform := cfg.Platform
	if platform == "" {
		platform = cfg.Source
	}
	return &DiffSource{
		source:   cfg.Source,
		platform: platform,
		path:     cfg.SnapshotPath,
		tracked:  cfg.TrackFields,
		lister:   lister,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Name returns the source identifier.
func (d *DiffSource) Name() string { return d.source }

// Poll lists upstream state, diffs it against the persisted snapshot, and
// returns the synthesized events. Auth and rate-limit failures yield an
// empty result with the checkpoint held at its input value so the same
// window retries next cycle; any other upstream failure propagates.
func (d *DiffSource) Poll(ctx context.Context, cp Checkpoint) (PollResult, error) {
	entities, err := d.lister.List(ctx)
	if err != nil {
		var authErr *UpstreamAuthError
		var rateErr *UpstreamRateLimitError
		if errors.As(err, &authErr) || errors.As(err, &rateErr) {
			d.logger.Warn("upstream unavailable, holding checkpoint", "source", d.source, "error", err)
			return PollResult{Checkpoint: cp}, nil
		}
		return PollResult{Checkpoint: cp}, fmt.Errorf("list %s: %w", d.source, err)
	}

	previous := d.loadSnapshot()
	current := make(map[string]map[string]any, len(entities))
	for _, e := range entities {
		current[e.ID] = e.Fields
	}

	events := d.diff(previous, current)

	if err := d.saveSnapshot(current); err != nil {
		// Failing the poll here would re-emit the same diff next cycle;
		// the caller's dedup window absorbs the repeats.
		d.logger.Error("snapshot persist failed", "source", d.source, "error", err)
	}

	return PollResult{Events: events, Checkpoint: cp.advance(d.now().UTC())}, nil
}

// diff synthesizes one event per created, changed, or removed entity.
// Entity ids are walked in sorted order so output is deterministic.
func (d *DiffSource) diff(previous, current map[string]map[string]any) []*event.Envelope {
	var events []*event.Envelope

	for _, id := range sortedKeys(current) {
		fields := current[id]
		prev, existed := previous[id]
		if !existed {
			events = append(events, d.changeEvent(id, "created", map[string]any{"fields": fields}))
			continue
		}
		if changes := d.fieldChanges(prev, fields); len(changes) > 0 {
			events = append(events, d.changeEvent(id, "updated", map[string]any{"changes": changes}))
		}
	}

	for _, id := range sortedKeys(previous) {
		if _, still := current[id]; !still {
			events = append(events, d.changeEvent(id, "removed", map[string]any{"fields": previous[id]}))
		}
	}

	return events
}

// fieldChanges returns {field: {from, to}} for every tracked field whose
// value differs between the two snapshots.
func (d *DiffSource) fieldChanges(prev, curr map[string]any) map[string]any {
	fields := d.tracked
	if len(fields) == 0 {
		seen := make(map[string]bool, len(prev)+len(curr))
		for k := range prev {
			seen[k] = true
		}
		for k := range curr {
			seen[k] = true
		}
		fields = make([]string, 0, len(seen))
		for k := range seen {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}

	changes := make(map[string]any)
	for _, f := range fields {
		if !reflect.DeepEqual(prev[f], curr[f]) {
			changes[f] = map[string]any{"from": prev[f], "to": curr[f]}
		}
	}
	return changes
}

func (d *DiffSource) changeEvent(entityID, change string, detail map[string]any) *event.Envelope {
	evt := event.New(d.source, event.TypeResourceChanged)
	evt.Timestamp = d.now().UTC()
	evt.Provenance[event.ProvenanceKeyPlatform] = d.platform
	evt.Payload = map[string]any{
		"entity_id": entityID,
		"change":    change,
	}
	for k, v := range detail {
		evt.Payload[k] = v
	}
	return evt
}

// loadSnapshot reads the persisted previous listing. A missing or corrupt
// snapshot is recovered as empty state: currently visible entities will
// appear newly created once more. Documented limitation, never fatal.
func (d *DiffSource) loadSnapshot() map[string]map[string]any {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("snapshot unreadable, starting from empty state", "source", d.source, "error", err)
		}
		return map[string]map[string]any{}
	}
	var snapshot map[string]map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		d.logger.Warn("snapshot corrupt, starting from empty state",
			"source", d.source, "error", &ParseError{What: "snapshot", Err: err})
		return map[string]map[string]any{}
	}
	return snapshot
}

// saveSnapshot writes the listing via a temp file and rename, so a crash
// mid-write leaves the previous snapshot intact.
func (d *DiffSource) saveSnapshot(snapshot map[string]map[string]any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

// Close releases nothing; the snapshot lives on disk.
func (d *DiffSource) Close() error { return nil }

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
