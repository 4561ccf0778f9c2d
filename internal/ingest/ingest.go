// Package ingest implements crash-safe event admission: webhook push with
// durable buffering and pull-mode poll+diff, unified by one poll contract.
package ingest

import (
	"context"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// Checkpoint is an opaque cursor returned by every poll and handed back
// on the next one. In this implementation it is an RFC 3339 instant, but
// callers must not depend on that.
type Checkpoint string

// CheckpointFromTime renders an instant as a checkpoint.
func CheckpointFromTime(t time.Time) Checkpoint {
	return Checkpoint(t.UTC().Format(time.RFC3339Nano))
}

// Time parses the checkpoint back into an instant. The second return is
// false for the empty checkpoint or an unparsable cursor.
func (c Checkpoint) Time() (time.Time, bool) {
	if c == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, string(c))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// advance returns the later of the checkpoint and t, keeping cursors
// monotonic across polls.
func (c Checkpoint) advance(t time.Time) Checkpoint {
	if prev, ok := c.Time(); ok && prev.After(t) {
		return c
	}
	return CheckpointFromTime(t)
}

// PollResult carries one poll's admitted events and the advanced cursor.
type PollResult struct {
	Events     []*event.Envelope
	Checkpoint Checkpoint
}

// Source is an event admission point. Poll calls for one source are
// serialized by the pipeline; implementations still lock their own
// compound read-modify-write sequences because webhook requests land
// concurrently at the transport layer.
type Source interface {
	// Name returns the source identifier stamped on admitted envelopes.
	Name() string

	// Poll drains or synthesizes events since the given checkpoint. The
	// empty checkpoint means "apply a default lookback from now".
	Poll(ctx context.Context, cp Checkpoint) (PollResult, error)

	// Close releases source resources.
	Close() error
}
