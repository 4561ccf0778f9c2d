// Package transform defines the per-route transform stage contract.
package transform

import (
	"context"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// Transformer gates or mutates an event before delivery.
type Transformer interface {
	// Apply processes one event. A nil envelope with a nil error means
	// the transform dropped the event (a dedup hit or a filter miss).
	// A non-nil error also drops the event, but signals a condition the
	// pipeline should surface (evaluator failures are the main case).
	Apply(ctx context.Context, evt *event.Envelope) (*event.Envelope, error)

	// Close releases any resources held by the transform.
	Close() error
}

// Chain applies transforms in order, stopping at the first drop.
func Chain(ctx context.Context, evt *event.Envelope, transforms []Transformer) (*event.Envelope, error) {
	current := evt
	for _, t := range transforms {
		next, err := t.Apply(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}
