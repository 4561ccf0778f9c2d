// Package event defines the normalized envelope that flows through the
// routing and transform pipeline.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of events the pipeline understands.
type Type string

const (
	// TypeResourceChanged signals that a tracked external resource changed state.
	TypeResourceChanged Type = "resource.changed"
	// TypeActorStopped signals that a downstream actor finished or aborted.
	TypeActorStopped Type = "actor.stopped"
	// TypeMessageReceived signals an inbound message from a person or system.
	TypeMessageReceived Type = "message.received"
)

// ValidType reports whether t is one of the enumerated event types.
func ValidType(t Type) bool {
	switch t {
	case TypeResourceChanged, TypeActorStopped, TypeMessageReceived:
		return true
	}
	return false
}

// ProvenanceKeyPlatform is the one provenance field every envelope carries.
const ProvenanceKeyPlatform = "platform"

// Envelope is the unit flowing through the pipeline. ID and TraceID are
// assigned once at ingestion and never change afterwards.
type Envelope struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Type       Type           `json:"type"`
	Provenance map[string]any `json:"provenance"`
	Payload    map[string]any `json:"payload"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// New creates an envelope with a fresh id, trace id, and timestamp.
func New(source string, typ Type) *Envelope {
	return &Envelope{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Type:       typ,
		Provenance: map[string]any{},
		Payload:    map[string]any{},
		TraceID:    uuid.New().String(),
	}
}

// Validate checks the envelope invariants: a non-empty id and source, an
// enumerated type, and a provenance map carrying the platform field.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	if e.Source == "" {
		return fmt.Errorf("envelope %s missing source", e.ID)
	}
	if !ValidType(e.Type) {
		return fmt.Errorf("envelope %s has unknown type %q", e.ID, e.Type)
	}
	if e.Provenance == nil || e.Provenance[ProvenanceKeyPlatform] == nil {
		return fmt.Errorf("envelope %s missing provenance.platform", e.ID)
	}
	return nil
}

// AsMap returns the envelope as a nested map for dot-path resolution.
// The timestamp is rendered in RFC 3339 so path patterns can match it
// as a string.
func (e *Envelope) AsMap() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":     e.Source,
		"type":       string(e.Type),
		"provenance": e.Provenance,
		"payload":    e.Payload,
		"trace_id":   e.TraceID,
	}
}

// Clone returns a deep-enough copy for per-route transform chains: the
// top-level maps are copied so one route's transforms cannot mutate what
// another route sees. Nested values are shared.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Provenance = make(map[string]any, len(e.Provenance))
	for k, v := range e.Provenance {
		c.Provenance[k] = v
	}
	c.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	return &c
}
