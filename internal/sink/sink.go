// Package sink defines the actor delivery contract.
package sink

import "context"

// Sink delivers a routed event to a downstream actor.
type Sink interface {
	// Deliver sends one serialized event. The pipeline records a
	// delivery failure but does not retry beyond what the sink itself
	// does; the ingestion protocol's at-least-once replay is the
	// recovery path.
	Deliver(ctx context.Context, event []byte, headers map[string]string) error

	// Close performs graceful shutdown.
	Close() error
}
