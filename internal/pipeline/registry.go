package pipeline

import (
	"sync"

	"github.com/OrgLoop/orgloop-sub001/internal/route"
	"github.com/OrgLoop/orgloop-sub001/internal/sink"
	"github.com/OrgLoop/orgloop-sub001/internal/transform"
)

// Binding ties one compiled route to its transform chain and sink.
type Binding struct {
	Route      route.Route
	Transforms []transform.Transformer
	Sink       sink.Sink
}

// Registry holds the active binding set, versioned and swapped atomically
// under one coarse lock so readers never observe a partially-updated
// configuration.
type Registry struct {
	mu       sync.RWMutex
	version  uint64
	bindings []Binding
}

// NewRegistry creates a registry with the initial binding set at
// version 1.
func NewRegistry(bindings []Binding) *Registry {
	return &Registry{version: 1, bindings: bindings}
}

// Snapshot returns the current bindings and version. The returned slice
// must be treated as read-only.
func (r *Registry) Snapshot() ([]Binding, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings, r.version
}

// Swap replaces the binding set, bumps the version, and returns the
// previous bindings so the caller can close their resources.
func (r *Registry) Swap(bindings []Binding) (previous []Binding, version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.bindings
	r.bindings = bindings
	r.version++
	return previous, r.version
}

// Version returns the current configuration version.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
