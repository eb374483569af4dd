package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known adapters and designates one as the default.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. The first registered adapter becomes the default
// unless makeDefault later overrides it.
func (r *Registry) Register(a Adapter, makeDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[a.ID()] = a
	if makeDefault || r.defaultID == "" {
		r.defaultID = a.ID()
	}
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("adapter %q: %w", id, ErrAdapterNotFound)
	}
	return a, nil
}

// Default returns the default adapter.
func (r *Registry) Default() (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultID == "" {
		return nil, fmt.Errorf("no default adapter: %w", ErrAdapterNotFound)
	}
	return r.adapters[r.defaultID], nil
}

// Resolve returns the adapter for id, or the default when id is empty.
func (r *Registry) Resolve(id string) (Adapter, error) {
	if id == "" {
		return r.Default()
	}
	return r.Get(id)
}

// List returns all registered adapters sorted by id.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
