package core

import (
	"sort"
	"sync"

	cerrors "github.com/najoast/actormesh/errors"
)

// Registry maps local names to targets. It is the table consulted when a
// message addressed by name arrives from another peer.
type Registry struct {
	mu sync.RWMutex

	// Maps name to actor or pool
	entries map[string]Target
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Target)}
}

// Register binds name to t. A name can be bound once; Unregister it first to
// rebind.
func (r *Registry) Register(name string, t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return cerrors.ErrNameRegistered.GenWithStackByArgs(name)
	}
	r.entries[name] = t
	return nil
}

// Unregister removes the binding of name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[name]
	delete(r.entries, name)
	return exists
}

// Lookup returns the target bound to name or ErrActorNotFound.
func (r *Registry) Lookup(name string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.entries[name]
	if !exists {
		return nil, cerrors.ErrActorNotFound.GenWithStackByArgs(name)
	}
	return t, nil
}

// Names returns all bound names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
