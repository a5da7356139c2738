// Package identity provides an in-memory identity directory: an allow-list
// of DIDs the overlay will accept during pairing.
package identity

import (
	"fmt"
	"sync"

	"wisp/internal/overlay"
)

// Registry is a concurrency-safe overlay.IdentityDirectory.
type Registry struct {
	mu       sync.RWMutex
	byDID    map[string]overlay.Identity
	allowAll bool
}

// NewRegistry returns an empty registry; only explicitly added DIDs validate.
func NewRegistry() *Registry {
	return &Registry{byDID: make(map[string]overlay.Identity)}
}

// AllowAll returns a registry that validates every DID. Useful for samples
// and tests; a real deployment supplies a curated roster.
func AllowAll() *Registry {
	r := NewRegistry()
	r.allowAll = true
	return r
}

// Add registers an identity by its DID.
func (r *Registry) Add(id overlay.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDID[id.DID] = id
}

// GetIdentity implements overlay.IdentityDirectory.
func (r *Registry) GetIdentity(did string) (overlay.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byDID[did]; ok {
		return id, nil
	}
	if r.allowAll {
		return overlay.Identity{DID: did}, nil
	}
	return overlay.Identity{}, fmt.Errorf("%w: %s", overlay.ErrIdentityNotFound, did)
}

var _ overlay.IdentityDirectory = (*Registry)(nil)
