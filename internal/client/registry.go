package client

import (
	"fmt"
	"sync"

	"github.com/mkuusisto/unifs/internal/resource"
)

// Registry maps schemes to protocol clients. Registration happens once at
// startup; Lookup is called on every operation, so reads take the cheap
// path of an RWMutex.
type Registry struct {
	mu      sync.RWMutex
	clients map[resource.Kind]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[resource.Kind]Client)}
}

// Register installs c as the handler for its scheme, replacing any prior
// registration.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.Scheme()] = c
}

// Lookup returns the client for kind, or an ErrUnsupported-classed error
// when no client is registered.
func (r *Registry) Lookup(kind resource.Kind) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for scheme %q", ErrUnsupported, kind)
	}

	return c, nil
}

// Kinds returns the registered schemes, for diagnostics.
func (r *Registry) Kinds() []resource.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]resource.Kind, 0, len(r.clients))
	for k := range r.clients {
		kinds = append(kinds, k)
	}

	return kinds
}
