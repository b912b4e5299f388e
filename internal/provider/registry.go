package provider

import (
	"fmt"
	"sync"
)

// Registry holds the provider clients available to a reconciliation
// run, keyed by name. Builtin providers register through Register;
// in the future this would load plugins out of process.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// Register adds a client under a name. Registering the same name twice
// is an error; provider identity must be unambiguous within a run.
func (r *Registry) Register(name string, c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider already registered: %s", name)
	}
	r.clients[name] = c
	return nil
}

// Get returns a registered client.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return c, nil
}

// SchemaFor returns the declared schema of a provider, if it has one.
func (r *Registry) SchemaFor(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return Schema{}, false
	}
	sp, ok := c.(SchemaProvider)
	if !ok {
		return Schema{}, false
	}
	return sp.Schema(), true
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
