package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves the "provider:model-id" string carried in an agent's
// config into a concrete Provider plus model name, mirroring the teacher's
// provider registration pattern in cmd/gateway.go (registerProviders).
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name, if any.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve splits a "provider:model-id" identifier and returns the provider
// plus the model id to pass on each call. A bare identifier with no colon
// is treated as a provider name using its default model.
func (r *Registry) Resolve(identifier string) (Provider, string, error) {
	providerName, model, found := strings.Cut(identifier, ":")
	r.mu.RLock()
	p, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown provider %q in model identifier %q", providerName, identifier)
	}
	if !found || model == "" {
		model = p.DefaultModel()
	}
	return p, model, nil
}
