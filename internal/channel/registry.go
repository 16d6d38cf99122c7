package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known provider normalizers.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[string]Normalizer
}

// NewRegistry creates an empty normalizer registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]Normalizer)}
}

// Register adds a normalizer, replacing any previous one for the provider.
func (r *Registry) Register(n Normalizer) {
	if n == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.Provider()] = n
}

// Get returns the normalizer for a provider.
func (r *Registry) Get(provider string) (Normalizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	return n, nil
}

// Providers lists registered provider names in stable order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
