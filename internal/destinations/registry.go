// Package destinations implements the provider adapters that read and
// write secrets at external stores, and the registry that selects an
// adapter by destination type.
package destinations

import (
	"fmt"
	"sort"
	"sync"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/destination"
)

// Destination type names.
const (
	TypeOnePassword       = "1password"
	TypeAWSSecretsManager = "aws-secrets-manager"
)

// Registry maps destination types to adapters. Construct with
// NewRegistry; adapters are registered explicitly at process start.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]destination.Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]destination.Adapter)}
}

// NewDefaultRegistry creates a registry with every built-in adapter
// registered.
func NewDefaultRegistry(logger *logging.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewOnePasswordAdapter(logger))
	r.Register(NewAWSSecretsManagerAdapter(logger))
	return r
}

// Register adds an adapter, replacing any previous adapter of the
// same type.
func (r *Registry) Register(adapter destination.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Type()] = adapter
}

// Get returns the adapter for a destination type.
func (r *Registry) Get(destinationType string) (destination.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[destinationType]
	if !ok {
		return nil, fmt.Errorf("unknown destination type %q (available: %v)", destinationType, r.typesLocked())
	}
	return adapter, nil
}

// Types returns the registered destination types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
