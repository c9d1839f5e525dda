// Package rotation implements scheduled credential rotation: the
// strategy implementations that regenerate credentials, the sweep and
// execution queues, and the failure notification path.
package rotation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/secretops/secretops/internal/store"
)

// Credentials is the secret material produced by one rotation,
// keyed by credential field name (for example "username", "password",
// "access_key_id").
type Credentials map[string]string

// Rotator regenerates one kind of credential. Implementations read
// their connection parameters from the rotation record's Parameters
// map and return the fresh credentials on success.
type Rotator interface {
	// Strategy names the generated-credential kind this rotator
	// handles.
	Strategy() string

	// Rotate performs the rotation. Errors marked with
	// errors.Unrecoverable skip the queue's remaining retry attempts.
	Rotate(ctx context.Context, rec *store.RotationRecord) (Credentials, error)
}

// Registry maps strategy names to rotators.
type Registry struct {
	mu       sync.RWMutex
	rotators map[string]Rotator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rotators: make(map[string]Rotator)}
}

// Register adds a rotator, replacing any previous rotator of the same
// strategy.
func (r *Registry) Register(rotator Rotator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotators[rotator.Strategy()] = rotator
}

// Get returns the rotator for a strategy.
func (r *Registry) Get(strategy string) (Rotator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rotator, ok := r.rotators[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown rotation strategy %q (available: %v)", strategy, r.strategiesLocked())
	}
	return rotator, nil
}

// Strategies returns the registered strategy names, sorted.
func (r *Registry) Strategies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategiesLocked()
}

func (r *Registry) strategiesLocked() []string {
	strategies := make([]string, 0, len(r.rotators))
	for s := range r.rotators {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)
	return strategies
}
