package syncqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/secretops/secretops/pkg/destination"
	"github.com/secretops/secretops/pkg/secretmap"
)

// SecretSource is the authoritative secret store the queue syncs
// from and imports into, keyed by project and environment.
type SecretSource interface {
	// GetSecrets returns the current secrets of one environment.
	GetSecrets(ctx context.Context, projectID, environmentSlug string) (secretmap.SecretMap, error)

	// PutSecrets upserts the given secrets into one environment.
	// Keys not present in the map are left untouched.
	PutSecrets(ctx context.Context, projectID, environmentSlug string, secrets secretmap.SecretMap) error
}

// ConnectionResolver turns a stored connection ID into live
// destination credentials.
type ConnectionResolver interface {
	Resolve(ctx context.Context, connectionID string) (destination.Credentials, error)
}

// MemorySecretSource is an in-memory SecretSource for tests and
// standalone runs.
type MemorySecretSource struct {
	mu      sync.RWMutex
	secrets map[string]secretmap.SecretMap // keyed by projectID/environmentSlug
}

// NewMemorySecretSource creates an empty source.
func NewMemorySecretSource() *MemorySecretSource {
	return &MemorySecretSource{secrets: make(map[string]secretmap.SecretMap)}
}

func envKey(projectID, environmentSlug string) string {
	return projectID + "/" + environmentSlug
}

// Set replaces the full secret set of one environment.
func (s *MemorySecretSource) Set(projectID, environmentSlug string, secrets secretmap.SecretMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[envKey(projectID, environmentSlug)] = secrets.Clone()
}

func (s *MemorySecretSource) GetSecrets(ctx context.Context, projectID, environmentSlug string) (secretmap.SecretMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secrets, ok := s.secrets[envKey(projectID, environmentSlug)]
	if !ok {
		return secretmap.SecretMap{}, nil
	}
	return secrets.Clone(), nil
}

func (s *MemorySecretSource) PutSecrets(ctx context.Context, projectID, environmentSlug string, secrets secretmap.SecretMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := envKey(projectID, environmentSlug)
	current, ok := s.secrets[key]
	if !ok {
		current = secretmap.SecretMap{}
		s.secrets[key] = current
	}
	for name, value := range secrets {
		current[name] = value
	}
	return nil
}

// MemoryConnections is an in-memory ConnectionResolver.
type MemoryConnections struct {
	mu          sync.RWMutex
	credentials map[string]destination.Credentials
}

// NewMemoryConnections creates an empty resolver.
func NewMemoryConnections() *MemoryConnections {
	return &MemoryConnections{credentials: make(map[string]destination.Credentials)}
}

// Add stores credentials under a connection ID.
func (c *MemoryConnections) Add(connectionID string, creds destination.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[connectionID] = creds
}

func (c *MemoryConnections) Resolve(ctx context.Context, connectionID string) (destination.Credentials, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	creds, ok := c.credentials[connectionID]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connectionID)
	}
	return creds, nil
}
