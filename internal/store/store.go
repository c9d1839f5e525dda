// Package store defines the persistence interfaces the queues depend
// on, plus in-memory implementations used by the service and its
// tests. The web application owns the real database; this package
// only models the slices of it the schedulers read and write.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Project is the owning scope of syncs, rotations, and reminders.
type Project struct {
	ID    string
	Name  string
	OrgID string
}

// Organization is the tenant owning a project.
type Organization struct {
	ID   string
	Name string
}

// Member is a user's membership in a project.
type Member struct {
	UserID string
	Email  string
	Role   string
}

// Member roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Directory resolves projects, organizations, and memberships.
type Directory interface {
	FindProjectByID(ctx context.Context, projectID string) (*Project, error)
	FindOrgByProjectID(ctx context.Context, projectID string) (*Organization, error)
	FindAllProjectMembers(ctx context.Context, projectID string) ([]Member, error)
}

// Sync statuses recorded on a sync destination's status trail.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// SyncRecord is the persisted state of one configured sync
// destination, including the status trail surfaced to users.
type SyncRecord struct {
	ID              string
	Name            string
	DestinationType string
	ProjectID       string
	EnvironmentSlug string
	ConnectionID    string

	DestinationConfig     map[string]string
	DisableSecretDeletion bool
	KeySchema             string

	SyncStatus      string
	LastSyncedAt    *time.Time
	LastSyncMessage string

	ImportStatus      string
	LastImportedAt    *time.Time
	LastImportMessage string

	RemoveStatus      string
	LastRemovedAt     *time.Time
	LastRemoveMessage string
}

// SyncStore persists sync destinations.
type SyncStore interface {
	FindByID(ctx context.Context, id string) (*SyncRecord, error)
	Update(ctx context.Context, rec *SyncRecord) error
}

// RotationRecord is the persisted state of one configured credential
// rotation.
type RotationRecord struct {
	ID              string
	Name            string
	Strategy        string
	ProjectID       string
	EnvironmentSlug string
	FolderPath      string

	IntervalDays int
	Parameters   map[string]string

	LastRotatedAt           time.Time
	NextRotationAt          time.Time
	LastRotationAttemptedAt time.Time

	IsAutoRotationEnabled bool
	IsLastRotationFailed  bool
	LastRotationMessage   string
}

// RotationStore persists rotation resources.
type RotationStore interface {
	FindByID(ctx context.Context, id string) (*RotationRecord, error)

	// FindDue returns every rotation whose NextRotationAt is at or
	// before the boundary and whose auto-rotation is enabled.
	FindDue(ctx context.Context, rotateBy time.Time) ([]*RotationRecord, error)

	Update(ctx context.Context, rec *RotationRecord) error
}

// ExpiringStore is implemented by any store holding rows with an
// expiry, so the cleanup scheduler can prune them uniformly.
type ExpiringStore interface {
	// Resource names the resource kind for logs and metrics.
	Resource() string

	// DeleteExpired removes rows expired as of now and reports how
	// many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
