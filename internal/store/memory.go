package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	projects map[string]*Project
	orgs     map[string]*Organization
	members  map[string][]Member // projectID -> members
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		projects: make(map[string]*Project),
		orgs:     make(map[string]*Organization),
		members:  make(map[string][]Member),
	}
}

// AddOrganization stores an organization, generating an ID when empty.
func (d *MemoryDirectory) AddOrganization(org Organization) Organization {
	d.mu.Lock()
	defer d.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	d.orgs[org.ID] = &org
	return org
}

// AddProject stores a project, generating an ID when empty.
func (d *MemoryDirectory) AddProject(project Project) Project {
	d.mu.Lock()
	defer d.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	d.projects[project.ID] = &project
	return project
}

// AddMember records a project membership.
func (d *MemoryDirectory) AddMember(projectID string, member Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[projectID] = append(d.members[projectID], member)
}

func (d *MemoryDirectory) FindProjectByID(ctx context.Context, projectID string) (*Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	project, ok := d.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *project
	return &copied, nil
}

func (d *MemoryDirectory) FindOrgByProjectID(ctx context.Context, projectID string) (*Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	project, ok := d.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	org, ok := d.orgs[project.OrgID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *org
	return &copied, nil
}

func (d *MemoryDirectory) FindAllProjectMembers(ctx context.Context, projectID string) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.members[projectID]
	out := make([]Member, len(members))
	copy(out, members)
	return out, nil
}

// MemorySyncStore is an in-memory SyncStore.
type MemorySyncStore struct {
	mu      sync.RWMutex
	records map[string]*SyncRecord
}

// NewMemorySyncStore creates an empty sync store.
func NewMemorySyncStore() *MemorySyncStore {
	return &MemorySyncStore{records: make(map[string]*SyncRecord)}
}

// cloneSyncRecord copies a record including its DestinationConfig map,
// so callers never share map storage with the store.
func cloneSyncRecord(rec *SyncRecord) *SyncRecord {
	copied := *rec
	copied.DestinationConfig = maps.Clone(rec.DestinationConfig)
	return &copied
}

// Add stores a record, generating an ID when empty.
func (s *MemorySyncStore) Add(rec SyncRecord) SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.ID] = cloneSyncRecord(&rec)
	return rec
}

func (s *MemorySyncStore) FindByID(ctx context.Context, id string) (*SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSyncRecord(rec), nil
}

func (s *MemorySyncStore) Update(ctx context.Context, rec *SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ID] = cloneSyncRecord(rec)
	return nil
}

// MemoryRotationStore is an in-memory RotationStore.
type MemoryRotationStore struct {
	mu      sync.RWMutex
	records map[string]*RotationRecord
}

// NewMemoryRotationStore creates an empty rotation store.
func NewMemoryRotationStore() *MemoryRotationStore {
	return &MemoryRotationStore{records: make(map[string]*RotationRecord)}
}

// cloneRotationRecord copies a record including its Parameters map, so
// rotators that rewrite parameters in place cannot reach stored state
// before Update.
func cloneRotationRecord(rec *RotationRecord) *RotationRecord {
	copied := *rec
	copied.Parameters = maps.Clone(rec.Parameters)
	return &copied
}

// Add stores a record, generating an ID when empty.
func (s *MemoryRotationStore) Add(rec RotationRecord) RotationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.ID] = cloneRotationRecord(&rec)
	return rec
}

// Delete removes a record.
func (s *MemoryRotationStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

func (s *MemoryRotationStore) FindByID(ctx context.Context, id string) (*RotationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRotationRecord(rec), nil
}

func (s *MemoryRotationStore) FindDue(ctx context.Context, rotateBy time.Time) ([]*RotationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*RotationRecord
	for _, rec := range s.records {
		if !rec.IsAutoRotationEnabled {
			continue
		}
		if rec.NextRotationAt.After(rotateBy) {
			continue
		}
		due = append(due, cloneRotationRecord(rec))
	}
	return due, nil
}

func (s *MemoryRotationStore) Update(ctx context.Context, rec *RotationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ID] = cloneRotationRecord(rec)
	return nil
}

// expiringRow is a row with an expiry in a MemoryExpiringStore.
type expiringRow struct {
	id        string
	expiresAt time.Time
}

// MemoryExpiringStore is an in-memory ExpiringStore for a single
// resource kind, such as shared secrets or expired tokens.
type MemoryExpiringStore struct {
	resource string

	mu   sync.Mutex
	rows map[string]expiringRow
}

// NewMemoryExpiringStore creates an empty store for the resource kind.
func NewMemoryExpiringStore(resource string) *MemoryExpiringStore {
	return &MemoryExpiringStore{
		resource: resource,
		rows:     make(map[string]expiringRow),
	}
}

// Add stores a row expiring at the given time and returns its ID.
func (s *MemoryExpiringStore) Add(expiresAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.rows[id] = expiringRow{id: id, expiresAt: expiresAt}
	return id
}

// Count reports the number of live rows.
func (s *MemoryExpiringStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *MemoryExpiringStore) Resource() string {
	return s.resource
}

func (s *MemoryExpiringStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, row := range s.rows {
		if row.expiresAt.After(now) {
			continue
		}
		delete(s.rows, id)
		removed++
	}
	return removed, nil
}
