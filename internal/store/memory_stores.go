package store

import (
	"context"
	"sync"
	"time"

	"github.com/opsline/fieldsync/internal/model"
)

// In-memory implementations of the server stores, used by tests and by flow
// tests that wire the full service stack without Postgres or Redis.

// MemoryEntityStore implements EntityStore and ConflictStore in memory.
type MemoryEntityStore struct {
	mu        sync.RWMutex
	entities  map[string]*model.Entity         // key: tenantID/entityID
	conflicts map[string]*model.ConflictRecord // key: tenantID/conflictID
}

// NewMemoryEntityStore creates an empty in-memory entity store
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		entities:  make(map[string]*model.Entity),
		conflicts: make(map[string]*model.ConflictRecord),
	}
}

func storeKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// GetEntity retrieves one entity by server id
func (s *MemoryEntityStore) GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[storeKey(tenantID, entityID)]
	if !ok {
		return nil, ErrNotFound
	}
	return entity.Clone(), nil
}

// ListEntities retrieves all entities for a tenant
func (s *MemoryEntityStore) ListEntities(ctx context.Context, tenantID string) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make([]*model.Entity, 0)
	for _, entity := range s.entities {
		if entity.TenantID == tenantID {
			entities = append(entities, entity.Clone())
		}
	}
	return entities, nil
}

// CreateEntity inserts a new entity
func (s *MemoryEntityStore) CreateEntity(ctx context.Context, entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[storeKey(entity.TenantID, entity.ID)] = entity.Clone()
	return nil
}

// ApplyUpdate commits one reconciliation outcome atomically under the store lock
func (s *MemoryEntityStore) ApplyUpdate(
	ctx context.Context,
	entity *model.Entity,
	newConflicts []*model.ConflictRecord,
	resolvedConflictIDs []string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(entity.TenantID, entity.ID)
	stored, ok := s.entities[key]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != entity.Version {
		return ErrVersionMismatch
	}

	updated := entity.Clone()
	updated.Version = entity.Version + 1
	s.entities[key] = updated
	entity.Version++

	for _, conflict := range newConflicts {
		s.conflicts[storeKey(conflict.TenantID, conflict.ID)] = conflict
	}
	for _, conflictID := range resolvedConflictIDs {
		delete(s.conflicts, storeKey(entity.TenantID, conflictID))
	}

	return nil
}

// GetConflict retrieves one conflict record
func (s *MemoryEntityStore) GetConflict(ctx context.Context, tenantID, conflictID string) (*model.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conflict, ok := s.conflicts[storeKey(tenantID, conflictID)]
	if !ok {
		return nil, ErrNotFound
	}
	return conflict, nil
}

// ListConflicts retrieves open conflicts for a tenant, optionally for one entity
func (s *MemoryEntityStore) ListConflicts(ctx context.Context, tenantID, entityID string) ([]*model.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conflicts := make([]*model.ConflictRecord, 0)
	for _, conflict := range s.conflicts {
		if conflict.TenantID != tenantID {
			continue
		}
		if entityID != "" && conflict.EntityID != entityID {
			continue
		}
		conflicts = append(conflicts, conflict)
	}
	return conflicts, nil
}

// Ping always succeeds
func (s *MemoryEntityStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryEntityStore) Close() {}

// MemoryMetadataStore implements MetadataStore in memory.
type MemoryMetadataStore struct {
	mu      sync.RWMutex
	tenants map[string]*model.Tenant
}

// NewMemoryMetadataStore creates an empty in-memory metadata store
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{tenants: make(map[string]*model.Tenant)}
}

// GetTenant retrieves tenant configuration
func (s *MemoryMetadataStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

// CreateTenant creates a new tenant
func (s *MemoryMetadataStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tenant
	s.tenants[tenant.TenantID] = &cp
	return nil
}

// UpdateTenant updates tenant configuration
func (s *MemoryMetadataStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenant.TenantID]; !ok {
		return ErrNotFound
	}
	cp := *tenant
	s.tenants[tenant.TenantID] = &cp
	return nil
}

// DeleteTenant removes a tenant
func (s *MemoryMetadataStore) DeleteTenant(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tenants, tenantID)
	return nil
}

// Ping always succeeds
func (s *MemoryMetadataStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryMetadataStore) Close() {}

// MemorySessionStore implements SessionStore in memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.SyncSession
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.SyncSession)}
}

// GetSession retrieves a device's sync session
func (s *MemorySessionStore) GetSession(ctx context.Context, tenantID, deviceID string) (*model.SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[storeKey(tenantID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	cp.LastPulledClock = session.LastPulledClock.Clone()
	return &cp, nil
}

// UpsertSession inserts or replaces a device's sync session
func (s *MemorySessionStore) UpsertSession(ctx context.Context, session *model.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	cp.LastPulledClock = session.LastPulledClock.Clone()
	s.sessions[storeKey(session.TenantID, session.DeviceID)] = &cp
	return nil
}

// MemoryIdempotencyStore implements IdempotencyStore in memory. TTLs are
// honored lazily on read.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string]memoryIdempotencyItem
}

type memoryIdempotencyItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory idempotency store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{data: make(map[string]memoryIdempotencyItem)}
}

// Get retrieves a cached response
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data[key]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores a response with TTL
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = memoryIdempotencyItem{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes an idempotency key
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryIdempotencyStore) Close() error { return nil }

// MemoryEventStream implements EventStream in memory, retaining appended events
// for assertions.
type MemoryEventStream struct {
	mu     sync.Mutex
	events []*model.StatusEvent
}

// NewMemoryEventStream creates an empty in-memory event stream
func NewMemoryEventStream() *MemoryEventStream {
	return &MemoryEventStream{}
}

// Append adds one status event
func (s *MemoryEventStream) Append(ctx context.Context, event *model.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of all appended events
func (s *MemoryEventStream) Events() []*model.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*model.StatusEvent(nil), s.events...)
}

// Ping always succeeds
func (s *MemoryEventStream) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryEventStream) Close() error { return nil }
