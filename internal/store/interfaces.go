package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsline/fieldsync/internal/model"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// ErrVersionMismatch is returned when an optimistic-locking update misses; the
// caller already holds the per-entity lock, so a miss means another server
// instance won the race and the push should be retried by the device.
var ErrVersionMismatch = errors.New("version mismatch")

// EntityStore is the authoritative server store for syncable entities.
type EntityStore interface {
	GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, error)
	ListEntities(ctx context.Context, tenantID string) ([]*model.Entity, error)
	CreateEntity(ctx context.Context, entity *model.Entity) error

	// ApplyUpdate commits one reconciliation outcome atomically: new field
	// values and clocks, the advanced entity clock, any conflict records raised
	// by the merge, and the deletion of conflict records settled by a
	// resolution. The entity's Version must match the stored row or the whole
	// update fails with ErrVersionMismatch and nothing is written.
	ApplyUpdate(ctx context.Context, entity *model.Entity, newConflicts []*model.ConflictRecord, resolvedConflictIDs []string) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// ConflictStore reads and deletes conflict records. Insertion happens inside
// EntityStore.ApplyUpdate so a conflict is never visible without the merge that
// raised it.
type ConflictStore interface {
	GetConflict(ctx context.Context, tenantID, conflictID string) (*model.ConflictRecord, error)
	// ListConflicts returns open conflicts for a tenant; entityID narrows the
	// list to one entity when non-empty.
	ListConflicts(ctx context.Context, tenantID, entityID string) ([]*model.ConflictRecord, error)
}

// SessionStore tracks per-device sync sessions.
type SessionStore interface {
	GetSession(ctx context.Context, tenantID, deviceID string) (*model.SyncSession, error)
	UpsertSession(ctx context.Context, session *model.SyncSession) error
}

// MetadataStore interface for tenant metadata operations
type MetadataStore interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
	DeleteTenant(ctx context.Context, tenantID string) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// IdempotencyStore interface for idempotency key operations
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// EventStream is the downstream trigger boundary: status-transition events are
// appended for an external notification/invoicing pipeline to consume.
type EventStream interface {
	Append(ctx context.Context, event *model.StatusEvent) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
