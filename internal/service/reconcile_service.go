package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// ReconcileService applies resolved operations to the server store atomically.
// Reconciliation is serialized per entity, never globally: pushes touching
// different entities proceed in parallel, pushes touching the same entity queue
// on a keyed mutex. No lock is ever held across a network round-trip to a
// device.
type ReconcileService struct {
	entityStore  store.EntityStore
	vcService    *VectorClockService
	eventService *EventService
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(
	entityStore store.EntityStore,
	vcService *VectorClockService,
	eventService *EventService,
	logger *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		entityStore:  entityStore,
		vcService:    vcService,
		eventService: eventService,
		logger:       logger,
		locks:        make(map[string]*entityLock),
	}
}

// WithEntityLock runs fn while holding the lock for one entity. Locks are
// reference-counted so the map does not grow with the id space.
func (s *ReconcileService) WithEntityLock(tenantID, entityID string, fn func() error) error {
	key := tenantID + "/" + entityID

	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &entityLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	err := fn()
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()

	return err
}

// Commit writes one reconciliation outcome: the applied field values stamped
// with the new clock, the advanced entity clock, raised conflict records and
// settled conflict ids, all in a single store transaction. On storage failure
// nothing is written and the caller reports the push as not-yet-applied.
// A status transition that survives the commit is emitted downstream.
func (s *ReconcileService) Commit(
	ctx context.Context,
	entity *model.Entity,
	applied map[string]model.FieldValue,
	newClock model.VectorClock,
	conflicts []*model.ConflictRecord,
	resolvedConflictIDs []string,
) error {
	oldStatus := entity.Status()

	for name, value := range applied {
		entity.Fields[name] = model.FieldState{
			Value: value,
			Clock: newClock.Clone(),
		}
	}
	entity.Clock = newClock
	entity.UpdatedAt = time.Now()

	if err := s.entityStore.ApplyUpdate(ctx, entity, conflicts, resolvedConflictIDs); err != nil {
		return fmt.Errorf("failed to apply entity update: %w", err)
	}

	s.logger.Debug("Committed entity update",
		zap.String("tenant_id", entity.TenantID),
		zap.String("entity_id", entity.ID),
		zap.Int("fields", len(applied)),
		zap.Int("conflicts", len(conflicts)))

	newStatus := entity.Status()
	if newStatus != oldStatus && s.eventService != nil {
		s.eventService.EmitStatusChange(entity, oldStatus, newStatus)
	}

	return nil
}

// Create inserts a brand-new entity (first sighting of a client-generated
// local id, or a server-actor create).
func (s *ReconcileService) Create(ctx context.Context, entity *model.Entity) error {
	if err := s.entityStore.CreateEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	s.logger.Debug("Created entity",
		zap.String("tenant_id", entity.TenantID),
		zap.String("entity_id", entity.ID),
		zap.String("entity_type", entity.Type))

	if status := entity.Status(); status != "" && s.eventService != nil {
		s.eventService.EmitStatusChange(entity, "", status)
	}

	return nil
}
