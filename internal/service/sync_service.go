package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTenantNotFound is returned when the tenant does not exist.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrEntityNotFound is returned when the target entity does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// ErrConflictNotFound is returned when a resolution targets an unknown conflict.
var ErrConflictNotFound = errors.New("conflict not found")

// SyncService orchestrates the push/pull protocol: idempotency, per-entity
// reconciliation, conflict detection and merge, session tracking. It is the
// server half of the sync loop; the device half lives in internal/device.
type SyncService struct {
	tenantService      *TenantService
	idempotencyService *IdempotencyService
	conflictService    *ConflictService
	mergeService       *MergeService
	reconcileService   *ReconcileService
	vcService          *VectorClockService
	entityStore        store.EntityStore
	conflictStore      store.ConflictStore
	sessionStore       store.SessionStore
	logger             *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(
	tenantService *TenantService,
	idempotencyService *IdempotencyService,
	conflictService *ConflictService,
	mergeService *MergeService,
	reconcileService *ReconcileService,
	vcService *VectorClockService,
	entityStore store.EntityStore,
	conflictStore store.ConflictStore,
	sessionStore store.SessionStore,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		tenantService:      tenantService,
		idempotencyService: idempotencyService,
		conflictService:    conflictService,
		mergeService:       mergeService,
		reconcileService:   reconcileService,
		vcService:          vcService,
		entityStore:        entityStore,
		conflictStore:      conflictStore,
		sessionStore:       sessionStore,
		logger:             logger,
	}
}

// Push handles one batch of device operations. Operations are handled in batch
// order; each terminal outcome is cached under its op id so a device retry
// replays results instead of reapplying. A storage failure fails the whole
// batch without caching, which keeps the retry safe.
func (s *SyncService) Push(ctx context.Context, tenantID string, req *model.PushRequest) (*model.PushResponse, error) {
	if _, err := s.tenantService.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	// Server ids assigned to client-generated local ids within this batch, so
	// follow-up operations on an offline-created entity land on the same row.
	localIDs := make(map[string]string)

	results := make([]*model.OperationResult, 0, len(req.Operations))
	serverClock := model.NewVectorClock()

	for _, op := range req.Operations {
		result, err := s.handleOperation(ctx, tenantID, op, localIDs)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		serverClock = s.vcService.Merge(serverClock, result.Clock)
	}

	s.logger.Info("Handled push",
		zap.String("tenant_id", tenantID),
		zap.String("device_id", req.DeviceID),
		zap.Int("operations", len(req.Operations)))

	return &model.PushResponse{
		Results:     results,
		ServerClock: serverClock,
	}, nil
}

// handleOperation takes one operation to a terminal outcome.
func (s *SyncService) handleOperation(
	ctx context.Context,
	tenantID string,
	op *model.Operation,
	localIDs map[string]string,
) (*model.OperationResult, error) {
	if reject := validateOperation(op); reject != "" {
		result := &model.OperationResult{
			OpID:      op.OpID,
			Status:    model.OpStatusRejected,
			EntityID:  op.EntityID,
			LocalID:   op.LocalID,
			Rejection: reject,
		}
		s.cacheResult(ctx, tenantID, result)
		return result, nil
	}

	// Replay a previously handled op id verbatim.
	if cached, err := s.idempotencyService.Get(ctx, tenantID, op.OpID); err != nil {
		s.logger.Error("Failed to check idempotency",
			zap.String("tenant_id", tenantID),
			zap.String("op_id", op.OpID),
			zap.Error(err))
	} else if cached != nil {
		if cached.LocalID != "" && cached.EntityID != "" {
			localIDs[cached.LocalID] = cached.EntityID
		}
		return cached, nil
	}

	entityID := op.EntityID
	creating := false
	if entityID == "" {
		if mapped, ok := localIDs[op.LocalID]; ok {
			entityID = mapped
		} else {
			entityID = uuid.New().String()
			creating = true
		}
	}

	var result *model.OperationResult
	err := s.reconcileService.WithEntityLock(tenantID, entityID, func() error {
		var err error
		result, err = s.applyOperation(ctx, tenantID, entityID, creating, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.LocalID != "" && result.Status != model.OpStatusRejected {
		localIDs[result.LocalID] = result.EntityID
	}

	s.cacheResult(ctx, tenantID, result)
	return result, nil
}

// applyOperation runs under the entity lock.
func (s *SyncService) applyOperation(
	ctx context.Context,
	tenantID, entityID string,
	creating bool,
	op *model.Operation,
) (*model.OperationResult, error) {
	entity, err := s.entityStore.GetEntity(ctx, tenantID, entityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	if entity == nil {
		if !creating && op.LocalID == "" {
			// Server id the server has no row for: the entity is gone for good.
			return s.rejectResult(op, entityID, model.RejectEntityDeleted), nil
		}
		return s.createFromOperation(ctx, tenantID, entityID, op)
	}

	if entity.TenantID != tenantID {
		return s.rejectResult(op, entityID, model.RejectTenantMismatch), nil
	}

	if entity.Deleted {
		return s.rejectResult(op, entityID, model.RejectEntityDeleted), nil
	}

	comparison, mode := s.conflictService.Classify(op.Clock, entity.Clock)
	newClock := s.vcService.Merge(entity.Clock, op.Clock)

	var (
		status    model.OperationStatus
		outcomes  map[string]model.FieldOutcome
		applied   map[string]model.FieldValue
		conflicts []*model.ConflictRecord
	)

	if mode == ApplyDirect {
		status = model.OpStatusApplied
		applied = op.Changes
		outcomes = make(map[string]model.FieldOutcome, len(op.Changes))
		for name := range op.Changes {
			outcomes[name] = model.FieldApplied
		}
	} else {
		merged := s.mergeService.Merge(entity, op)
		status = merged.Status()
		applied = merged.Applied
		outcomes = merged.Outcomes
		conflicts = merged.Conflicts

		s.logger.Debug("Merged operation",
			zap.String("tenant_id", tenantID),
			zap.String("entity_id", entityID),
			zap.String("op_id", op.OpID),
			zap.String("comparison", comparison.String()),
			zap.Int("conflicts", len(conflicts)))
	}

	if err := s.reconcileService.Commit(ctx, entity, applied, newClock, conflicts, nil); err != nil {
		return nil, err
	}

	return &model.OperationResult{
		OpID:      op.OpID,
		Status:    status,
		EntityID:  entityID,
		LocalID:   op.LocalID,
		Fields:    outcomes,
		Conflicts: conflicts,
		Clock:     newClock,
	}, nil
}

// createFromOperation materializes an entity first seen as an offline create.
func (s *SyncService) createFromOperation(
	ctx context.Context,
	tenantID, entityID string,
	op *model.Operation,
) (*model.OperationResult, error) {
	now := time.Now()
	entity := &model.Entity{
		ID:        entityID,
		TenantID:  tenantID,
		Type:      op.EntityType,
		Fields:    make(map[string]model.FieldState, len(op.Changes)),
		Clock:     op.Clock.Clone(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	outcomes := make(map[string]model.FieldOutcome, len(op.Changes))
	for name, value := range op.Changes {
		entity.Fields[name] = model.FieldState{
			Value: value,
			Clock: op.Clock.Clone(),
		}
		outcomes[name] = model.FieldApplied
	}

	if err := s.reconcileService.Create(ctx, entity); err != nil {
		return nil, err
	}

	return &model.OperationResult{
		OpID:     op.OpID,
		Status:   model.OpStatusApplied,
		EntityID: entityID,
		LocalID:  op.LocalID,
		Fields:   outcomes,
		Clock:    entity.Clock,
	}, nil
}

// Pull returns every entity not yet causally known to the device plus the
// tenant's open conflict records, and advances the device's session clock.
func (s *SyncService) Pull(ctx context.Context, tenantID string, req *model.PullRequest) (*model.PullResponse, error) {
	if _, err := s.tenantService.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	var (
		entities  []*model.Entity
		conflicts []*model.ConflictRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = s.entityStore.ListEntities(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		conflicts, err = s.conflictStore.ListConflicts(gctx, tenantID, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load pull data: %w", err)
	}

	serverClock := model.NewVectorClock()
	changed := make([]*model.Entity, 0)
	for _, entity := range entities {
		serverClock = s.vcService.Merge(serverClock, entity.Clock)
		if !s.vcService.Dominates(req.SinceClock, entity.Clock) {
			changed = append(changed, entity)
		}
	}

	session := &model.SyncSession{
		DeviceID:        req.DeviceID,
		TenantID:        tenantID,
		LastPulledClock: serverClock,
		UpdatedAt:       time.Now(),
	}
	if err := s.sessionStore.UpsertSession(ctx, session); err != nil {
		s.logger.Warn("Failed to persist sync session",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", req.DeviceID),
			zap.Error(err))
	}

	s.logger.Info("Handled pull",
		zap.String("tenant_id", tenantID),
		zap.String("device_id", req.DeviceID),
		zap.Int("entities", len(changed)),
		zap.Int("conflicts", len(conflicts)))

	return &model.PullResponse{
		Entities:    changed,
		Conflicts:   conflicts,
		ServerClock: serverClock,
	}, nil
}

// GetEntity is the state-query boundary: last-known-merged state plus any
// outstanding conflict records for the entity.
func (s *SyncService) GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, []*model.ConflictRecord, error) {
	entity, err := s.entityStore.GetEntity(ctx, tenantID, entityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrEntityNotFound
		}
		return nil, nil, fmt.Errorf("failed to load entity: %w", err)
	}

	conflicts, err := s.conflictStore.ListConflicts(ctx, tenantID, entityID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conflicts: %w", err)
	}

	return entity, conflicts, nil
}

// CreateEntity is the server-actor create (dispatcher, back office).
func (s *SyncService) CreateEntity(ctx context.Context, tenantID, entityType string, changes map[string]model.FieldValue) (*model.Entity, error) {
	if err := validateChanges(changes); err != nil {
		return nil, err
	}

	clock := s.vcService.IncrementLocal(model.NewVectorClock())
	now := time.Now()
	entity := &model.Entity{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      entityType,
		Fields:    make(map[string]model.FieldState, len(changes)),
		Clock:     clock,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for name, value := range changes {
		entity.Fields[name] = model.FieldState{Value: value, Clock: clock.Clone()}
	}

	if err := s.reconcileService.Create(ctx, entity); err != nil {
		return nil, err
	}

	return entity, nil
}

// UpdateEntity is the server-actor edit: changes apply directly and the
// server's clock component advances, so offline devices will see the edit as
// concurrent with anything they did not observe.
func (s *SyncService) UpdateEntity(ctx context.Context, tenantID, entityID string, changes map[string]model.FieldValue) (*model.Entity, error) {
	if err := validateChanges(changes); err != nil {
		return nil, err
	}

	var updated *model.Entity
	err := s.reconcileService.WithEntityLock(tenantID, entityID, func() error {
		entity, err := s.entityStore.GetEntity(ctx, tenantID, entityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrEntityNotFound
			}
			return fmt.Errorf("failed to load entity: %w", err)
		}
		if entity.Deleted {
			return ErrEntityNotFound
		}

		newClock := s.vcService.IncrementLocal(entity.Clock)
		if err := s.reconcileService.Commit(ctx, entity, changes, newClock, nil, nil); err != nil {
			return err
		}

		updated = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteEntity soft-deletes an entity. Pending device operations against it
// will be permanently rejected; devices learn about the deletion on pull.
func (s *SyncService) DeleteEntity(ctx context.Context, tenantID, entityID string) error {
	return s.reconcileService.WithEntityLock(tenantID, entityID, func() error {
		entity, err := s.entityStore.GetEntity(ctx, tenantID, entityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrEntityNotFound
			}
			return fmt.Errorf("failed to load entity: %w", err)
		}
		if entity.Deleted {
			return nil
		}

		entity.Deleted = true
		newClock := s.vcService.IncrementLocal(entity.Clock)
		return s.reconcileService.Commit(ctx, entity, nil, newClock, nil, nil)
	})
}

// ListConflicts lists open conflict records for a tenant, optionally scoped to
// one entity.
func (s *SyncService) ListConflicts(ctx context.Context, tenantID, entityID string) ([]*model.ConflictRecord, error) {
	return s.conflictStore.ListConflicts(ctx, tenantID, entityID)
}

// ResolveConflict settles one conflict record. The resolution is itself a
// server-actor operation: both contributing clocks are merged, the server
// component is incremented, and the record is deleted in the same transaction
// as the field write.
func (s *SyncService) ResolveConflict(ctx context.Context, tenantID, conflictID string, resolution *model.Resolution) (*model.Entity, error) {
	if !resolution.Choice.Valid() {
		return nil, fmt.Errorf("invalid resolution choice %q", resolution.Choice)
	}
	if resolution.Choice == model.ResolutionReplace && resolution.Value == nil {
		return nil, fmt.Errorf("replace resolution requires a value")
	}

	conflict, err := s.conflictStore.GetConflict(ctx, tenantID, conflictID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to load conflict: %w", err)
	}

	var resolved *model.Entity
	err = s.reconcileService.WithEntityLock(tenantID, conflict.EntityID, func() error {
		entity, err := s.entityStore.GetEntity(ctx, tenantID, conflict.EntityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrEntityNotFound
			}
			return fmt.Errorf("failed to load entity: %w", err)
		}

		applied := make(map[string]model.FieldValue)
		switch resolution.Choice {
		case model.ResolutionKeepServer:
			// The stored value stands; only the record goes away.
		case model.ResolutionKeepClient:
			applied[conflict.Field] = conflict.ClientValue
		case model.ResolutionReplace:
			applied[conflict.Field] = *resolution.Value
		}

		newClock := s.vcService.IncrementLocal(s.vcService.Merge(entity.Clock, conflict.ClientClock))
		if err := s.reconcileService.Commit(ctx, entity, applied, newClock, nil, []string{conflict.ID}); err != nil {
			return err
		}

		resolved = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resolved conflict",
		zap.String("tenant_id", tenantID),
		zap.String("conflict_id", conflictID),
		zap.String("entity_id", conflict.EntityID),
		zap.String("field", conflict.Field),
		zap.String("choice", string(resolution.Choice)))

	return resolved, nil
}

// rejectResult builds a permanent-rejection result.
func (s *SyncService) rejectResult(op *model.Operation, entityID string, code model.RejectionCode) *model.OperationResult {
	return &model.OperationResult{
		OpID:      op.OpID,
		Status:    model.OpStatusRejected,
		EntityID:  entityID,
		LocalID:   op.LocalID,
		Rejection: code,
	}
}

// cacheResult stores a terminal result; failure to cache is logged, not fatal,
// because the application itself already succeeded.
func (s *SyncService) cacheResult(ctx context.Context, tenantID string, result *model.OperationResult) {
	if result.OpID == "" {
		return
	}
	if err := s.idempotencyService.Store(ctx, tenantID, result); err != nil {
		s.logger.Warn("Failed to cache operation result",
			zap.String("tenant_id", tenantID),
			zap.String("op_id", result.OpID),
			zap.Error(err))
	}
}

// validateOperation returns a rejection code for structurally invalid
// operations, empty when valid.
func validateOperation(op *model.Operation) model.RejectionCode {
	if op.OpID == "" || op.DeviceID == "" {
		return model.RejectInvalidChange
	}
	if op.EntityID == "" && op.LocalID == "" {
		return model.RejectInvalidChange
	}
	if len(op.Changes) == 0 {
		return model.RejectInvalidChange
	}
	for _, value := range op.Changes {
		if !value.Kind.Valid() {
			return model.RejectInvalidChange
		}
	}
	return ""
}

// validateChanges validates a server-actor change-set.
func validateChanges(changes map[string]model.FieldValue) error {
	if len(changes) == 0 {
		return fmt.Errorf("empty change set")
	}
	for name, value := range changes {
		if !value.Kind.Valid() {
			return fmt.Errorf("field %q has invalid kind %q", name, value.Kind)
		}
	}
	return nil
}
