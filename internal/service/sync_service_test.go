package service

import (
	"context"
	"testing"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type syncFixture struct {
	syncService *SyncService
	entityStore *store.MemoryEntityStore
	sessions    *store.MemorySessionStore
	events      *store.MemoryEventStream
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	logger := zap.NewNop()

	entityStore := store.NewMemoryEntityStore()
	metadataStore := store.NewMemoryMetadataStore()
	sessions := store.NewMemorySessionStore()
	idemStore := store.NewMemoryIdempotencyStore()
	events := store.NewMemoryEventStream()
	cache := store.NewInMemoryCache(100, logger)

	vcService := NewVectorClockService("server")
	tenantService := NewTenantService(metadataStore, cache, time.Minute, logger)
	idempotencyService := NewIdempotencyService(idemStore, time.Hour, logger)
	conflictService := NewConflictService(vcService, logger)
	mergeService := NewMergeService(conflictService, logger)
	eventService := NewEventService(events, 1, 64, logger)
	t.Cleanup(eventService.Stop)
	reconcileService := NewReconcileService(entityStore, vcService, eventService, logger)

	_, err := tenantService.CreateTenant(context.Background(), "tenant-1", "Acme Field Services")
	require.NoError(t, err)

	return &syncFixture{
		syncService: NewSyncService(
			tenantService,
			idempotencyService,
			conflictService,
			mergeService,
			reconcileService,
			vcService,
			entityStore,
			entityStore,
			sessions,
			logger,
		),
		entityStore: entityStore,
		sessions:    sessions,
		events:      events,
	}
}

func pushOne(t *testing.T, f *syncFixture, op *model.Operation) *model.OperationResult {
	t.Helper()
	resp, err := f.syncService.Push(context.Background(), "tenant-1", &model.PushRequest{
		DeviceID:   op.DeviceID,
		Operations: []*model.Operation{op},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	return resp.Results[0]
}

func TestPushCreatesEntityFromLocalID(t *testing.T) {
	f := newSyncFixture(t)

	result := pushOne(t, f, &model.Operation{
		OpID:       "op-1",
		DeviceID:   "d1",
		EntityType: "task",
		LocalID:    "local-abc",
		Changes: map[string]model.FieldValue{
			"notes":  scalar("first visit"),
			"status": statusValue("assigned"),
		},
		Clock: model.VectorClock{"d1": 1},
	})

	assert.Equal(t, model.OpStatusApplied, result.Status)
	assert.Equal(t, "local-abc", result.LocalID)
	require.NotEmpty(t, result.EntityID)
	assert.Equal(t, model.VectorClock{"d1": 1}, result.Clock)

	entity, err := f.entityStore.GetEntity(context.Background(), "tenant-1", result.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "task", entity.Type)
	assert.Equal(t, model.VectorClock{"d1": 1}, entity.Clock)
	assert.Equal(t, "first visit", entity.Fields["notes"].Value.Text)
	assert.Equal(t, model.VectorClock{"d1": 1}, entity.Fields["notes"].Clock)
}

func TestPushBatchMapsLocalIDWithinBatch(t *testing.T) {
	f := newSyncFixture(t)

	// Two operations on the same offline-created entity in one batch: the
	// second must land on the entity created by the first.
	resp, err := f.syncService.Push(context.Background(), "tenant-1", &model.PushRequest{
		DeviceID: "d1",
		Operations: []*model.Operation{
			{
				OpID:       "op-1",
				DeviceID:   "d1",
				EntityType: "task",
				LocalID:    "local-abc",
				Changes:    map[string]model.FieldValue{"notes": scalar("created")},
				Clock:      model.VectorClock{"d1": 1},
			},
			{
				OpID:       "op-2",
				DeviceID:   "d1",
				EntityType: "task",
				LocalID:    "local-abc",
				Changes:    map[string]model.FieldValue{"notes": scalar("updated")},
				Clock:      model.VectorClock{"d1": 2},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, resp.Results[0].EntityID, resp.Results[1].EntityID)
	assert.Equal(t, model.OpStatusApplied, resp.Results[1].Status)

	entity, err := f.entityStore.GetEntity(context.Background(), "tenant-1", resp.Results[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, "updated", entity.Fields["notes"].Value.Text)
	assert.Equal(t, model.VectorClock{"d1": 2}, entity.Clock)
}

func TestPushDirectApplyDoesNotBumpServerClock(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("dispatch note"),
	})
	require.NoError(t, err)
	require.Equal(t, model.VectorClock{"server": 1}, entity.Clock)

	// Device observed {server:1} on pull, then edited twice offline.
	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("on site")},
		Clock:    model.VectorClock{"server": 1, "d1": 2},
	})

	assert.Equal(t, model.OpStatusApplied, result.Status)
	// Applying a device operation merges clocks without a server increment.
	assert.Equal(t, model.VectorClock{"server": 1, "d1": 2}, result.Clock)

	stored, err := f.entityStore.GetEntity(context.Background(), "tenant-1", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VectorClock{"server": 1, "d1": 2}, stored.Clock)
}

func TestPushIdempotentReplay(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("server note"),
	})
	require.NoError(t, err)

	// Server edits again so the device op is concurrent and raises a conflict.
	_, err = f.syncService.UpdateEntity(context.Background(), "tenant-1", entity.ID, map[string]model.FieldValue{
		"notes": scalar("server rewrite"),
	})
	require.NoError(t, err)

	op := &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("device rewrite")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	}

	first := pushOne(t, f, op)
	require.Equal(t, model.OpStatusConflict, first.Status)

	// Same batch retried: byte-identical replay, no second conflict record.
	second := pushOne(t, f, op)
	assert.Equal(t, first, second)

	conflicts, err := f.entityStore.ListConflicts(context.Background(), "tenant-1", entity.ID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestPushConcurrentScalarRaisesConflict(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("original"),
	})
	require.NoError(t, err)

	_, err = f.syncService.UpdateEntity(context.Background(), "tenant-1", entity.ID, map[string]model.FieldValue{
		"notes": scalar("server edit"),
	})
	require.NoError(t, err)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("device edit")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	})

	assert.Equal(t, model.OpStatusConflict, result.Status)
	assert.Equal(t, model.FieldConflicted, result.Fields["notes"])
	require.Len(t, result.Conflicts, 1)

	// Entity keeps the server value until a human resolves.
	stored, err := f.entityStore.GetEntity(context.Background(), "tenant-1", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "server edit", stored.Fields["notes"].Value.Text)

	// The merged clock still advances past both sides.
	assert.True(t, NewVectorClockService("server").Dominates(stored.Clock, model.VectorClock{"server": 2, "d1": 1}))
}

func TestPushAgainstDeletedEntityRejected(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("to be removed"),
	})
	require.NoError(t, err)
	require.NoError(t, f.syncService.DeleteEntity(context.Background(), "tenant-1", entity.ID))

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("too late")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	})

	assert.Equal(t, model.OpStatusRejected, result.Status)
	assert.Equal(t, model.RejectEntityDeleted, result.Rejection)
}

func TestPushUnknownEntityRejected(t *testing.T) {
	f := newSyncFixture(t)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: "no-such-entity",
		Changes:  map[string]model.FieldValue{"notes": scalar("v")},
		Clock:    model.VectorClock{"d1": 1},
	})

	assert.Equal(t, model.OpStatusRejected, result.Status)
	assert.Equal(t, model.RejectEntityDeleted, result.Rejection)
}

func TestPushInvalidOperationRejected(t *testing.T) {
	f := newSyncFixture(t)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: "task-1",
		Changes:  map[string]model.FieldValue{},
		Clock:    model.VectorClock{"d1": 1},
	})

	assert.Equal(t, model.OpStatusRejected, result.Status)
	assert.Equal(t, model.RejectInvalidChange, result.Rejection)
}

func TestPushStatusChangeEmitsEvent(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"status": statusValue("assigned"),
	})
	require.NoError(t, err)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"status": statusValue("completed")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	})
	require.Equal(t, model.OpStatusApplied, result.Status)

	assert.Eventually(t, func() bool {
		for _, event := range f.events.Events() {
			if event.EntityID == entity.ID && event.OldStatus == "assigned" && event.NewStatus == "completed" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestResolveConflictClockArithmetic(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("original"),
	})
	require.NoError(t, err)

	_, err = f.syncService.UpdateEntity(context.Background(), "tenant-1", entity.ID, map[string]model.FieldValue{
		"notes": scalar("server edit"),
	})
	require.NoError(t, err)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("device edit")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	})
	require.Equal(t, model.OpStatusConflict, result.Status)
	conflictID := result.Conflicts[0].ID

	resolved, err := f.syncService.ResolveConflict(context.Background(), "tenant-1", conflictID, &model.Resolution{
		Choice: model.ResolutionKeepClient,
	})
	require.NoError(t, err)

	// Resolution is a server-actor operation: merge of both contributing
	// clocks plus a server increment.
	assert.Equal(t, "device edit", resolved.Fields["notes"].Value.Text)
	assert.Equal(t, model.VectorClock{"server": 3, "d1": 1}, resolved.Clock)

	// The settled record is gone.
	conflicts, err := f.entityStore.ListConflicts(context.Background(), "tenant-1", entity.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = f.syncService.ResolveConflict(context.Background(), "tenant-1", conflictID, &model.Resolution{
		Choice: model.ResolutionKeepServer,
	})
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestResolveConflictReplace(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("original"),
	})
	require.NoError(t, err)
	_, err = f.syncService.UpdateEntity(context.Background(), "tenant-1", entity.ID, map[string]model.FieldValue{
		"notes": scalar("server edit"),
	})
	require.NoError(t, err)

	result := pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: entity.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("device edit")},
		Clock:    model.VectorClock{"server": 1, "d1": 1},
	})
	require.Equal(t, model.OpStatusConflict, result.Status)

	merged := scalar("server edit / device edit")
	resolved, err := f.syncService.ResolveConflict(context.Background(), "tenant-1", result.Conflicts[0].ID, &model.Resolution{
		Choice: model.ResolutionReplace,
		Value:  &merged,
	})
	require.NoError(t, err)
	assert.Equal(t, "server edit / device edit", resolved.Fields["notes"].Value.Text)
}

func TestPullFiltersDominatedEntities(t *testing.T) {
	f := newSyncFixture(t)

	first, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("one"),
	})
	require.NoError(t, err)
	second, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("two"),
	})
	require.NoError(t, err)

	// Device op advances the second entity past {server:1}.
	pushOne(t, f, &model.Operation{
		OpID:     "op-1",
		DeviceID: "d2",
		EntityID: second.ID,
		Changes:  map[string]model.FieldValue{"notes": scalar("two updated")},
		Clock:    model.VectorClock{"server": 1, "d2": 1},
	})

	resp, err := f.syncService.Pull(context.Background(), "tenant-1", &model.PullRequest{
		DeviceID:   "d1",
		SinceClock: model.VectorClock{"server": 1},
	})
	require.NoError(t, err)

	require.Len(t, resp.Entities, 1)
	assert.Equal(t, second.ID, resp.Entities[0].ID)
	assert.Equal(t, model.VectorClock{"server": 1, "d2": 1}, resp.ServerClock)
	_ = first

	session, err := f.sessions.GetSession(context.Background(), "tenant-1", "d1")
	require.NoError(t, err)
	assert.Equal(t, resp.ServerClock, session.LastPulledClock)
}

func TestPullEmptySinceClockReturnsEverything(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("one"),
	})
	require.NoError(t, err)

	resp, err := f.syncService.Pull(context.Background(), "tenant-1", &model.PullRequest{
		DeviceID:   "d1",
		SinceClock: model.NewVectorClock(),
	})
	require.NoError(t, err)
	assert.Len(t, resp.Entities, 1)
}

func TestPushUnknownTenant(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.syncService.Push(context.Background(), "no-such-tenant", &model.PushRequest{
		DeviceID: "d1",
	})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestUpdateEntityIncrementsServerClock(t *testing.T) {
	f := newSyncFixture(t)

	entity, err := f.syncService.CreateEntity(context.Background(), "tenant-1", "task", map[string]model.FieldValue{
		"notes": scalar("v1"),
	})
	require.NoError(t, err)

	updated, err := f.syncService.UpdateEntity(context.Background(), "tenant-1", entity.ID, map[string]model.FieldValue{
		"notes": scalar("v2"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.VectorClock{"server": 2}, updated.Clock)
	assert.Equal(t, model.VectorClock{"server": 2}, updated.Fields["notes"].Clock)
}
