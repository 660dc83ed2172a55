package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestReconcileService(t *testing.T) (*ReconcileService, *store.MemoryEntityStore, *store.MemoryEventStream) {
	t.Helper()
	logger := zap.NewNop()
	entityStore := store.NewMemoryEntityStore()
	events := store.NewMemoryEventStream()
	eventService := NewEventService(events, 1, 16, logger)
	t.Cleanup(eventService.Stop)
	vcService := NewVectorClockService("server")
	return NewReconcileService(entityStore, vcService, eventService, logger), entityStore, events
}

func TestCommitStampsFieldsAndBumpsVersion(t *testing.T) {
	rs, entityStore, _ := newTestReconcileService(t)
	ctx := context.Background()

	entity := &model.Entity{
		ID:       "task-1",
		TenantID: "tenant-1",
		Type:     "task",
		Fields: map[string]model.FieldState{
			"notes": {Value: scalar("v1"), Clock: model.VectorClock{"server": 1}},
		},
		Clock:   model.VectorClock{"server": 1},
		Version: 1,
	}
	require.NoError(t, entityStore.CreateEntity(ctx, entity))

	working := entity.Clone()
	newClock := model.VectorClock{"server": 1, "d1": 3}
	err := rs.Commit(ctx, working, map[string]model.FieldValue{
		"notes": scalar("v2"),
	}, newClock, nil, nil)
	require.NoError(t, err)

	stored, err := entityStore.GetEntity(ctx, "tenant-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", stored.Fields["notes"].Value.Text)
	assert.Equal(t, newClock, stored.Fields["notes"].Clock)
	assert.Equal(t, newClock, stored.Clock)
	assert.Equal(t, int64(2), stored.Version)
}

func TestCommitVersionMismatch(t *testing.T) {
	rs, entityStore, _ := newTestReconcileService(t)
	ctx := context.Background()

	entity := &model.Entity{
		ID:       "task-1",
		TenantID: "tenant-1",
		Type:     "task",
		Fields:   map[string]model.FieldState{},
		Clock:    model.VectorClock{"server": 1},
		Version:  1,
	}
	require.NoError(t, entityStore.CreateEntity(ctx, entity))

	stale := entity.Clone()
	stale.Version = 7

	err := rs.Commit(ctx, stale, map[string]model.FieldValue{
		"notes": scalar("late write"),
	}, model.VectorClock{"server": 2}, nil, nil)
	assert.ErrorIs(t, err, store.ErrVersionMismatch)

	// Nothing landed.
	stored, err := entityStore.GetEntity(ctx, "tenant-1", "task-1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Fields, "notes")
}

func TestCommitEmitsStatusTransition(t *testing.T) {
	rs, entityStore, events := newTestReconcileService(t)
	ctx := context.Background()

	entity := &model.Entity{
		ID:       "task-1",
		TenantID: "tenant-1",
		Type:     "task",
		Fields: map[string]model.FieldState{
			"status": {Value: statusValue("assigned"), Clock: model.VectorClock{"server": 1}},
		},
		Clock:   model.VectorClock{"server": 1},
		Version: 1,
	}
	require.NoError(t, entityStore.CreateEntity(ctx, entity))

	working := entity.Clone()
	err := rs.Commit(ctx, working, map[string]model.FieldValue{
		"status": statusValue("en_route"),
	}, model.VectorClock{"server": 1, "d1": 1}, nil, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, event := range events.Events() {
			if event.OldStatus == "assigned" && event.NewStatus == "en_route" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestCommitWithoutStatusChangeEmitsNothing(t *testing.T) {
	rs, entityStore, events := newTestReconcileService(t)
	ctx := context.Background()

	entity := &model.Entity{
		ID:       "task-1",
		TenantID: "tenant-1",
		Type:     "task",
		Fields: map[string]model.FieldState{
			"status": {Value: statusValue("assigned"), Clock: model.VectorClock{"server": 1}},
		},
		Clock:   model.VectorClock{"server": 1},
		Version: 1,
	}
	require.NoError(t, entityStore.CreateEntity(ctx, entity))

	working := entity.Clone()
	err := rs.Commit(ctx, working, map[string]model.FieldValue{
		"notes": scalar("no status change"),
	}, model.VectorClock{"server": 1, "d1": 1}, nil, nil)
	require.NoError(t, err)

	// Give the worker a beat, then confirm nothing showed up.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, events.Events())
}

func TestWithEntityLockSerializesSameEntity(t *testing.T) {
	rs, _, _ := newTestReconcileService(t)

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rs.WithEntityLock("tenant-1", "task-1", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestWithEntityLockReleasesMapEntry(t *testing.T) {
	rs, _, _ := newTestReconcileService(t)

	require.NoError(t, rs.WithEntityLock("tenant-1", "task-1", func() error { return nil }))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Empty(t, rs.locks)
}
