package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsline/fieldsync/internal/config"
	"github.com/opsline/fieldsync/internal/handler"
	"github.com/opsline/fieldsync/internal/health"
	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/service"
	"github.com/opsline/fieldsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	entityStore := store.NewMemoryEntityStore()
	metadataStore := store.NewMemoryMetadataStore()
	sessionStore := store.NewMemorySessionStore()
	idemStore := store.NewMemoryIdempotencyStore()
	events := store.NewMemoryEventStream()
	cache := store.NewInMemoryCache(100, logger)

	vcService := service.NewVectorClockService("server")
	tenantService := service.NewTenantService(metadataStore, cache, time.Minute, logger)
	idempotencyService := service.NewIdempotencyService(idemStore, time.Hour, logger)
	conflictService := service.NewConflictService(vcService, logger)
	mergeService := service.NewMergeService(conflictService, logger)
	eventService := service.NewEventService(events, 1, 64, logger)
	t.Cleanup(eventService.Stop)
	reconcileService := service.NewReconcileService(entityStore, vcService, eventService, logger)
	syncService := service.NewSyncService(
		tenantService, idempotencyService, conflictService, mergeService,
		reconcileService, vcService, entityStore, entityStore, sessionStore, logger,
	)

	_, err := tenantService.CreateTenant(context.Background(), "tenant-1", "Acme Field Services")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.RateLimiter.Enabled = false

	healthChecker := health.NewHealthChecker(entityStore, idemStore, events, logger)
	srv := NewServer(cfg, syncService, tenantService, healthChecker, nil, logger)
	srv.SetupRoutes()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, tenantID string, body, out interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(handler.TenantHeader, tenantID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func scalar(text string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindScalar, Text: text}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEntityLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var created handler.EntityResponse
	resp := doJSON(t, ts, http.MethodPost, "/v1/entities", "tenant-1", handler.CreateEntityRequest{
		Type: "task",
		Fields: map[string]model.FieldValue{
			"notes": scalar("first visit"),
		},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.Entity.ID)
	assert.Equal(t, model.VectorClock{"server": 1}, created.Entity.Clock)

	var fetched handler.EntityResponse
	resp = doJSON(t, ts, http.MethodGet, "/v1/entities/"+created.Entity.ID, "tenant-1", nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "first visit", fetched.Entity.Fields["notes"].Value.Text)

	var updated handler.EntityResponse
	resp = doJSON(t, ts, http.MethodPatch, "/v1/entities/"+created.Entity.ID, "tenant-1", handler.UpdateEntityRequest{
		Fields: map[string]model.FieldValue{
			"notes": scalar("rescheduled"),
		},
	}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.VectorClock{"server": 2}, updated.Entity.Clock)

	resp = doJSON(t, ts, http.MethodDelete, "/v1/entities/"+created.Entity.ID, "tenant-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var deleted handler.EntityResponse
	resp = doJSON(t, ts, http.MethodGet, "/v1/entities/"+created.Entity.ID, "tenant-1", nil, &deleted)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, deleted.Entity.Deleted)
}

func TestPushPullRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	var pushResp model.PushResponse
	resp := doJSON(t, ts, http.MethodPost, "/v1/sync/push", "tenant-1", model.PushRequest{
		DeviceID:    "d1",
		DeviceClock: model.VectorClock{"d1": 1},
		Operations: []*model.Operation{
			{
				OpID:       "op-1",
				DeviceID:   "d1",
				EntityType: "task",
				LocalID:    "local-1",
				Changes:    map[string]model.FieldValue{"notes": scalar("offline create")},
				Clock:      model.VectorClock{"d1": 1},
			},
		},
	}, &pushResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, pushResp.Results, 1)
	assert.Equal(t, model.OpStatusApplied, pushResp.Results[0].Status)
	assert.Equal(t, "local-1", pushResp.Results[0].LocalID)
	require.NotEmpty(t, pushResp.Results[0].EntityID)

	var pullResp model.PullResponse
	resp = doJSON(t, ts, http.MethodPost, "/v1/sync/pull", "tenant-1", model.PullRequest{
		DeviceID:   "d2",
		SinceClock: model.NewVectorClock(),
	}, &pullResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, pullResp.Entities, 1)
	assert.Equal(t, pushResp.Results[0].EntityID, pullResp.Entities[0].ID)
	assert.Equal(t, model.VectorClock{"d1": 1}, pullResp.ServerClock)
}

func TestConflictResolutionOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var created handler.EntityResponse
	doJSON(t, ts, http.MethodPost, "/v1/entities", "tenant-1", handler.CreateEntityRequest{
		Type:   "task",
		Fields: map[string]model.FieldValue{"notes": scalar("original")},
	}, &created)

	doJSON(t, ts, http.MethodPatch, "/v1/entities/"+created.Entity.ID, "tenant-1", handler.UpdateEntityRequest{
		Fields: map[string]model.FieldValue{"notes": scalar("server edit")},
	}, nil)

	var pushResp model.PushResponse
	doJSON(t, ts, http.MethodPost, "/v1/sync/push", "tenant-1", model.PushRequest{
		DeviceID: "d1",
		Operations: []*model.Operation{
			{
				OpID:     "op-1",
				DeviceID: "d1",
				EntityID: created.Entity.ID,
				Changes:  map[string]model.FieldValue{"notes": scalar("device edit")},
				Clock:    model.VectorClock{"server": 1, "d1": 1},
			},
		},
	}, &pushResp)
	require.Equal(t, model.OpStatusConflict, pushResp.Results[0].Status)

	var list handler.ListConflictsResponse
	resp := doJSON(t, ts, http.MethodGet, "/v1/conflicts?entity_id="+created.Entity.ID, "tenant-1", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Conflicts, 1)

	var resolved handler.EntityResponse
	resp = doJSON(t, ts, http.MethodPost, "/v1/conflicts/"+list.Conflicts[0].ID+"/resolve", "tenant-1", model.Resolution{
		Choice: model.ResolutionKeepClient,
	}, &resolved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "device edit", resolved.Entity.Fields["notes"].Value.Text)

	doJSON(t, ts, http.MethodGet, "/v1/conflicts?entity_id="+created.Entity.ID, "tenant-1", nil, &list)
	assert.Empty(t, list.Conflicts)
}

func TestMissingTenantHeader(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/sync/push", "", model.PushRequest{DeviceID: "d1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownTenantReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/v1/sync/push", "no-such-tenant", model.PushRequest{
		DeviceID:   "d1",
		Operations: []*model.Operation{},
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownEntityReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/v1/entities/no-such-entity", "tenant-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}
