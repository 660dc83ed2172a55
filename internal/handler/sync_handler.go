package handler

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/opsline/fieldsync/internal/errors"
	"github.com/opsline/fieldsync/internal/metrics"
	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/service"
	"go.uber.org/zap"
)

// SyncHandler handles the push/pull sync endpoints.
type SyncHandler struct {
	syncService  *service.SyncService
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	timeout      time.Duration
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	syncService *service.SyncService,
	errorHandler *apierrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
	timeout time.Duration,
) *SyncHandler {
	return &SyncHandler{
		syncService:  syncService,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		timeout:      timeout,
	}
}

// Push handles POST /v1/sync/push requests.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}

	var req model.PushRequest
	if !decodeBody(w, r, h.errorHandler, &req) {
		return
	}
	if req.DeviceID == "" {
		h.errorHandler.WriteValidationError(w, "device_id is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.syncService.Push(ctx, tenant, &req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordPush(time.Since(start))
		for _, result := range resp.Results {
			h.metrics.RecordOperation(string(result.Status))
			for _, conflict := range result.Conflicts {
				h.metrics.RecordConflict(string(conflict.ServerValue.Kind))
			}
		}
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Pull handles POST /v1/sync/pull requests.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}

	var req model.PullRequest
	if !decodeBody(w, r, h.errorHandler, &req) {
		return
	}
	if req.DeviceID == "" {
		h.errorHandler.WriteValidationError(w, "device_id is required", requestID)
		return
	}
	if req.SinceClock == nil {
		req.SinceClock = model.NewVectorClock()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.syncService.Pull(ctx, tenant, &req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordPull(len(resp.Entities))
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}
