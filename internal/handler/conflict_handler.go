package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	apierrors "github.com/opsline/fieldsync/internal/errors"
	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/service"
	"go.uber.org/zap"
)

// ConflictHandler handles the conflict review and resolution endpoints.
type ConflictHandler struct {
	syncService  *service.SyncService
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewConflictHandler creates a new conflict handler
func NewConflictHandler(
	syncService *service.SyncService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *ConflictHandler {
	return &ConflictHandler{
		syncService:  syncService,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// ListConflictsResponse is the body of GET /v1/conflicts.
type ListConflictsResponse struct {
	Conflicts []*model.ConflictRecord `json:"conflicts"`
}

// List handles GET /v1/conflicts requests, optionally filtered by entity_id.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}
	entityID := r.URL.Query().Get("entity_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	conflicts, err := h.syncService.ListConflicts(ctx, tenant, entityID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ListConflictsResponse{Conflicts: conflicts})
}

// Resolve handles POST /v1/conflicts/{conflict_id}/resolve requests.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}
	conflictID := mux.Vars(r)["conflict_id"]

	var resolution model.Resolution
	if !decodeBody(w, r, h.errorHandler, &resolution) {
		return
	}
	if !resolution.Choice.Valid() {
		h.errorHandler.WriteValidationError(w, "invalid resolution choice", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entity, err := h.syncService.ResolveConflict(ctx, tenant, conflictID, &resolution)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, EntityResponse{Entity: entity})
}
