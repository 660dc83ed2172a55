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

// EntityHandler handles the server-actor entity endpoints used by back-office
// collaborators: direct reads and edits against the authoritative store.
type EntityHandler struct {
	syncService  *service.SyncService
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(
	syncService *service.SyncService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *EntityHandler {
	return &EntityHandler{
		syncService:  syncService,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// CreateEntityRequest is the body of POST /v1/entities.
type CreateEntityRequest struct {
	Type   string                      `json:"type"`
	Fields map[string]model.FieldValue `json:"fields"`
}

// UpdateEntityRequest is the body of PATCH /v1/entities/{id}.
type UpdateEntityRequest struct {
	Fields map[string]model.FieldValue `json:"fields"`
}

// EntityResponse wraps merged entity state with its open conflict records.
type EntityResponse struct {
	Entity    *model.Entity           `json:"entity"`
	Conflicts []*model.ConflictRecord `json:"conflicts,omitempty"`
}

// Get handles GET /v1/entities/{entity_id} requests.
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entity, conflicts, err := h.syncService.GetEntity(ctx, tenant, entityID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, EntityResponse{Entity: entity, Conflicts: conflicts})
}

// Create handles POST /v1/entities requests.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}

	var req CreateEntityRequest
	if !decodeBody(w, r, h.errorHandler, &req) {
		return
	}
	if req.Type == "" {
		h.errorHandler.WriteValidationError(w, "type is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entity, err := h.syncService.CreateEntity(ctx, tenant, req.Type, req.Fields)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, EntityResponse{Entity: entity})
}

// Update handles PATCH /v1/entities/{entity_id} requests.
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	var req UpdateEntityRequest
	if !decodeBody(w, r, h.errorHandler, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entity, err := h.syncService.UpdateEntity(ctx, tenant, entityID, req.Fields)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, EntityResponse{Entity: entity})
}

// Delete handles DELETE /v1/entities/{entity_id} requests.
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r, h.errorHandler)
	if !ok {
		return
	}
	entityID := mux.Vars(r)["entity_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.syncService.DeleteEntity(ctx, tenant, entityID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
