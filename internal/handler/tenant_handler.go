package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	apierrors "github.com/opsline/fieldsync/internal/errors"
	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/service"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// TenantHandler handles tenant management operations
type TenantHandler struct {
	tenantService *service.TenantService
	errorHandler  *apierrors.Handler
	logger        *zap.Logger
	timeout       time.Duration
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(
	tenantService *service.TenantService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *TenantHandler {
	return &TenantHandler{
		tenantService: tenantService,
		errorHandler:  errorHandler,
		logger:        logger,
		timeout:       timeout,
	}
}

// CreateTenantRequest is the body of POST /v1/tenants.
type CreateTenantRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// TenantResponse wraps a tenant record.
type TenantResponse struct {
	Tenant *model.Tenant `json:"tenant"`
}

// Create handles POST /v1/tenants requests.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req CreateTenantRequest
	if !decodeBody(w, r, h.errorHandler, &req) {
		return
	}
	if req.TenantID == "" {
		h.errorHandler.WriteValidationError(w, "tenant_id is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenant, err := h.tenantService.CreateTenant(ctx, req.TenantID, req.Name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, TenantResponse{Tenant: tenant})
}

// Get handles GET /v1/tenants/{tenant_id} requests.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	id := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tenant, err := h.tenantService.GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeTenantNotFound, "tenant not found", requestID)
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, TenantResponse{Tenant: tenant})
}
