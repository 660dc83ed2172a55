// Package handler provides HTTP request handlers for the sync server.
package handler

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/opsline/fieldsync/internal/errors"
	"go.uber.org/zap"
)

// TenantHeader carries the tenant scope of every data-plane request.
// Authentication happens upstream; the header is trusted here.
const TenantHeader = "X-Tenant-ID"

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// tenantID extracts the tenant scope from the request, writing a validation
// error when the header is missing.
func tenantID(w http.ResponseWriter, r *http.Request, errorHandler *apierrors.Handler) (string, bool) {
	id := r.Header.Get(TenantHeader)
	if id == "" {
		errorHandler.WriteValidationError(w, "missing "+TenantHeader+" header", r.Header.Get("X-Request-ID"))
		return "", false
	}
	return id, true
}

// decodeBody decodes a JSON request body, writing a validation error on
// malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, errorHandler *apierrors.Handler, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		errorHandler.WriteValidationError(w, "invalid request body: "+err.Error(), r.Header.Get("X-Request-ID"))
		return false
	}
	return true
}
