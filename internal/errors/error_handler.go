// Package errors provides error handling and HTTP status code mapping for the
// sync server.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opsline/fieldsync/internal/service"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	// Tenant errors
	ErrorCodeTenantNotFound ErrorCode = "TENANT_NOT_FOUND"
	ErrorCodeTenantExists   ErrorCode = "TENANT_EXISTS"

	// Entity errors
	ErrorCodeEntityNotFound  ErrorCode = "ENTITY_NOT_FOUND"
	ErrorCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// Conflict resolution errors
	ErrorCodeConflictNotFound ErrorCode = "CONFLICT_NOT_FOUND"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")
	h.WriteErrorResponse(w, h.HTTPStatus(err), h.ToErrorCode(err), err.Error(), requestID)
}

// HTTPStatus maps an error to an HTTP status code.
func (h *Handler) HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrTenantNotFound),
		errors.Is(err, service.ErrEntityNotFound),
		errors.Is(err, service.ErrConflictNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrVersionMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ToErrorCode maps an error to an application error code.
func (h *Handler) ToErrorCode(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorCodeUnknown
	case errors.Is(err, service.ErrTenantNotFound):
		return ErrorCodeTenantNotFound
	case errors.Is(err, service.ErrEntityNotFound):
		return ErrorCodeEntityNotFound
	case errors.Is(err, service.ErrConflictNotFound):
		return ErrorCodeConflictNotFound
	case errors.Is(err, store.ErrNotFound):
		return ErrorCodeInvalidRequest
	case errors.Is(err, store.ErrVersionMismatch):
		return ErrorCodeVersionConflict
	default:
		return ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}

// WriteServiceUnavailable writes a service unavailable response.
func (h *Handler) WriteServiceUnavailable(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorCodeServiceDown, message, requestID)
}
