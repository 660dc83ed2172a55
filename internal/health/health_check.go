package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	entityStore      store.EntityStore
	idempotencyStore store.IdempotencyStore
	eventStream      store.EventStream
	logger           *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(
	entityStore store.EntityStore,
	idempotencyStore store.IdempotencyStore,
	eventStream store.EventStream,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		entityStore:      entityStore,
		idempotencyStore: idempotencyStore,
		eventStream:      eventStream,
		logger:           logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check entity store (PostgreSQL)
	if err := h.checkEntityStore(ctx); err != nil {
		h.logger.Error("Entity store health check failed", zap.Error(err))
		checks["entity_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["entity_store"] = "healthy"
	}

	// Check idempotency store (Redis)
	if err := h.checkIdempotencyStore(ctx); err != nil {
		h.logger.Error("Idempotency store health check failed", zap.Error(err))
		checks["idempotency_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["idempotency_store"] = "healthy"
	}

	// Check event stream (Redis stream)
	if err := h.checkEventStream(ctx); err != nil {
		h.logger.Error("Event stream health check failed", zap.Error(err))
		checks["event_stream"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["event_stream"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkEntityStore(ctx context.Context) error {
	if h.entityStore == nil {
		return nil // Skip if not initialized
	}
	return h.entityStore.Ping(ctx)
}

func (h *HealthChecker) checkIdempotencyStore(ctx context.Context) error {
	if h.idempotencyStore == nil {
		return nil // Skip if not initialized
	}
	return h.idempotencyStore.Ping(ctx)
}

func (h *HealthChecker) checkEventStream(ctx context.Context) error {
	if h.eventStream == nil {
		return nil // Skip if not initialized
	}
	return h.eventStream.Ping(ctx)
}
