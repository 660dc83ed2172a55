// Package server provides the HTTP server for the sync API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/opsline/fieldsync/internal/config"
	apierrors "github.com/opsline/fieldsync/internal/errors"
	"github.com/opsline/fieldsync/internal/handler"
	"github.com/opsline/fieldsync/internal/health"
	"github.com/opsline/fieldsync/internal/metrics"
	"github.com/opsline/fieldsync/internal/middleware"
	"github.com/opsline/fieldsync/internal/service"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	syncHandler     *handler.SyncHandler
	entityHandler   *handler.EntityHandler
	conflictHandler *handler.ConflictHandler
	tenantHandler   *handler.TenantHandler
	healthChecker   *health.HealthChecker
	errorHandler    *apierrors.Handler
	metrics         *metrics.Metrics
	logger          *zap.Logger
	cfg             *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	syncService *service.SyncService,
	tenantService *service.TenantService,
	healthChecker *health.HealthChecker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)
	timeout := cfg.Server.RequestTimeout

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:          router,
		httpServer:      httpServer,
		syncHandler:     handler.NewSyncHandler(syncService, errorHandler, m, logger, timeout),
		entityHandler:   handler.NewEntityHandler(syncService, errorHandler, logger, timeout),
		conflictHandler: handler.NewConflictHandler(syncService, errorHandler, logger, timeout),
		tenantHandler:   handler.NewTenantHandler(tenantService, errorHandler, logger, timeout),
		healthChecker:   healthChecker,
		errorHandler:    errorHandler,
		metrics:         m,
		logger:          logger,
		cfg:             cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.metrics != nil {
		middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.metrics))
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthChecker.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthChecker.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Sync protocol
	v1.HandleFunc("/sync/push", s.syncHandler.Push).Methods(http.MethodPost)
	v1.HandleFunc("/sync/pull", s.syncHandler.Pull).Methods(http.MethodPost)

	// Server-actor entity operations
	v1.HandleFunc("/entities", s.entityHandler.Create).Methods(http.MethodPost)
	v1.HandleFunc("/entities/{entity_id}", s.entityHandler.Get).Methods(http.MethodGet)
	v1.HandleFunc("/entities/{entity_id}", s.entityHandler.Update).Methods(http.MethodPatch)
	v1.HandleFunc("/entities/{entity_id}", s.entityHandler.Delete).Methods(http.MethodDelete)

	// Conflict review and resolution
	v1.HandleFunc("/conflicts", s.conflictHandler.List).Methods(http.MethodGet)
	v1.HandleFunc("/conflicts/{conflict_id}/resolve", s.conflictHandler.Resolve).Methods(http.MethodPost)

	// Tenant management
	v1.HandleFunc("/tenants", s.tenantHandler.Create).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{tenant_id}", s.tenantHandler.Get).Methods(http.MethodGet)

	// Not found handler
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found", requestID)
	})

	// Method not allowed handler
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
