package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsline/fieldsync/internal/config"
	"github.com/opsline/fieldsync/internal/health"
	"github.com/opsline/fieldsync/internal/metrics"
	"github.com/opsline/fieldsync/internal/server"
	"github.com/opsline/fieldsync/internal/service"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting FieldSync server")

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("server_actor_id", cfg.Sync.ServerActorID),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database))

	// Initialize metrics
	m := metrics.NewMetrics()
	logger.Info("Metrics initialized")

	// Initialize entity store (PostgreSQL)
	entityStore, err := store.NewPostgresEntityStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize entity store", zap.Error(err))
	}
	logger.Info("Entity store initialized")

	// Ensure schema is in place
	if err := store.EnsureSchema(context.Background(), entityStore.GetPool()); err != nil {
		logger.Fatal("Failed to ensure database schema", zap.Error(err))
	}

	// Metadata and session stores share the entity store's pool
	metadataStore := store.NewPostgresMetadataStore(entityStore.GetPool(), logger)
	sessionStore := store.NewPostgresSessionStore(entityStore.GetPool())

	// Initialize idempotency store (Redis)
	idempotencyStore, err := store.NewRedisIdempotencyStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}
	logger.Info("Idempotency store initialized")

	// Status event stream shares the Redis client
	eventStream := store.NewRedisEventStream(
		idempotencyStore.Client(),
		cfg.Sync.EventStreamKey,
		cfg.Sync.EventStreamMaxLen,
		logger,
	)

	// Initialize cache (in-memory)
	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, logger)
	logger.Info("Cache initialized")

	// Initialize services
	logger.Info("Initializing services")

	vcService := service.NewVectorClockService(cfg.Sync.ServerActorID)
	tenantService := service.NewTenantService(metadataStore, cache, cfg.Cache.TenantConfigTTL, logger)
	idempotencyService := service.NewIdempotencyService(idempotencyStore, cfg.Sync.IdempotencyTTL, logger)
	conflictService := service.NewConflictService(vcService, logger)
	mergeService := service.NewMergeService(conflictService, logger)
	eventService := service.NewEventService(eventStream, cfg.Sync.EventWorkers, cfg.Sync.EventQueueSize, logger)
	reconcileService := service.NewReconcileService(entityStore, vcService, eventService, logger)

	syncService := service.NewSyncService(
		tenantService,
		idempotencyService,
		conflictService,
		mergeService,
		reconcileService,
		vcService,
		entityStore,
		entityStore,
		sessionStore,
		logger,
	)

	logger.Info("All services initialized")

	// Start metrics server
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Build HTTP server
	healthChecker := health.NewHealthChecker(entityStore, idempotencyStore, eventStream, logger)
	srv := server.NewServer(cfg, syncService, tenantService, healthChecker, m, logger)
	srv.SetupRoutes()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}

	// Stop services and close stores
	eventService.Stop()
	entityStore.Close()
	if err := idempotencyStore.Close(); err != nil {
		logger.Warn("Failed to close idempotency store", zap.Error(err))
	}

	logger.Info("FieldSync server stopped")
}
