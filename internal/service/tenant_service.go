package service

import (
	"context"
	"fmt"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/opsline/fieldsync/internal/store"
	"go.uber.org/zap"
)

// TenantService manages tenant configurations
type TenantService struct {
	metadataStore store.MetadataStore
	cache         store.Cache
	cacheTTL      time.Duration
	logger        *zap.Logger
}

// NewTenantService creates a new tenant service
func NewTenantService(
	metadataStore store.MetadataStore,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *TenantService {
	return &TenantService{
		metadataStore: metadataStore,
		cache:         cache,
		cacheTTL:      cacheTTL,
		logger:        logger,
	}
}

// GetTenant retrieves tenant configuration, using cache if available
func (s *TenantService) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	cacheKey := s.tenantCacheKey(tenantID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if tenant, ok := cached.(*model.Tenant); ok {
			s.logger.Debug("Tenant config retrieved from cache",
				zap.String("tenant_id", tenantID))
			return tenant, nil
		}
	}

	tenant, err := s.metadataStore.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, tenant, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache tenant config",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return tenant, nil
}

// CreateTenant creates a new tenant
func (s *TenantService) CreateTenant(ctx context.Context, tenantID, name string) (*model.Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	now := time.Now()
	tenant := &model.Tenant{
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if err := s.metadataStore.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.logger.Info("Created tenant",
		zap.String("tenant_id", tenantID),
		zap.String("name", name))

	return tenant, nil
}

// tenantCacheKey builds the cache key for a tenant
func (s *TenantService) tenantCacheKey(tenantID string) string {
	return "tenant:" + tenantID
}
