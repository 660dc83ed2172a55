package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

// PostgresMetadataStore implements MetadataStore for PostgreSQL
type PostgresMetadataStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresMetadataStore creates a metadata store on a shared connection pool
func NewPostgresMetadataStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresMetadataStore {
	return &PostgresMetadataStore{
		pool:   pool,
		logger: logger,
	}
}

// GetTenant retrieves tenant configuration
func (s *PostgresMetadataStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	query := `
		SELECT tenant_id, name, created_at, updated_at, version
		FROM tenants
		WHERE tenant_id = $1
	`

	var tenant model.Tenant
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
		&tenant.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// CreateTenant creates a new tenant
func (s *PostgresMetadataStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	query := `
		INSERT INTO tenants (tenant_id, name, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.CreatedAt,
		tenant.UpdatedAt,
		tenant.Version,
	)

	return err
}

// UpdateTenant updates tenant configuration
func (s *PostgresMetadataStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	query := `
		UPDATE tenants
		SET name = $2, updated_at = $3, version = $4
		WHERE tenant_id = $1 AND version = $5
	`

	result, err := s.pool.Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.UpdatedAt,
		tenant.Version,
		tenant.Version-1, // Optimistic locking
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("tenant not found or version mismatch")
	}

	return nil
}

// DeleteTenant removes a tenant
func (s *PostgresMetadataStore) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	return err
}

// Ping checks the database connection
func (s *PostgresMetadataStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the entity store
func (s *PostgresMetadataStore) Close() {}
