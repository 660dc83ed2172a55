package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

// PostgresEntityStore implements EntityStore and ConflictStore for PostgreSQL
type PostgresEntityStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresEntityStore creates a new PostgreSQL entity store
func NewPostgresEntityStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresEntityStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresEntityStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// GetPool returns the underlying connection pool for shared use
func (s *PostgresEntityStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// GetEntity retrieves one entity by server id
func (s *PostgresEntityStore) GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, error) {
	query := `
		SELECT tenant_id, entity_id, entity_type, fields, clock, deleted, version, created_at, updated_at
		FROM entities
		WHERE tenant_id = $1 AND entity_id = $2
	`

	row := s.pool.QueryRow(ctx, query, tenantID, entityID)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

// ListEntities retrieves all entities for a tenant, soft-deleted ones included
// so devices learn about deletions on pull.
func (s *PostgresEntityStore) ListEntities(ctx context.Context, tenantID string) ([]*model.Entity, error) {
	query := `
		SELECT tenant_id, entity_id, entity_type, fields, clock, deleted, version, created_at, updated_at
		FROM entities
		WHERE tenant_id = $1
	`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*model.Entity, 0)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// CreateEntity inserts a new entity
func (s *PostgresEntityStore) CreateEntity(ctx context.Context, entity *model.Entity) error {
	fields, clock, err := marshalEntityState(entity)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (tenant_id, entity_id, entity_type, fields, clock, deleted, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		entity.TenantID,
		entity.ID,
		entity.Type,
		fields,
		clock,
		entity.Deleted,
		entity.Version,
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

// ApplyUpdate commits one reconciliation outcome in a single transaction:
// entity row (optimistic version check), new conflict records, and deletion of
// resolved ones. A version miss rolls everything back with ErrVersionMismatch.
func (s *PostgresEntityStore) ApplyUpdate(
	ctx context.Context,
	entity *model.Entity,
	newConflicts []*model.ConflictRecord,
	resolvedConflictIDs []string,
) error {
	fields, clock, err := marshalEntityState(entity)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE entities
		SET fields = $3, clock = $4, deleted = $5, version = $6, updated_at = $7
		WHERE tenant_id = $1 AND entity_id = $2 AND version = $8
	`

	result, err := tx.Exec(ctx, query,
		entity.TenantID,
		entity.ID,
		fields,
		clock,
		entity.Deleted,
		entity.Version+1,
		entity.UpdatedAt,
		entity.Version, // Optimistic locking
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionMismatch
	}

	for _, conflict := range newConflicts {
		if err := insertConflict(ctx, tx, conflict); err != nil {
			return err
		}
	}

	for _, conflictID := range resolvedConflictIDs {
		if _, err := tx.Exec(ctx,
			`DELETE FROM conflicts WHERE tenant_id = $1 AND conflict_id = $2`,
			entity.TenantID, conflictID,
		); err != nil {
			return fmt.Errorf("failed to delete resolved conflict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity update: %w", err)
	}

	entity.Version++
	return nil
}

// GetConflict retrieves one conflict record
func (s *PostgresEntityStore) GetConflict(ctx context.Context, tenantID, conflictID string) (*model.ConflictRecord, error) {
	query := `
		SELECT conflict_id, tenant_id, entity_id, field, server_value, client_value, server_clock, client_clock, device_id, created_at
		FROM conflicts
		WHERE tenant_id = $1 AND conflict_id = $2
	`

	row := s.pool.QueryRow(ctx, query, tenantID, conflictID)
	conflict, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	return conflict, nil
}

// ListConflicts retrieves open conflicts for a tenant, optionally for one entity
func (s *PostgresEntityStore) ListConflicts(ctx context.Context, tenantID, entityID string) ([]*model.ConflictRecord, error) {
	query := `
		SELECT conflict_id, tenant_id, entity_id, field, server_value, client_value, server_clock, client_clock, device_id, created_at
		FROM conflicts
		WHERE tenant_id = $1 AND ($2 = '' OR entity_id = $2)
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]*model.ConflictRecord, 0)
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}

	return conflicts, rows.Err()
}

// Ping checks the database connection
func (s *PostgresEntityStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresEntityStore) Close() {
	s.pool.Close()
}

func marshalEntityState(entity *model.Entity) ([]byte, []byte, error) {
	fields, err := json.Marshal(entity.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal entity fields: %w", err)
	}
	clock, err := json.Marshal(entity.Clock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal entity clock: %w", err)
	}
	return fields, clock, nil
}

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var entity model.Entity
	var fields, clock []byte

	err := row.Scan(
		&entity.TenantID,
		&entity.ID,
		&entity.Type,
		&fields,
		&clock,
		&entity.Deleted,
		&entity.Version,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &entity.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity fields: %w", err)
	}
	if err := json.Unmarshal(clock, &entity.Clock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity clock: %w", err)
	}

	return &entity, nil
}

func insertConflict(ctx context.Context, tx pgx.Tx, conflict *model.ConflictRecord) error {
	serverValue, err := json.Marshal(conflict.ServerValue)
	if err != nil {
		return fmt.Errorf("failed to marshal server value: %w", err)
	}
	clientValue, err := json.Marshal(conflict.ClientValue)
	if err != nil {
		return fmt.Errorf("failed to marshal client value: %w", err)
	}
	serverClock, err := json.Marshal(conflict.ServerClock)
	if err != nil {
		return fmt.Errorf("failed to marshal server clock: %w", err)
	}
	clientClock, err := json.Marshal(conflict.ClientClock)
	if err != nil {
		return fmt.Errorf("failed to marshal client clock: %w", err)
	}

	query := `
		INSERT INTO conflicts (conflict_id, tenant_id, entity_id, field, server_value, client_value, server_clock, client_clock, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.Exec(ctx, query,
		conflict.ID,
		conflict.TenantID,
		conflict.EntityID,
		conflict.Field,
		serverValue,
		clientValue,
		serverClock,
		clientClock,
		conflict.DeviceID,
		conflict.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	return nil
}

func scanConflict(row pgx.Row) (*model.ConflictRecord, error) {
	var conflict model.ConflictRecord
	var serverValue, clientValue, serverClock, clientClock []byte

	err := row.Scan(
		&conflict.ID,
		&conflict.TenantID,
		&conflict.EntityID,
		&conflict.Field,
		&serverValue,
		&clientValue,
		&serverClock,
		&clientClock,
		&conflict.DeviceID,
		&conflict.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(serverValue, &conflict.ServerValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server value: %w", err)
	}
	if err := json.Unmarshal(clientValue, &conflict.ClientValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client value: %w", err)
	}
	if err := json.Unmarshal(serverClock, &conflict.ServerClock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server clock: %w", err)
	}
	if err := json.Unmarshal(clientClock, &conflict.ClientClock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client clock: %w", err)
	}

	return &conflict, nil
}
