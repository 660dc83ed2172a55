package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsline/fieldsync/internal/model"
)

// PostgresSessionStore implements SessionStore for PostgreSQL
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a session store on a shared connection pool
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// GetSession retrieves a device's sync session
func (s *PostgresSessionStore) GetSession(ctx context.Context, tenantID, deviceID string) (*model.SyncSession, error) {
	query := `
		SELECT tenant_id, device_id, last_pulled_clock, updated_at
		FROM sync_sessions
		WHERE tenant_id = $1 AND device_id = $2
	`

	var session model.SyncSession
	var clock []byte
	err := s.pool.QueryRow(ctx, query, tenantID, deviceID).Scan(
		&session.TenantID,
		&session.DeviceID,
		&clock,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal(clock, &session.LastPulledClock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session clock: %w", err)
	}

	return &session, nil
}

// UpsertSession inserts or replaces a device's sync session
func (s *PostgresSessionStore) UpsertSession(ctx context.Context, session *model.SyncSession) error {
	clock, err := json.Marshal(session.LastPulledClock)
	if err != nil {
		return fmt.Errorf("failed to marshal session clock: %w", err)
	}

	query := `
		INSERT INTO sync_sessions (tenant_id, device_id, last_pulled_clock, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, device_id)
		DO UPDATE SET last_pulled_clock = EXCLUDED.last_pulled_clock, updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		session.TenantID,
		session.DeviceID,
		clock,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}
