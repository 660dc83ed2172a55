package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates the server-side tables. Statements are idempotent so
// startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id  TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entities (
		tenant_id   TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		fields      JSONB NOT NULL,
		clock       JSONB NOT NULL,
		deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		version     BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conflicts (
		conflict_id  TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		entity_id    TEXT NOT NULL,
		field        TEXT NOT NULL,
		server_value JSONB NOT NULL,
		client_value JSONB NOT NULL,
		server_clock JSONB NOT NULL,
		client_clock JSONB NOT NULL,
		device_id    TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conflicts_tenant_entity_idx ON conflicts (tenant_id, entity_id)`,
	`CREATE TABLE IF NOT EXISTS sync_sessions (
		tenant_id         TEXT NOT NULL,
		device_id         TEXT NOT NULL,
		last_pulled_clock JSONB NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, device_id)
	)`,
}

// EnsureSchema creates any missing tables on the given pool.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
