package device

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opsline/fieldsync/internal/model"
)

// ErrEntityNotFound is returned by GetEntity for unknown ids.
var ErrEntityNotFound = errors.New("entity not found")

// LocalEntity is the device's view of an entity: field values and the entity
// clock, without the server's per-field clock bookkeeping.
type LocalEntity struct {
	ID      string                      `json:"id"`
	Type    string                      `json:"type"`
	Fields  map[string]model.FieldValue `json:"fields"`
	Clock   model.VectorClock           `json:"clock"`
	Deleted bool                        `json:"deleted"`
}

// getEntity loads one local entity, nil when unknown.
func (d *DB) getEntity(id string) (*LocalEntity, error) {
	row := d.db.QueryRow(`
		SELECT entity_id, entity_type, fields, clock, deleted
		FROM entities WHERE entity_id = ?`, id)

	var (
		e       LocalEntity
		fields  string
		clock   string
		deleted int
	)
	if err := row.Scan(&e.ID, &e.Type, &fields, &clock, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	if err := json.Unmarshal([]byte(clock), &e.Clock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal clock: %w", err)
	}
	e.Deleted = deleted != 0
	return &e, nil
}

// putEntity upserts one local entity inside the given transaction. A nil tx
// writes directly.
func (d *DB) putEntity(tx *sql.Tx, e *LocalEntity) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	clock, err := json.Marshal(e.Clock)
	if err != nil {
		return fmt.Errorf("failed to marshal clock: %w", err)
	}
	deleted := 0
	if e.Deleted {
		deleted = 1
	}

	query := `
		INSERT INTO entities (entity_id, entity_type, fields, clock, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			fields = excluded.fields,
			clock = excluded.clock,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`

	if tx != nil {
		_, err = tx.Exec(query, e.ID, e.Type, string(fields), string(clock), deleted)
	} else {
		_, err = d.db.Exec(query, e.ID, e.Type, string(fields), string(clock), deleted)
	}
	if err != nil {
		return fmt.Errorf("failed to store entity: %w", err)
	}
	return nil
}

// rekeyEntity moves a locally created entity from its local id to the server
// id assigned on push.
func (d *DB) rekeyEntity(localID, serverID string) error {
	_, err := d.db.Exec(`UPDATE OR REPLACE entities SET entity_id = ? WHERE entity_id = ?`, serverID, localID)
	if err != nil {
		return fmt.Errorf("failed to rekey entity: %w", err)
	}
	return nil
}

// replaceConflicts swaps the locally known conflict records for the pulled set.
func (d *DB) replaceConflicts(records []*model.ConflictRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conflicts`); err != nil {
		return fmt.Errorf("failed to clear conflicts: %w", err)
	}
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO conflicts (conflict_id, entity_id, field, record) VALUES (?, ?, ?, ?)`,
			record.ID, record.EntityID, record.Field, string(payload))
		if err != nil {
			return fmt.Errorf("failed to store conflict: %w", err)
		}
	}
	return tx.Commit()
}

// storeConflicts adds conflict records reported by a push result.
func (d *DB) storeConflicts(records []*model.ConflictRecord) error {
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict: %w", err)
		}
		_, err = d.db.Exec(`
			INSERT OR REPLACE INTO conflicts (conflict_id, entity_id, field, record) VALUES (?, ?, ?, ?)`,
			record.ID, record.EntityID, record.Field, string(payload))
		if err != nil {
			return fmt.Errorf("failed to store conflict: %w", err)
		}
	}
	return nil
}

// entityConflicts lists locally known conflicts for one entity.
func (d *DB) entityConflicts(entityID string) ([]*model.ConflictRecord, error) {
	rows, err := d.db.Query(`SELECT record FROM conflicts WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var records []*model.ConflictRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		var record model.ConflictRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// getMeta reads a JSON-encoded meta value into dst; ok is false when unset.
func (d *DB) getMeta(key string, dst interface{}) (bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal meta %q: %w", key, err)
	}
	return true, nil
}

// setMeta writes a JSON-encoded meta value. A nil tx writes directly.
func (d *DB) setMeta(tx *sql.Tx, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal meta %q: %w", key, err)
	}

	query := `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if tx != nil {
		_, err = tx.Exec(query, key, string(payload))
	} else {
		_, err = d.db.Exec(query, key, string(payload))
	}
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}
