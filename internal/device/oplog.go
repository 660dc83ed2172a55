package device

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsline/fieldsync/internal/model"
)

// PendingOp is an operation waiting for server acknowledgement.
type PendingOp struct {
	Sequence  int64
	Operation *model.Operation
}

// appendOp durably records one operation inside the given transaction.
func (d *DB) appendOp(tx *sql.Tx, op *model.Operation) error {
	changes, err := json.Marshal(op.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	clock, err := json.Marshal(op.Clock)
	if err != nil {
		return fmt.Errorf("failed to marshal clock: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO oplog (op_id, entity_type, entity_id, local_id, changes, clock, client_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.OpID, op.EntityType, op.EntityID, op.LocalID,
		string(changes), string(clock), float64(op.ClientTime.UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// PendingOps returns unacknowledged operations in insertion order.
func (d *DB) PendingOps(deviceID string) ([]*PendingOp, error) {
	rows, err := d.db.Query(`
		SELECT sequence, op_id, entity_type, entity_id, local_id, changes, clock, client_time
		FROM oplog
		ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation log: %w", err)
	}
	defer rows.Close()

	var ops []*PendingOp
	for rows.Next() {
		var (
			seq        int64
			op         model.Operation
			changes    string
			clock      string
			clientTime float64
		)
		if err := rows.Scan(&seq, &op.OpID, &op.EntityType, &op.EntityID, &op.LocalID, &changes, &clock, &clientTime); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &op.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
		if err := json.Unmarshal([]byte(clock), &op.Clock); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clock: %w", err)
		}
		op.DeviceID = deviceID
		op.ClientTime = time.Unix(0, int64(clientTime*1e9))
		ops = append(ops, &PendingOp{Sequence: seq, Operation: &op})
	}
	return ops, rows.Err()
}

// AcknowledgeOp deletes one acknowledged operation from the log.
func (d *DB) AcknowledgeOp(opID string) error {
	if _, err := d.db.Exec(`DELETE FROM oplog WHERE op_id = ?`, opID); err != nil {
		return fmt.Errorf("failed to acknowledge operation: %w", err)
	}
	return nil
}

// PendingCount returns the number of unacknowledged operations.
func (d *DB) PendingCount() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM oplog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// RecordRejection keeps a permanently rejected operation visible to the UI.
func (d *DB) RecordRejection(opID, entityID string, code model.RejectionCode) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO rejections (op_id, entity_id, code) VALUES (?, ?, ?)`,
		opID, entityID, string(code))
	if err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	return nil
}

// Rejection is a permanently rejected local operation.
type Rejection struct {
	OpID     string
	EntityID string
	Code     model.RejectionCode
}

// Rejections lists recorded permanent rejections.
func (d *DB) Rejections() ([]*Rejection, error) {
	rows, err := d.db.Query(`SELECT op_id, entity_id, code FROM rejections ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	var rejections []*Rejection
	for rows.Next() {
		var r Rejection
		var code string
		if err := rows.Scan(&r.OpID, &r.EntityID, &code); err != nil {
			return nil, fmt.Errorf("failed to scan rejection: %w", err)
		}
		r.Code = model.RejectionCode(code)
		rejections = append(rejections, &r)
	}
	return rejections, rows.Err()
}
