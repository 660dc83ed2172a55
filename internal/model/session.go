package model

import "time"

// SyncSession is the server-side record of one device's sync progress: the last
// server clock the device has fully observed. In-flight operation ids are held
// by the idempotency store, not here.
type SyncSession struct {
	DeviceID        string      `json:"device_id"`
	TenantID        string      `json:"tenant_id"`
	LastPulledClock VectorClock `json:"last_pulled_clock"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// StatusEvent is emitted to the downstream pipeline when an entity's status
// field transitions. Consumers must be idempotent on (EntityID, NewStatus).
type StatusEvent struct {
	TenantID  string      `json:"tenant_id"`
	EntityID  string      `json:"entity_id"`
	OldStatus string      `json:"old_status"`
	NewStatus string      `json:"new_status"`
	Clock     VectorClock `json:"clock"`
	EmittedAt time.Time   `json:"emitted_at"`
}
