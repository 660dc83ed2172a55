package model

import "time"

// Operation is one client-recorded mutation: a set of field diffs for a single
// entity, tagged with the device's vector clock at the time of the edit. OpID is
// the idempotency key; resubmitting the same OpID replays the prior outcome.
type Operation struct {
	OpID       string                `json:"op_id"`
	DeviceID   string                `json:"device_id"`
	EntityType string                `json:"entity_type"`
	// EntityID is the server id when known. LocalID carries the client-generated
	// id for entities created offline; the push result returns the assigned
	// server id.
	EntityID   string                `json:"entity_id,omitempty"`
	LocalID    string                `json:"local_id,omitempty"`
	Changes    map[string]FieldValue `json:"changes"`
	Clock      VectorClock           `json:"clock"`
	// ClientTime is a wall-clock tie-breaker only, never an ordering signal.
	ClientTime time.Time             `json:"client_time"`
}

// OperationStatus is the terminal classification of one pushed operation.
type OperationStatus string

const (
	// OpStatusApplied means every change applied directly (client ahead or equal).
	OpStatusApplied OperationStatus = "applied"
	// OpStatusMerged means the operation went through the field-level merge and
	// every field auto-resolved.
	OpStatusMerged OperationStatus = "merged"
	// OpStatusConflict means at least one field produced a ConflictRecord.
	OpStatusConflict OperationStatus = "conflict"
	// OpStatusRejected means the operation was permanently rejected; the device
	// must discard it and inform the user.
	OpStatusRejected OperationStatus = "rejected"
	// OpStatusDuplicate means the OpID was already handled; the cached outcome
	// was replayed.
	OpStatusDuplicate OperationStatus = "duplicate"
)

// FieldOutcome is the per-field status inside an operation result.
type FieldOutcome string

const (
	// FieldApplied means the client value was written.
	FieldApplied FieldOutcome = "applied"
	// FieldAutoMerged means both sides changed the field but the merge resolved
	// it without a conflict (equal values or collection union).
	FieldAutoMerged FieldOutcome = "auto_merged"
	// FieldDiscarded means the server value won and the client change was dropped.
	FieldDiscarded FieldOutcome = "discarded"
	// FieldConflicted means a ConflictRecord was raised for human resolution.
	FieldConflicted FieldOutcome = "conflicted"
)

// RejectionCode identifies a permanent rejection cause.
type RejectionCode string

const (
	RejectEntityDeleted  RejectionCode = "entity_deleted"
	RejectTenantMismatch RejectionCode = "tenant_mismatch"
	RejectInvalidChange  RejectionCode = "invalid_change"
)

// OperationResult is the server's terminal answer for one operation. It is the
// value cached under the idempotency key.
type OperationResult struct {
	OpID      string                  `json:"op_id"`
	Status    OperationStatus         `json:"status"`
	EntityID  string                  `json:"entity_id,omitempty"`
	// LocalID echoes the client id when the push created the entity.
	LocalID   string                  `json:"local_id,omitempty"`
	Fields    map[string]FieldOutcome `json:"fields,omitempty"`
	Conflicts []*ConflictRecord       `json:"conflicts,omitempty"`
	// Clock is the entity's server clock after the operation was handled.
	Clock     VectorClock             `json:"clock,omitempty"`
	Rejection RejectionCode           `json:"rejection,omitempty"`
}

// PushRequest is the body of POST /v1/sync/push.
type PushRequest struct {
	DeviceID    string       `json:"device_id"`
	DeviceClock VectorClock  `json:"device_clock"`
	Operations  []*Operation `json:"operations"`
}

// PushResponse carries one result per pushed operation plus the tenant-wide
// server clock observed after the batch.
type PushResponse struct {
	Results     []*OperationResult `json:"results"`
	ServerClock VectorClock        `json:"server_clock"`
}

// PullRequest is the body of POST /v1/sync/pull.
type PullRequest struct {
	DeviceID   string      `json:"device_id"`
	SinceClock VectorClock `json:"since_clock"`
}

// PullResponse returns every entity not causally known to SinceClock, the open
// conflict records for the tenant, and the merged server clock the device should
// persist as its next SinceClock.
type PullResponse struct {
	Entities    []*Entity         `json:"entities"`
	Conflicts   []*ConflictRecord `json:"conflicts"`
	ServerClock VectorClock       `json:"server_clock"`
}
