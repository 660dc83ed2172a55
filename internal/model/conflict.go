package model

import "time"

// ConflictRecord is raised when the merge resolver cannot auto-resolve a field.
// It lives until a resolution is supplied, then it is deleted; audit retention
// belongs to an external collaborator.
type ConflictRecord struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	EntityID    string      `json:"entity_id"`
	Field       string      `json:"field"`
	ServerValue FieldValue  `json:"server_value"`
	ClientValue FieldValue  `json:"client_value"`
	ServerClock VectorClock `json:"server_clock"`
	ClientClock VectorClock `json:"client_clock"`
	DeviceID    string      `json:"device_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ResolutionChoice selects how a conflict record is settled.
type ResolutionChoice string

const (
	// ResolutionKeepServer keeps the server-side value.
	ResolutionKeepServer ResolutionChoice = "keep_server"
	// ResolutionKeepClient applies the client-side value.
	ResolutionKeepClient ResolutionChoice = "keep_client"
	// ResolutionReplace applies an explicit replacement value, e.g. a human
	// concatenation of two free-text notes.
	ResolutionReplace ResolutionChoice = "replace"
)

// Valid reports whether the choice is known.
func (c ResolutionChoice) Valid() bool {
	switch c {
	case ResolutionKeepServer, ResolutionKeepClient, ResolutionReplace:
		return true
	default:
		return false
	}
}

// Resolution is the body of POST /v1/conflicts/{id}/resolve.
type Resolution struct {
	Choice ResolutionChoice `json:"choice"`
	// Value is required for ResolutionReplace and ignored otherwise.
	Value *FieldValue `json:"value,omitempty"`
}
