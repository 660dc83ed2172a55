package model

import "time"

// FieldKind classifies a field for merge precedence. The merge resolver switches
// exhaustively over this enum instead of inspecting values at runtime.
type FieldKind string

const (
	// FieldKindScalar is a plain text/scalar field; concurrent edits conflict.
	FieldKindScalar FieldKind = "scalar"
	// FieldKindStatus is a lifecycle state-machine field; the server value always wins.
	FieldKindStatus FieldKind = "status"
	// FieldKindCollection is an append-only collection; concurrent additions union.
	FieldKindCollection FieldKind = "collection"
	// FieldKindArtifact is a device-captured artifact (signature, photo hash); the
	// capturing device wins.
	FieldKindArtifact FieldKind = "artifact"
	// FieldKindMoney is a monetary field; the server value wins and the discrepancy
	// is escalated to manual review.
	FieldKindMoney FieldKind = "money"
)

// Valid reports whether the kind is one of the known field kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindScalar, FieldKindStatus, FieldKindCollection, FieldKindArtifact, FieldKindMoney:
		return true
	default:
		return false
	}
}

// FieldValue is the tagged union carried on the wire for one field. Text holds
// scalar, status, artifact and money values; Items holds collection members.
type FieldValue struct {
	Kind  FieldKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Items []string  `json:"items,omitempty"`
}

// Equal reports whether two field values carry the same content.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Kind != other.Kind || v.Text != other.Text {
		return false
	}
	if len(v.Items) != len(other.Items) {
		return false
	}
	for i := range v.Items {
		if v.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}

// FieldState is a stored field: its current value plus the vector clock of the
// write that produced it. The field clock is what lets the merge resolver decide
// whether the server changed a field since a device's base clock.
type FieldState struct {
	Value FieldValue  `json:"value"`
	Clock VectorClock `json:"clock"`
}

// Entity is a syncable record owned by exactly one tenant. Clock is the
// authoritative server clock; Version is the optimistic-locking counter used by
// the entity store.
type Entity struct {
	ID        string                `json:"id"`
	TenantID  string                `json:"tenant_id"`
	Type      string                `json:"type"`
	Fields    map[string]FieldState `json:"fields"`
	Clock     VectorClock           `json:"clock"`
	Deleted   bool                  `json:"deleted"`
	Version   int64                 `json:"version"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Status returns the entity's status field value, empty if unset.
func (e *Entity) Status() string {
	if fs, ok := e.Fields["status"]; ok {
		return fs.Value.Text
	}
	return ""
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	out := *e
	out.Clock = e.Clock.Clone()
	out.Fields = make(map[string]FieldState, len(e.Fields))
	for name, fs := range e.Fields {
		cp := fs
		cp.Clock = fs.Clock.Clone()
		cp.Value.Items = append([]string(nil), fs.Value.Items...)
		out.Fields[name] = cp
	}
	return &out
}
