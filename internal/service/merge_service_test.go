package service

import (
	"testing"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMergeService() *MergeService {
	vcService := NewVectorClockService("server")
	return NewMergeService(NewConflictService(vcService, zap.NewNop()), zap.NewNop())
}

func scalar(text string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindScalar, Text: text}
}

func statusValue(text string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindStatus, Text: text}
}

func money(text string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindMoney, Text: text}
}

func collection(items ...string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindCollection, Items: items}
}

func artifact(text string) model.FieldValue {
	return model.FieldValue{Kind: model.FieldKindArtifact, Text: text}
}

func testEntity(fields map[string]model.FieldState, clock model.VectorClock) *model.Entity {
	return &model.Entity{
		ID:       "task-1",
		TenantID: "tenant-1",
		Type:     "task",
		Fields:   fields,
		Clock:    clock,
		Version:  1,
	}
}

func testOp(changes map[string]model.FieldValue, clock model.VectorClock) *model.Operation {
	return &model.Operation{
		OpID:     "op-1",
		DeviceID: "d1",
		EntityID: "task-1",
		Changes:  changes,
		Clock:    clock,
	}
}

func TestMergeClientOnlyChange(t *testing.T) {
	svc := newTestMergeService()

	// Field last written at {server:1}, which the device observed before editing.
	entity := testEntity(map[string]model.FieldState{
		"notes": {Value: scalar("old"), Clock: model.VectorClock{"server": 1}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"notes": scalar("new"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldApplied, result.Outcomes["notes"])
	assert.Equal(t, scalar("new"), result.Applied["notes"])
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, model.OpStatusMerged, result.Status())
}

func TestMergeEqualValuesAutoMerge(t *testing.T) {
	svc := newTestMergeService()

	// Server rewrote the field after the device's base clock, but to the same
	// value the device wrote.
	entity := testEntity(map[string]model.FieldState{
		"notes": {Value: scalar("same"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"notes": scalar("same"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldAutoMerged, result.Outcomes["notes"])
	assert.NotContains(t, result.Applied, "notes")
	assert.Empty(t, result.Conflicts)
}

func TestMergeStatusServerWins(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{
		"status": {Value: statusValue("cancelled"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"status": statusValue("completed"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldDiscarded, result.Outcomes["status"])
	assert.NotContains(t, result.Applied, "status")
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, model.OpStatusMerged, result.Status())
}

func TestMergeCollectionUnion(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{
		"parts": {Value: collection("a", "b"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"parts": collection("b", "c"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldAutoMerged, result.Outcomes["parts"])
	// Server order first, client additions after, no duplicates.
	assert.Equal(t, []string{"a", "b", "c"}, result.Applied["parts"].Items)
	assert.Empty(t, result.Conflicts)
}

func TestMergeStaleCollectionCannotShrink(t *testing.T) {
	svc := newTestMergeService()

	// Client-only change path: the device holds a stale two-item list and adds
	// one item; the server's third item must survive.
	entity := testEntity(map[string]model.FieldState{
		"parts": {Value: collection("a", "b", "x"), Clock: model.VectorClock{"server": 1}},
	}, model.VectorClock{"server": 1})

	op := testOp(map[string]model.FieldValue{
		"parts": collection("a", "b", "c"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldApplied, result.Outcomes["parts"])
	assert.Equal(t, []string{"a", "b", "x", "c"}, result.Applied["parts"].Items)
}

func TestMergeArtifactClientWins(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{
		"signature": {Value: artifact("hash-server"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"signature": artifact("hash-device"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldApplied, result.Outcomes["signature"])
	assert.Equal(t, artifact("hash-device"), result.Applied["signature"])
	assert.Empty(t, result.Conflicts)
}

func TestMergeMoneyConflict(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{
		"amount": {Value: money("120.00"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"amount": money("135.00"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldConflicted, result.Outcomes["amount"])
	// Server value stays in place; nothing is written.
	assert.NotContains(t, result.Applied, "amount")
	require.Len(t, result.Conflicts, 1)

	conflict := result.Conflicts[0]
	assert.Equal(t, "amount", conflict.Field)
	assert.Equal(t, money("120.00"), conflict.ServerValue)
	assert.Equal(t, money("135.00"), conflict.ClientValue)
	assert.Equal(t, entity.Clock, conflict.ServerClock)
	assert.Equal(t, op.Clock, conflict.ClientClock)
	assert.Equal(t, "d1", conflict.DeviceID)
	assert.Equal(t, model.OpStatusConflict, result.Status())
}

func TestMergeMoneyEqualStillConflicts(t *testing.T) {
	svc := newTestMergeService()

	// Equal money values still escalate: equality of the rendered amount can
	// hide a currency or precision mismatch.
	entity := testEntity(map[string]model.FieldState{
		"amount": {Value: money("120.00"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"amount": money("120.00"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldConflicted, result.Outcomes["amount"])
	require.Len(t, result.Conflicts, 1)
}

func TestMergeScalarConflictKeepsServerValue(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{
		"notes": {Value: scalar("server edit"), Clock: model.VectorClock{"server": 2}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"notes": scalar("device edit"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldConflicted, result.Outcomes["notes"])
	assert.NotContains(t, result.Applied, "notes")
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, model.OpStatusConflict, result.Status())
}

func TestMergeDisjointFieldsUntouched(t *testing.T) {
	svc := newTestMergeService()

	// Server changed "status" concurrently, but the op only touches "notes";
	// the merge must not mention fields the client never changed.
	entity := testEntity(map[string]model.FieldState{
		"status": {Value: statusValue("en_route"), Clock: model.VectorClock{"server": 2}},
		"notes":  {Value: scalar("old"), Clock: model.VectorClock{"server": 1}},
	}, model.VectorClock{"server": 2})

	op := testOp(map[string]model.FieldValue{
		"notes": scalar("new"),
	}, model.VectorClock{"server": 1, "d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldApplied, result.Outcomes["notes"])
	assert.NotContains(t, result.Outcomes, "status")
	assert.NotContains(t, result.Applied, "status")
	assert.Empty(t, result.Conflicts)
}

func TestMergeNewFieldOnClient(t *testing.T) {
	svc := newTestMergeService()

	entity := testEntity(map[string]model.FieldState{}, model.VectorClock{"server": 1})

	op := testOp(map[string]model.FieldValue{
		"notes": scalar("first write"),
	}, model.VectorClock{"d1": 1})

	result := svc.Merge(entity, op)

	assert.Equal(t, model.FieldApplied, result.Outcomes["notes"])
	assert.Equal(t, scalar("first write"), result.Applied["notes"])
}

func TestUnionItemsStableOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "d"}, unionItems([]string{"a", "b"}, []string{"c", "b", "d"}))
	assert.Equal(t, []string{"x"}, unionItems(nil, []string{"x", "x"}))
	assert.Equal(t, []string{"x"}, unionItems([]string{"x"}, nil))
	assert.Empty(t, unionItems(nil, nil))
}
