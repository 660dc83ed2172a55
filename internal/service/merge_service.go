package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

// MergeResult is the outcome of merging one operation's change-set against the
// entity's current server state.
type MergeResult struct {
	// Outcomes holds the per-field status for the push response.
	Outcomes map[string]model.FieldOutcome
	// Applied holds the values to write, field by field. Fields that the server
	// side won (status, money) or that conflicted are absent.
	Applied map[string]model.FieldValue
	// Conflicts holds the records raised for fields that need human resolution.
	Conflicts []*model.ConflictRecord
}

// Status reduces the per-field outcomes to the operation-level status.
func (r *MergeResult) Status() model.OperationStatus {
	for _, outcome := range r.Outcomes {
		if outcome == model.FieldConflicted {
			return model.OpStatusConflict
		}
	}
	return model.OpStatusMerged
}

// MergeService applies the field-level merge and precedence rules to an
// operation whose device was behind or concurrent with the server. Fields are
// merged independently; the precedence table is an exhaustive switch over the
// field kind.
type MergeService struct {
	conflictService *ConflictService
	logger          *zap.Logger
}

// NewMergeService creates a new merge service
func NewMergeService(conflictService *ConflictService, logger *zap.Logger) *MergeService {
	return &MergeService{
		conflictService: conflictService,
		logger:          logger,
	}
}

// Merge partitions the operation's changed fields into client-only changes and
// fields both sides changed, then resolves the latter per field kind.
func (s *MergeService) Merge(entity *model.Entity, op *model.Operation) *MergeResult {
	result := &MergeResult{
		Outcomes: make(map[string]model.FieldOutcome, len(op.Changes)),
		Applied:  make(map[string]model.FieldValue, len(op.Changes)),
	}

	for name, clientValue := range op.Changes {
		current, exists := entity.Fields[name]
		serverChanged := exists && s.conflictService.FieldChangedSince(current, op.Clock)

		if !serverChanged {
			// Changed on the client side only: take the client's value.
			result.Outcomes[name] = model.FieldApplied
			result.Applied[name] = s.valueForApply(current, clientValue, exists)
			continue
		}

		result.Outcomes[name] = s.resolveBothChanged(entity, op, name, current, clientValue, result)
	}

	return result
}

// resolveBothChanged handles one field both sides changed since the device's
// base clock. Fields the server changed but the client did not are never
// touched, which is what makes disjoint concurrent edits commute.
func (s *MergeService) resolveBothChanged(
	entity *model.Entity,
	op *model.Operation,
	name string,
	current model.FieldState,
	clientValue model.FieldValue,
	result *MergeResult,
) model.FieldOutcome {
	// Equal values need no choice, except money, which always escalates: a
	// string-equal amount can still hide a currency or precision mismatch.
	if clientValue.Kind != model.FieldKindMoney && current.Value.Equal(clientValue) {
		return model.FieldAutoMerged
	}

	switch clientValue.Kind {
	case model.FieldKindStatus:
		// Stale transitions must not corrupt the lifecycle state machine.
		s.logger.Debug("Status change lost to server value",
			zap.String("entity_id", entity.ID),
			zap.String("field", name),
			zap.String("server_value", current.Value.Text),
			zap.String("client_value", clientValue.Text))
		return model.FieldDiscarded

	case model.FieldKindCollection:
		// Addition commutes: union of both sides, never a conflict.
		result.Applied[name] = model.FieldValue{
			Kind:  model.FieldKindCollection,
			Items: unionItems(current.Value.Items, clientValue.Items),
		}
		return model.FieldAutoMerged

	case model.FieldKindArtifact:
		// The server cannot have produced an equivalent device-captured
		// artifact; the capturing device wins.
		result.Applied[name] = clientValue
		return model.FieldApplied

	case model.FieldKindMoney:
		// Server value kept, discrepancy escalated to manual review.
		result.Conflicts = append(result.Conflicts, s.newConflict(entity, op, name, current, clientValue))
		return model.FieldConflicted

	case model.FieldKindScalar:
		// No automatic choice; the entity keeps its pre-merge value.
		result.Conflicts = append(result.Conflicts, s.newConflict(entity, op, name, current, clientValue))
		return model.FieldConflicted

	default:
		// Unknown kinds are validated away before the merge; treat a slipped-in
		// one like a scalar.
		result.Conflicts = append(result.Conflicts, s.newConflict(entity, op, name, current, clientValue))
		return model.FieldConflicted
	}
}

// valueForApply returns the value to write for a client-only change.
// Collections still union with the stored items so a device holding a stale
// list can never shrink an append-only field.
func (s *MergeService) valueForApply(current model.FieldState, clientValue model.FieldValue, exists bool) model.FieldValue {
	if clientValue.Kind == model.FieldKindCollection && exists {
		return model.FieldValue{
			Kind:  model.FieldKindCollection,
			Items: unionItems(current.Value.Items, clientValue.Items),
		}
	}
	return clientValue
}

// newConflict builds a conflict record carrying both values and both clocks.
func (s *MergeService) newConflict(
	entity *model.Entity,
	op *model.Operation,
	name string,
	current model.FieldState,
	clientValue model.FieldValue,
) *model.ConflictRecord {
	return &model.ConflictRecord{
		ID:          uuid.New().String(),
		TenantID:    entity.TenantID,
		EntityID:    entity.ID,
		Field:       name,
		ServerValue: current.Value,
		ClientValue: clientValue,
		ServerClock: entity.Clock.Clone(),
		ClientClock: op.Clock.Clone(),
		DeviceID:    op.DeviceID,
		CreatedAt:   time.Now(),
	}
}

// unionItems merges two item lists preserving server order, then appending
// client additions in their order, without duplicates.
func unionItems(server, client []string) []string {
	seen := make(map[string]bool, len(server)+len(client))
	merged := make([]string, 0, len(server)+len(client))

	for _, item := range server {
		if !seen[item] {
			seen[item] = true
			merged = append(merged, item)
		}
	}
	for _, item := range client {
		if !seen[item] {
			seen[item] = true
			merged = append(merged, item)
		}
	}

	return merged
}
