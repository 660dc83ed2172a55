package service

import (
	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

// ApplyMode is the conflict detector's verdict for one incoming operation.
type ApplyMode int

const (
	// ApplyDirect means the client held all server knowledge when it edited;
	// changes apply without a merge.
	ApplyDirect ApplyMode = iota
	// ApplyMerge means the client was missing server updates (behind) or both
	// sides edited blind (concurrent); changes go through the field-level merge.
	ApplyMerge
)

// ConflictService classifies incoming operations against the entity's
// authoritative clock. Classification is purely a function of clock comparison;
// it never inspects field contents.
type ConflictService struct {
	vcService *VectorClockService
	logger    *zap.Logger
}

// NewConflictService creates a new conflict service
func NewConflictService(vcService *VectorClockService, logger *zap.Logger) *ConflictService {
	return &ConflictService{
		vcService: vcService,
		logger:    logger,
	}
}

// Classify compares an operation's originating clock against the entity's
// current server clock.
func (s *ConflictService) Classify(opClock, entityClock model.VectorClock) (model.VectorClockComparison, ApplyMode) {
	comparison := s.vcService.Compare(opClock, entityClock)

	switch comparison {
	case model.VectorClockAfter, model.VectorClockEqual:
		// Client knew everything the server knows; no merge needed.
		return comparison, ApplyDirect
	case model.VectorClockBefore:
		// Client was missing updates when it edited; never blind-apply.
		return comparison, ApplyMerge
	default:
		// Concurrent: both sides changed without observing each other.
		return comparison, ApplyMerge
	}
}

// FieldChangedSince reports whether a stored field was written after the given
// base clock, i.e. the writing device did not observe that write.
func (s *ConflictService) FieldChangedSince(field model.FieldState, baseClock model.VectorClock) bool {
	return !s.vcService.Dominates(baseClock, field.Clock)
}
