package service

import (
	"github.com/opsline/fieldsync/internal/algorithm"
	"github.com/opsline/fieldsync/internal/model"
)

// VectorClockService manages vector clocks for causality tracking. The server's
// own counter lives inside each entity's clock, not here; the service only
// carries the server actor id and the pure clock operations.
type VectorClockService struct {
	actorID string
	vcOps   *algorithm.VectorClockOps
}

// NewVectorClockService creates a new vector clock service
func NewVectorClockService(actorID string) *VectorClockService {
	return &VectorClockService{
		actorID: actorID,
		vcOps:   algorithm.NewVectorClockOps(),
	}
}

// ActorID returns the server's actor id
func (s *VectorClockService) ActorID() string {
	return s.actorID
}

// Compare compares two vector clocks
func (s *VectorClockService) Compare(vc1, vc2 model.VectorClock) model.VectorClockComparison {
	return s.vcOps.Compare(vc1, vc2)
}

// Merge merges multiple vector clocks
func (s *VectorClockService) Merge(clocks ...model.VectorClock) model.VectorClock {
	return s.vcOps.Merge(clocks...)
}

// Increment returns a copy of the clock with the given actor's counter bumped
func (s *VectorClockService) Increment(vc model.VectorClock, actorID string) model.VectorClock {
	return s.vcOps.Increment(vc, actorID)
}

// IncrementLocal bumps the server's own component of an entity clock. Used for
// server-actor edits (dispatcher changes, conflict resolutions).
func (s *VectorClockService) IncrementLocal(vc model.VectorClock) model.VectorClock {
	return s.vcOps.Increment(vc, s.actorID)
}

// Dominates reports whether vc1 causally includes vc2
func (s *VectorClockService) Dominates(vc1, vc2 model.VectorClock) bool {
	return s.vcOps.Dominates(vc1, vc2)
}
