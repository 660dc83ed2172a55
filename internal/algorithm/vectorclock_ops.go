package algorithm

import (
	"github.com/opsline/fieldsync/internal/model"
)

// VectorClockOps provides operations on vector clocks. All operations are pure:
// inputs are never mutated and unknown actors default to 0. Malformed input
// (negative counters) is the caller's problem; these functions never error.
type VectorClockOps struct{}

// NewVectorClockOps creates a new VectorClockOps
func NewVectorClockOps() *VectorClockOps {
	return &VectorClockOps{}
}

// Compare compares two vector clocks
func (v *VectorClockOps) Compare(vc1, vc2 model.VectorClock) model.VectorClockComparison {
	allBefore := true
	allAfter := true

	// Get all actor IDs
	allActors := make(map[string]bool)
	for actor := range vc1 {
		allActors[actor] = true
	}
	for actor := range vc2 {
		allActors[actor] = true
	}

	// Compare counters component-wise
	for actor := range allActors {
		ts1 := vc1[actor]
		ts2 := vc2[actor]

		if ts1 < ts2 {
			allAfter = false
		} else if ts1 > ts2 {
			allBefore = false
		}
	}

	// Determine relationship
	if allBefore && allAfter {
		return model.VectorClockEqual
	}
	if allBefore {
		return model.VectorClockBefore
	}
	if allAfter {
		return model.VectorClockAfter
	}
	return model.VectorClockConcurrent
}

// Merge merges multiple vector clocks, taking the max counter per actor.
func (v *VectorClockOps) Merge(clocks ...model.VectorClock) model.VectorClock {
	merged := model.NewVectorClock()

	for _, clock := range clocks {
		for actor, ts := range clock {
			if existing, exists := merged[actor]; !exists || ts > existing {
				merged[actor] = ts
			}
		}
	}

	return merged
}

// Increment returns a copy of the clock with the given actor's counter bumped.
func (v *VectorClockOps) Increment(vc model.VectorClock, actor string) model.VectorClock {
	out := vc.Clone()
	out[actor]++
	return out
}

// Dominates reports whether vc1 causally includes vc2, i.e. every counter in vc2
// is already known to vc1. A clock dominates itself.
func (v *VectorClockOps) Dominates(vc1, vc2 model.VectorClock) bool {
	cmp := v.Compare(vc1, vc2)
	return cmp == model.VectorClockEqual || cmp == model.VectorClockAfter
}

// GetMaxTimestamp returns the maximum counter in the vector clock
func (v *VectorClockOps) GetMaxTimestamp(vc model.VectorClock) int64 {
	var max int64
	for _, ts := range vc {
		if ts > max {
			max = ts
		}
	}
	return max
}
