package model

// VectorClock maps an actor ID (the server actor plus one ID per device) to a
// monotonically increasing logical counter. An actor absent from the map is at 0.
type VectorClock map[string]int64

// NewVectorClock creates an empty vector clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for actor, ts := range vc {
		out[actor] = ts
	}
	return out
}

// Get returns the counter for an actor, 0 if unknown.
func (vc VectorClock) Get(actor string) int64 {
	return vc[actor]
}

// VectorClockComparison represents the result of comparing two vector clocks
type VectorClockComparison int

const (
	// VectorClockEqual means both vector clocks are identical
	VectorClockEqual VectorClockComparison = iota
	// VectorClockBefore means first happens before second
	VectorClockBefore
	// VectorClockAfter means first happens after second
	VectorClockAfter
	// VectorClockConcurrent means neither observed the other (siblings)
	VectorClockConcurrent
)

// String returns a human-readable name for the comparison result.
func (c VectorClockComparison) String() string {
	switch c {
	case VectorClockEqual:
		return "equal"
	case VectorClockBefore:
		return "before"
	case VectorClockAfter:
		return "after"
	case VectorClockConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}
