package algorithm

import (
	"testing"

	"github.com/opsline/fieldsync/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestVectorClockOps_Compare(t *testing.T) {
	ops := NewVectorClockOps()

	tests := []struct {
		name     string
		vc1      model.VectorClock
		vc2      model.VectorClock
		expected model.VectorClockComparison
	}{
		{
			name:     "identical clocks",
			vc1:      model.VectorClock{"server": 5, "d1": 2},
			vc2:      model.VectorClock{"server": 5, "d1": 2},
			expected: model.VectorClockEqual,
		},
		{
			name:     "empty clocks are equal",
			vc1:      model.VectorClock{},
			vc2:      model.VectorClock{},
			expected: model.VectorClockEqual,
		},
		{
			name:     "component-wise less is before",
			vc1:      model.VectorClock{"server": 5},
			vc2:      model.VectorClock{"server": 7},
			expected: model.VectorClockBefore,
		},
		{
			name:     "component-wise greater is after",
			vc1:      model.VectorClock{"server": 7, "d1": 2},
			vc2:      model.VectorClock{"server": 5},
			expected: model.VectorClockAfter,
		},
		{
			name:     "unknown actor defaults to zero",
			vc1:      model.VectorClock{"server": 5, "d1": 0},
			vc2:      model.VectorClock{"server": 5},
			expected: model.VectorClockEqual,
		},
		{
			name:     "divergent components are concurrent",
			vc1:      model.VectorClock{"server": 6},
			vc2:      model.VectorClock{"server": 5, "d1": 1},
			expected: model.VectorClockConcurrent,
		},
		{
			name:     "disjoint actors are concurrent",
			vc1:      model.VectorClock{"d1": 1},
			vc2:      model.VectorClock{"d2": 1},
			expected: model.VectorClockConcurrent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ops.Compare(tt.vc1, tt.vc2))
		})
	}
}

func TestVectorClockOps_CompareIsAntisymmetric(t *testing.T) {
	ops := NewVectorClockOps()

	vc1 := model.VectorClock{"server": 5, "d1": 2}
	vc2 := model.VectorClock{"server": 7, "d1": 2}

	assert.Equal(t, model.VectorClockBefore, ops.Compare(vc1, vc2))
	assert.Equal(t, model.VectorClockAfter, ops.Compare(vc2, vc1))
}

func TestVectorClockOps_Merge(t *testing.T) {
	ops := NewVectorClockOps()

	merged := ops.Merge(
		model.VectorClock{"server": 7, "d1": 1},
		model.VectorClock{"server": 5, "d1": 2, "d2": 4},
	)

	assert.Equal(t, model.VectorClock{"server": 7, "d1": 2, "d2": 4}, merged)
}

func TestVectorClockOps_MergeDominatesInputs(t *testing.T) {
	ops := NewVectorClockOps()

	vc1 := model.VectorClock{"server": 6}
	vc2 := model.VectorClock{"server": 5, "d1": 1}
	merged := ops.Merge(vc1, vc2)

	assert.True(t, ops.Dominates(merged, vc1))
	assert.True(t, ops.Dominates(merged, vc2))
}

func TestVectorClockOps_MergeDoesNotMutateInputs(t *testing.T) {
	ops := NewVectorClockOps()

	vc1 := model.VectorClock{"server": 1}
	vc2 := model.VectorClock{"server": 2}
	_ = ops.Merge(vc1, vc2)

	assert.Equal(t, int64(1), vc1["server"])
	assert.Equal(t, int64(2), vc2["server"])
}

func TestVectorClockOps_Increment(t *testing.T) {
	ops := NewVectorClockOps()

	vc := model.VectorClock{"server": 5}
	bumped := ops.Increment(vc, "d1")

	assert.Equal(t, int64(1), bumped["d1"])
	assert.Equal(t, int64(5), bumped["server"])
	// Original untouched
	assert.Equal(t, int64(0), vc["d1"])

	again := ops.Increment(bumped, "d1")
	assert.Equal(t, int64(2), again["d1"])
}

func TestVectorClockOps_Dominates(t *testing.T) {
	ops := NewVectorClockOps()

	assert.True(t, ops.Dominates(model.VectorClock{"server": 7}, model.VectorClock{"server": 5}))
	assert.True(t, ops.Dominates(model.VectorClock{"server": 5}, model.VectorClock{"server": 5}))
	assert.False(t, ops.Dominates(model.VectorClock{"server": 5}, model.VectorClock{"server": 5, "d1": 1}))
	assert.False(t, ops.Dominates(model.VectorClock{"server": 6}, model.VectorClock{"server": 5, "d1": 1}))
}

func TestVectorClockOps_GetMaxTimestamp(t *testing.T) {
	ops := NewVectorClockOps()

	assert.Equal(t, int64(0), ops.GetMaxTimestamp(model.VectorClock{}))
	assert.Equal(t, int64(9), ops.GetMaxTimestamp(model.VectorClock{"a": 3, "b": 9, "c": 1}))
}
