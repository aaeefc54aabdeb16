package postfilter

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/testutil"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

func set(ts ...[]int) tracklet.Set {
	out := make(tracklet.Set, len(ts))
	for k, idx := range ts {
		out[k] = tracklet.New(idx...)
	}
	return out
}

func TestRemoveSubsets(t *testing.T) {
	tests := []struct {
		name string
		in   tracklet.Set
		want tracklet.Set
	}{
		{"empty", nil, tracklet.Set{}},
		{"disjoint kept", set([]int{0, 1}, []int{2, 3}), set([]int{0, 1}, []int{2, 3})},
		{"subset dropped", set([]int{0, 1}, []int{0, 1, 2}), set([]int{0, 1, 2})},
		{"chain of subsets", set([]int{1, 2}, []int{0, 1, 2, 3}, []int{0, 1, 2}), set([]int{0, 1, 2, 3})},
		{"duplicates keep one", set([]int{4, 5}, []int{4, 5}), set([]int{4, 5})},
		{"overlap is not subset", set([]int{0, 1, 2}, []int{2, 3, 4}), set([]int{0, 1, 2}, []int{2, 3, 4})},
		{"subset of the union only", set([]int{0, 3}, []int{0, 1}, []int{2, 3}), set([]int{0, 1}, []int{0, 3}, []int{2, 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveSubsets(tt.in))
		})
	}
}

func TestKeepLongestPerDetection(t *testing.T) {
	tests := []struct {
		name string
		in   tracklet.Set
		want tracklet.Set
	}{
		{"single", set([]int{0, 1}), set([]int{0, 1})},
		{"shorter overlapping dropped", set([]int{0, 1}, []int{0, 1, 2}), set([]int{0, 1, 2})},
		// {2, 3} is shorter than {0, 1, 2} at 2 but the longest for 3.
		{"longest for another detection", set([]int{0, 1, 2}, []int{2, 3}), set([]int{0, 1, 2}, []int{2, 3})},
		{"ties all kept", set([]int{0, 1}, []int{0, 2}), set([]int{0, 1}, []int{0, 2})},
		{"dominated everywhere", set([]int{0, 1, 2}, []int{1, 2, 3}, []int{1, 2}), set([]int{0, 1, 2}, []int{1, 2, 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeepLongestPerDetection(tt.in))
		})
	}
}

// bent is an exact five-point track with the middle detection pushed well
// off the line.
func bent() *detection.Store {
	dets := testutil.Linear(1, 10, 0, 1, 0, 0, 0, 0.01, 0.02, 0.03, 0.04)
	dets[2].Dec += 0.01
	return testutil.Store(dets...)
}

func TestFilterByRMS(t *testing.T) {
	s := bent()
	in := set([]int{0, 1, 3, 4}, []int{0, 1, 2, 3, 4})

	got, err := FilterByRMS(s, in, 1e-6)
	require.NoError(t, err)
	assert.Equal(t, set([]int{0, 1, 3, 4}), got)

	got, err = FilterByRMS(s, in, 1)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestFilterByRMS_DropsUnfittable(t *testing.T) {
	s := testutil.Store(
		detection.New(1, 100, 10, 0),
		detection.New(2, 100, 10.1, 0),
	)
	got, err := FilterByRMS(s, set([]int{0, 1}), math.MaxFloat64)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPurify(t *testing.T) {
	s := bent()

	got, err := Purify(s, set([]int{0, 1, 2, 3, 4}), 1e-6, 3)
	require.NoError(t, err)
	assert.Equal(t, set([]int{0, 1, 3, 4}), got)

	// Too few detections would remain.
	got, err = Purify(s, set([]int{0, 1, 2, 3, 4}), 1e-6, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Already clean tracklets are untouched.
	got, err = Purify(s, set([]int{0, 1}), 1e-9, 2)
	require.NoError(t, err)
	assert.Equal(t, set([]int{0, 1}), got)
}

func TestPurify_InvalidIndex(t *testing.T) {
	_, err := Purify(bent(), set([]int{0, 9}), 1, 2)
	assert.True(t, errors.Is(err, tracklet.ErrInvalidIndex))
}

func TestApply_Order(t *testing.T) {
	s := bent()
	in := set([]int{0, 1, 2, 3, 4}, []int{0, 1}, []int{1, 2})

	got, err := Apply(s, in, Options{
		Purify:        true,
		PurifyMaxRMS:  1e-6,
		PurifyMinObs:  2,
		KeepLongest:   true,
		RemoveSubsets: true,
	})
	require.NoError(t, err)
	// Purify drops 2 from the long tracklet, which then absorbs {0,1};
	// {1,2} is the only tracklet left holding 2.
	assert.Equal(t, set([]int{0, 1, 3, 4}, []int{1, 2}), got)
}

func TestApply_NothingEnabled(t *testing.T) {
	in := set([]int{0, 1}, []int{0, 1, 2})
	got, err := Apply(bent(), in, Options{})
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.False(t, Options{}.Enabled())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"purify negative rms", Options{Purify: true, PurifyMaxRMS: -1, PurifyMinObs: 2}},
		{"purify min obs", Options{Purify: true, PurifyMaxRMS: 1, PurifyMinObs: 1}},
		{"rms nan", Options{FilterByRMS: true, MaxRMS: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.opts.Validate(), ErrInvalidOptions)
			_, err := Apply(bent(), nil, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
	// Thresholds of disabled filters are ignored.
	assert.NoError(t, Options{MaxRMS: -1}.Validate())
}
