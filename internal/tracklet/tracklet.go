// Package tracklet owns the linker's output model: tracklets (sets of
// detection indices), tracklet sets, and the linear motion fitted through a
// tracklet's detections.
//
// Tracklets store detection indices from a detection.Store, never external
// detection IDs. All derived attributes (mean epoch, centre, motion) are
// computed on demand from the store.
package tracklet

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/ctslater/mops-daymops/internal/detection"
)

// ErrInvalidIndex is returned when a tracklet references a detection index
// that does not exist in the store it is used with.
var ErrInvalidIndex = errors.New("invalid detection index")

// Tracklet is a sorted set of distinct detection indices hypothesised to be
// the same moving object.
type Tracklet struct {
	indices []int
}

// New returns a tracklet over the given indices, sorted and de-duplicated.
func New(indices ...int) Tracklet {
	idx := slices.Clone(indices)
	sort.Ints(idx)
	return Tracklet{indices: slices.Compact(idx)}
}

// Indices returns a copy of the member detection indices in ascending order.
func (t Tracklet) Indices() []int {
	return slices.Clone(t.indices)
}

// Len returns the number of member detections.
func (t Tracklet) Len() int {
	return len(t.indices)
}

// Contains reports whether index i is a member.
func (t Tracklet) Contains(i int) bool {
	_, ok := slices.BinarySearch(t.indices, i)
	return ok
}

// Union returns a tracklet holding the members of both t and o.
func (t Tracklet) Union(o Tracklet) Tracklet {
	merged := make([]int, 0, len(t.indices)+len(o.indices))
	merged = append(merged, t.indices...)
	merged = append(merged, o.indices...)
	return New(merged...)
}

// Without returns a copy of t with index i removed.
func (t Tracklet) Without(i int) Tracklet {
	out := make([]int, 0, len(t.indices))
	for _, idx := range t.indices {
		if idx != i {
			out = append(out, idx)
		}
	}
	return Tracklet{indices: out}
}

// Equal reports whether t and o have identical membership.
func (t Tracklet) Equal(o Tracklet) bool {
	return slices.Equal(t.indices, o.indices)
}

// Compare orders tracklets lexicographically by their sorted indices, with a
// shorter prefix ordering first. It is the canonical order used for output.
func (t Tracklet) Compare(o Tracklet) int {
	return slices.Compare(t.indices, o.indices)
}

// IsSubsetOf reports whether every member of t is also a member of o.
func (t Tracklet) IsSubsetOf(o Tracklet) bool {
	if len(t.indices) > len(o.indices) {
		return false
	}
	for _, i := range t.indices {
		if !o.Contains(i) {
			return false
		}
	}
	return true
}

// Validate checks the tracklet invariants against a store of n detections:
// at least two members, all in range.
func (t Tracklet) Validate(n int) error {
	if len(t.indices) < 2 {
		return fmt.Errorf("%w: tracklet %v has fewer than 2 detections", ErrInvalidIndex, t.indices)
	}
	for _, i := range t.indices {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, i, n)
		}
	}
	return nil
}

// Detections returns the member detections in index order.
func (t Tracklet) Detections(store *detection.Store) []detection.Detection {
	dets := make([]detection.Detection, len(t.indices))
	for k, i := range t.indices {
		dets[k] = store.At(i)
	}
	return dets
}

func (t Tracklet) String() string {
	parts := make([]string, len(t.indices))
	for k, i := range t.indices {
		parts[k] = strconv.Itoa(i)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Set is an ordered collection of tracklets. Order carries no meaning but is
// kept stable for a given input so results are reproducible.
type Set []Tracklet

// Len returns the number of tracklets.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns a copy of s in canonical order.
func (s Set) Sorted() Set {
	out := slices.Clone(s)
	slices.SortStableFunc(out, func(a, b Tracklet) int { return a.Compare(b) })
	return out
}

// Dedup returns s in canonical order with identical tracklets removed.
func (s Set) Dedup() Set {
	sorted := s.Sorted()
	return slices.CompactFunc(sorted, func(a, b Tracklet) bool { return a.Equal(b) })
}

// ContainsPair reports whether some tracklet holds both a and b.
func (s Set) ContainsPair(a, b int) bool {
	for _, t := range s {
		if t.Contains(a) && t.Contains(b) {
			return true
		}
	}
	return false
}

// Validate checks every tracklet against a store of n detections.
func (s Set) Validate(n int) error {
	for k, t := range s {
		if err := t.Validate(n); err != nil {
			return fmt.Errorf("tracklet %d: %w", k, err)
		}
	}
	return nil
}
