// Package postfilter prunes a collapsed tracklet set: purifying poorly
// fitting tracklets, dropping those whose line-fit RMS is too large, and
// removing redundant tracklets (subsets of others, or shorter than the best
// tracklet every one of their detections belongs to).
package postfilter

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// ErrInvalidOptions is returned for negative or non-finite thresholds.
var ErrInvalidOptions = errors.New("invalid postfilter options")

// Options select the filters Apply runs. Filters run in the fixed order
// purify, rms, keep-longest, remove-subsets.
type Options struct {
	Purify       bool
	PurifyMaxRMS float64
	PurifyMinObs int

	FilterByRMS bool
	MaxRMS      float64

	KeepLongest   bool
	RemoveSubsets bool
}

// Enabled reports whether any filter is switched on.
func (o Options) Enabled() bool {
	return o.Purify || o.FilterByRMS || o.KeepLongest || o.RemoveSubsets
}

// Validate checks thresholds of enabled filters.
func (o Options) Validate() error {
	if o.Purify {
		if math.IsNaN(o.PurifyMaxRMS) || math.IsInf(o.PurifyMaxRMS, 0) || o.PurifyMaxRMS < 0 {
			return fmt.Errorf("%w: purify max rms must be finite and non-negative, got %v", ErrInvalidOptions, o.PurifyMaxRMS)
		}
		if o.PurifyMinObs < 2 {
			return fmt.Errorf("%w: purify min obs must be at least 2, got %d", ErrInvalidOptions, o.PurifyMinObs)
		}
	}
	if o.FilterByRMS && (math.IsNaN(o.MaxRMS) || math.IsInf(o.MaxRMS, 0) || o.MaxRMS < 0) {
		return fmt.Errorf("%w: max rms must be finite and non-negative, got %v", ErrInvalidOptions, o.MaxRMS)
	}
	return nil
}

// Apply runs the enabled filters over s.
func Apply(store *detection.Store, s tracklet.Set, o Options) (tracklet.Set, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(store.Len()); err != nil {
		return nil, err
	}

	var err error
	if o.Purify {
		n := len(s)
		if s, err = Purify(store, s, o.PurifyMaxRMS, o.PurifyMinObs); err != nil {
			return nil, err
		}
		monitoring.Logf("postfilter: purify %d -> %d", n, len(s))
	}
	if o.FilterByRMS {
		n := len(s)
		if s, err = FilterByRMS(store, s, o.MaxRMS); err != nil {
			return nil, err
		}
		monitoring.Logf("postfilter: rms <= %g %d -> %d", o.MaxRMS, n, len(s))
	}
	if o.KeepLongest {
		n := len(s)
		s = KeepLongestPerDetection(s)
		monitoring.Logf("postfilter: keep longest %d -> %d", n, len(s))
	}
	if o.RemoveSubsets {
		n := len(s)
		s = RemoveSubsets(s)
		monitoring.Logf("postfilter: remove subsets %d -> %d", n, len(s))
	}
	return s, nil
}

// postings maps each detection index to the bitmap of tracklets (by
// position in s) that contain it.
func postings(s tracklet.Set) map[int]*roaring.Bitmap {
	out := make(map[int]*roaring.Bitmap)
	for k, t := range s {
		for _, i := range t.Indices() {
			b, ok := out[i]
			if !ok {
				b = roaring.New()
				out[i] = b
			}
			b.Add(uint32(k))
		}
	}
	return out
}

// RemoveSubsets drops every tracklet whose detections all belong to some
// other, longer tracklet. Exact duplicates collapse to one copy. The result
// is in canonical order.
func RemoveSubsets(s tracklet.Set) tracklet.Set {
	s = s.Dedup()
	post := postings(s)

	out := make(tracklet.Set, 0, len(s))
	for k, t := range s {
		idx := t.Indices()
		lists := make([]*roaring.Bitmap, len(idx))
		for n, i := range idx {
			lists[n] = post[i]
		}
		// Tracklets holding every detection of t; after Dedup any other
		// member is a strict superset.
		supersets := roaring.FastAnd(lists...)
		supersets.Remove(uint32(k))
		if supersets.IsEmpty() {
			out = append(out, t)
		}
	}
	return out
}

// KeepLongestPerDetection keeps a tracklet if, for at least one of its
// detections, no tracklet containing that detection is longer. The result
// is in canonical order without duplicates.
func KeepLongestPerDetection(s tracklet.Set) tracklet.Set {
	s = s.Dedup()
	post := postings(s)

	longest := make(map[int]int, len(post))
	for i, b := range post {
		it := b.Iterator()
		for it.HasNext() {
			longest[i] = max(longest[i], s[it.Next()].Len())
		}
	}

	out := make(tracklet.Set, 0, len(s))
	for _, t := range s {
		for _, i := range t.Indices() {
			if t.Len() == longest[i] {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// FilterByRMS keeps the tracklets whose linear fit RMS is at most maxRMS.
// Tracklets with no unique fit are dropped.
func FilterByRMS(store *detection.Store, s tracklet.Set, maxRMS float64) (tracklet.Set, error) {
	out := make(tracklet.Set, 0, len(s))
	for k, t := range s {
		rms, err := tracklet.RMSForTracklet(store, t)
		if errors.Is(err, tracklet.ErrDegenerateFit) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tracklet %d: %w", k, err)
		}
		if rms <= maxRMS {
			out = append(out, t)
		}
	}
	return out, nil
}

// Purify repeatedly removes the detection furthest from each tracklet's fit
// until the RMS is at most maxRMS. Tracklets left with fewer than minObs
// detections, or that cannot be fitted, are dropped. The result is in
// canonical order without duplicates.
func Purify(store *detection.Store, s tracklet.Set, maxRMS float64, minObs int) (tracklet.Set, error) {
	minObs = max(minObs, 2)
	out := make(tracklet.Set, 0, len(s))
	for k, t := range s {
		if err := t.Validate(store.Len()); err != nil {
			return nil, fmt.Errorf("tracklet %d: %w", k, err)
		}
		if p, ok := purify(store, t, maxRMS, minObs); ok {
			out = append(out, p)
		}
	}
	return out.Dedup(), nil
}

func purify(store *detection.Store, t tracklet.Tracklet, maxRMS float64, minObs int) (tracklet.Tracklet, bool) {
	for t.Len() >= minObs {
		dets := t.Detections(store)
		f, err := tracklet.Fit(dets)
		if err != nil {
			return t, false
		}
		sq := f.SquaredResiduals(dets)
		if f.RMS(dets) <= maxRMS {
			return t, true
		}
		worst := 0
		for k := range sq {
			if sq[k] > sq[worst] {
				worst = k
			}
		}
		t = t.Without(t.Indices()[worst])
	}
	return t, false
}
