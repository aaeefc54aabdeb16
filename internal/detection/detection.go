// Package detection owns the immutable detection records fed to the linker.
//
// Responsibilities: the Detection record, the ordered Store that assigns each
// detection its dense ingestion index, and reading DIA-source catalogues.
// Key types: Detection, Store.
//
// A detection's external ID is opaque: it may be very large, sparse, or
// repeated across catalogues. Tracklets reference detections only through
// the index assigned by Store.Add, which callers cannot set.
package detection

import (
	"fmt"
	"sort"
)

// UnknownSSMID marks a detection with no solar-system-model association.
const UnknownSSMID = -1

// Detection is a single timestamped sky position from difference imaging.
type Detection struct {
	ID       int64   // External identifier, never used as an offset
	EpochMJD float64 // Exposure time (Modified Julian Date)
	RA       float64 // Right ascension (degrees)
	Dec      float64 // Declination (degrees)
	ImageID  int64   // Visit / exposure identifier
	SNR      float64
	Mag      float64
	RAErr    float64
	DecErr   float64
	SSMID    int64

	index int
	owned bool
}

// New builds a detection with the fields every catalogue provides. Optional
// fields can be set on the returned value before it is added to a Store.
func New(id int64, epochMJD, ra, dec float64) Detection {
	return Detection{
		ID:       id,
		EpochMJD: epochMJD,
		RA:       ra,
		Dec:      dec,
		ImageID:  -1,
		SNR:      -1,
		Mag:      -1,
		SSMID:    UnknownSSMID,
	}
}

// Index returns the position of the detection in its Store, or -1 if the
// detection has not been added to one.
func (d Detection) Index() int {
	if !d.owned {
		return -1
	}
	return d.index
}

func (d Detection) String() string {
	return fmt.Sprintf("Detection{index=%d id=%d mjd=%.6f ra=%.6f dec=%.6f}",
		d.Index(), d.ID, d.EpochMJD, d.RA, d.Dec)
}

// Store is an ordered, indexable sequence of detections. Indices are dense
// (0..Len()-1) and assigned exactly once, at Add.
type Store struct {
	dets []Detection
}

// NewStore creates an empty store with room for capacity detections.
func NewStore(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{dets: make([]Detection, 0, capacity)}
}

// FromDetections builds a store from dets in order. Any index already carried
// by a detection is discarded and reassigned.
func FromDetections(dets []Detection) *Store {
	s := NewStore(len(dets))
	for _, d := range dets {
		s.Add(d)
	}
	return s
}

// Add appends d and returns its assigned index.
func (s *Store) Add(d Detection) int {
	d.index = len(s.dets)
	d.owned = true
	s.dets = append(s.dets, d)
	return d.index
}

// Len returns the number of detections.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.dets)
}

// At returns the detection at index i. It panics if i is out of range.
func (s *Store) At(i int) Detection {
	return s.dets[i]
}

// Valid reports whether i is an index in this store.
func (s *Store) Valid(i int) bool {
	return i >= 0 && i < s.Len()
}

// All returns a copy of the stored detections in index order.
func (s *Store) All() []Detection {
	out := make([]Detection, s.Len())
	if s != nil {
		copy(out, s.dets)
	}
	return out
}

// Epochs returns the distinct exposure epochs in ascending order.
func (s *Store) Epochs() []float64 {
	if s == nil {
		return nil
	}
	seen := make(map[float64]struct{}, 16)
	epochs := make([]float64, 0, 16)
	for _, d := range s.dets {
		if _, ok := seen[d.EpochMJD]; ok {
			continue
		}
		seen[d.EpochMJD] = struct{}{}
		epochs = append(epochs, d.EpochMJD)
	}
	sort.Float64s(epochs)
	return epochs
}
