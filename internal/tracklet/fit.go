package tracklet

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ctslater/mops-daymops/internal/detection"
)

// ErrDegenerateFit is returned when no unique linear motion passes through a
// set of detections (fewer than two, all at one epoch, or a singular system).
var ErrDegenerateFit = errors.New("degenerate line fit")

// LineFit is a least-squares linear motion: RA and Dec each linear in MJD.
// RA0 is normalised to [0, 360); rates are in degrees of coordinate per day.
type LineFit struct {
	Epoch0  float64 // Reference epoch (mean epoch of the fitted detections)
	RA0     float64 // RA at Epoch0
	Dec0    float64 // Dec at Epoch0
	RARate  float64 // dRA/dt (coordinate degrees per day)
	DecRate float64 // dDec/dt (degrees per day)
}

// Motion is a linear motion expressed at a chosen epoch: the position, the
// position angle of motion and the on-sky speed.
type Motion struct {
	RA    float64 // degrees, [0, 360)
	Dec   float64 // degrees
	Angle float64 // degrees from +RA towards +Dec, [0, 360)
	Speed float64 // degrees per day
}

// Fit solves for the linear motion through dets. RA values are unwrapped
// against the first detection so tracks crossing RA=0 fit correctly.
// Callers wanting reproducible results pass dets in a fixed order.
func Fit(dets []detection.Detection) (LineFit, error) {
	n := len(dets)
	if n < 2 {
		return LineFit{}, fmt.Errorf("%w: %d detections", ErrDegenerateFit, n)
	}

	times := make([]float64, n)
	for i, d := range dets {
		times[i] = d.EpochMJD
	}
	if floats.Max(times) == floats.Min(times) {
		return LineFit{}, fmt.Errorf("%w: all detections at epoch %f", ErrDegenerateFit, times[0])
	}
	epoch0 := stat.Mean(times, nil)

	raRef := dets[0].RA
	design := mat.NewDense(n, 2, nil)
	obs := mat.NewDense(n, 2, nil)
	for i, d := range dets {
		design.Set(i, 0, 1)
		design.Set(i, 1, times[i]-epoch0)
		obs.Set(i, 0, raRef+WrapDelta(d.RA-raRef))
		obs.Set(i, 1, d.Dec)
	}

	var qr mat.QR
	qr.Factorize(design)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, obs); err != nil {
		return LineFit{}, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	f := LineFit{
		Epoch0:  epoch0,
		RA0:     NormalizeRA(sol.At(0, 0)),
		Dec0:    sol.At(0, 1),
		RARate:  sol.At(1, 0),
		DecRate: sol.At(1, 1),
	}
	if !f.finite() {
		return LineFit{}, fmt.Errorf("%w: non-finite solution", ErrDegenerateFit)
	}
	return f, nil
}

func (f LineFit) finite() bool {
	for _, v := range []float64{f.RA0, f.Dec0, f.RARate, f.DecRate} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PositionAt extrapolates the fit to epoch t.
func (f LineFit) PositionAt(t float64) (ra, dec float64) {
	dt := t - f.Epoch0
	return NormalizeRA(f.RA0 + f.RARate*dt), f.Dec0 + f.DecRate*dt
}

// MotionAt expresses the fit at epoch t. The RA rate is scaled by cos(Dec)
// at t so that angle and speed are measured on the tangent plane.
func (f LineFit) MotionAt(t float64) Motion {
	ra, dec := f.PositionAt(t)
	vRA := f.RARate * math.Cos(dec*degToRad)
	angle := math.Atan2(f.DecRate, vRA) * radToDeg
	if angle < 0 {
		angle += 360.0
	}
	if angle >= 360.0 {
		angle = 0
	}
	return Motion{
		RA:    ra,
		Dec:   dec,
		Angle: angle,
		Speed: math.Hypot(vRA, f.DecRate),
	}
}

// SquaredResiduals returns, per detection, the squared tangent-plane
// distance (degrees²) between the detection and the fitted position at its
// epoch.
func (f LineFit) SquaredResiduals(dets []detection.Detection) []float64 {
	out := make([]float64, len(dets))
	for i, d := range dets {
		ra, dec := f.PositionAt(d.EpochMJD)
		dRA := WrapDelta(d.RA-ra) * math.Cos(d.Dec*degToRad)
		dDec := d.Dec - dec
		out[i] = dRA*dRA + dDec*dDec
	}
	return out
}

// RMS returns the root-mean-square distance of dets from the fitted line.
func (f LineFit) RMS(dets []detection.Detection) float64 {
	if len(dets) == 0 {
		return 0
	}
	sq := f.SquaredResiduals(dets)
	return math.Sqrt(floats.Sum(sq) / float64(len(sq)))
}

// FitTracklet fits the member detections of t in index order.
func FitTracklet(store *detection.Store, t Tracklet) (LineFit, error) {
	if err := t.Validate(store.Len()); err != nil {
		return LineFit{}, err
	}
	return Fit(t.Detections(store))
}

// RMSForTracklet fits t and returns the RMS of its detections about the fit.
func RMSForTracklet(store *detection.Store, t Tracklet) (float64, error) {
	f, err := FitTracklet(store, t)
	if err != nil {
		return 0, err
	}
	return f.RMS(t.Detections(store)), nil
}

// Summary holds the derived attributes persisted for each tracklet.
type Summary struct {
	MeanEpoch float64
	CenterRA  float64
	CenterDec float64
	Len       int
	RMS       float64 // NaN when the tracklet has no unique fit
	Fitted    bool
}

// Summarize computes t's mean epoch and centre, and its fit RMS when the
// detections admit a fit.
func Summarize(store *detection.Store, t Tracklet) (Summary, error) {
	if err := t.Validate(store.Len()); err != nil {
		return Summary{}, err
	}
	dets := t.Detections(store)

	times := make([]float64, len(dets))
	raOffsets := make([]float64, len(dets))
	decs := make([]float64, len(dets))
	raRef := dets[0].RA
	for i, d := range dets {
		times[i] = d.EpochMJD
		raOffsets[i] = WrapDelta(d.RA - raRef)
		decs[i] = d.Dec
	}

	s := Summary{
		MeanEpoch: stat.Mean(times, nil),
		CenterRA:  NormalizeRA(raRef + stat.Mean(raOffsets, nil)),
		CenterDec: stat.Mean(decs, nil),
		Len:       len(dets),
		RMS:       math.NaN(),
	}
	if f, err := Fit(dets); err == nil {
		s.RMS = f.RMS(dets)
		s.Fitted = true
	}
	return s, nil
}

// SummarizeSet summarises every tracklet in s, in order.
func SummarizeSet(store *detection.Store, s Set) ([]Summary, error) {
	out := make([]Summary, len(s))
	for k, t := range s {
		sum, err := Summarize(store, t)
		if err != nil {
			return nil, fmt.Errorf("tracklet %d: %w", k, err)
		}
		out[k] = sum
	}
	return out, nil
}
