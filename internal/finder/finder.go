// Package finder links detections into pairwise tracklets: every pair of
// detections from different exposures whose time gap and implied on-sky
// velocity fall inside configured bounds.
//
// Detections are bucketed by exposure epoch and each bucket is sorted by
// Dec, so only bucket pairs with an admissible time gap are compared and a
// Dec window of MaxV*dt bounds each search. The scan is split across
// workers by bucket; the result does not depend on the worker count.
package finder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// ErrInvalidConfig is returned for configurations that cannot describe any
// physical motion (inverted bounds, negative or NaN values).
var ErrInvalidConfig = errors.New("invalid finder config")

// Default bounds. MaxDt of 0.0625 days is 1.5 hours.
const (
	DefaultMinV  = 0.0
	DefaultMaxV  = 2.0
	DefaultMinDt = 0.0
	DefaultMaxDt = 0.0625
)

// Config bounds the pairs the finder emits. Velocities are in degrees per
// day, time gaps in days.
type Config struct {
	MinV  float64
	MaxV  float64
	MinDt float64
	MaxDt float64

	// Workers caps the number of concurrent bucket scans. Zero means
	// GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the default finder bounds.
func DefaultConfig() Config {
	return Config{
		MinV:  DefaultMinV,
		MaxV:  DefaultMaxV,
		MinDt: DefaultMinDt,
		MaxDt: DefaultMaxDt,
	}
}

// Validate checks c for internal consistency.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"min_v", c.MinV},
		{"max_v", c.MaxV},
		{"min_dt", c.MinDt},
		{"max_dt", c.MaxDt},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidConfig, f.name, f.v)
		}
		if f.v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.MinV > c.MaxV {
		return fmt.Errorf("%w: min_v (%v) exceeds max_v (%v)", ErrInvalidConfig, c.MinV, c.MaxV)
	}
	if c.MinDt > c.MaxDt {
		return fmt.Errorf("%w: min_dt (%v) exceeds max_dt (%v)", ErrInvalidConfig, c.MinDt, c.MaxDt)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Find returns every admissible detection pair in store as a two-member
// tracklet, in canonical order.
func Find(store *detection.Store, cfg Config) (tracklet.Set, error) {
	return FindContext(context.Background(), store, cfg)
}

// FindContext is Find with cancellation between bucket scans.
func FindContext(ctx context.Context, store *detection.Store, cfg Config) (tracklet.Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		return tracklet.Set{}, nil
	}

	buckets := bucketByEpoch(store)
	results := make([]tracklet.Set, len(buckets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for i := range buckets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = scanFrom(buckets, i, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find tracklets: %w", err)
	}

	var out tracklet.Set
	for _, r := range results {
		out = append(out, r...)
	}
	out = out.Sorted()
	return out, nil
}

// point is the per-detection data the scan needs.
type point struct {
	index   int
	ra, dec float64
}

// bucket holds all detections sharing one epoch, sorted by Dec.
type bucket struct {
	epoch  float64
	points []point
}

func bucketByEpoch(store *detection.Store) []bucket {
	byEpoch := make(map[float64][]point)
	for i := 0; i < store.Len(); i++ {
		d := store.At(i)
		byEpoch[d.EpochMJD] = append(byEpoch[d.EpochMJD], point{index: i, ra: d.RA, dec: d.Dec})
	}
	out := make([]bucket, 0, len(byEpoch))
	for e, pts := range byEpoch {
		sort.Slice(pts, func(a, b int) bool {
			if pts[a].dec != pts[b].dec {
				return pts[a].dec < pts[b].dec
			}
			return pts[a].index < pts[b].index
		})
		out = append(out, bucket{epoch: e, points: pts})
	}
	slices.SortFunc(out, func(a, b bucket) int {
		switch {
		case a.epoch < b.epoch:
			return -1
		case a.epoch > b.epoch:
			return 1
		}
		return 0
	})
	return out
}

// scanFrom pairs bucket i with every later bucket inside the time window.
func scanFrom(buckets []bucket, i int, cfg Config) tracklet.Set {
	var out tracklet.Set
	src := buckets[i]
	for j := i + 1; j < len(buckets); j++ {
		dst := buckets[j]
		dt := dst.epoch - src.epoch
		if dt > cfg.MaxDt {
			break
		}
		if dt < cfg.MinDt || dt <= 0 {
			continue
		}

		// Great-circle separation is never below |ΔDec|. The slack keeps
		// rounding in the exact test below authoritative.
		window := cfg.MaxV*dt*(1+1e-9) + 1e-12
		for _, a := range src.points {
			lo := sort.Search(len(dst.points), func(k int) bool {
				return dst.points[k].dec >= a.dec-window
			})
			for k := lo; k < len(dst.points) && dst.points[k].dec <= a.dec+window; k++ {
				b := dst.points[k]
				v := tracklet.AngularSeparation(a.ra, a.dec, b.ra, b.dec) / dt
				if v >= cfg.MinV && v <= cfg.MaxV {
					out = append(out, tracklet.New(a.index, b.index))
				}
			}
		}
	}
	return out
}
