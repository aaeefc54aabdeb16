// Package collapse merges candidate tracklets that describe the same linear
// motion into maximal tracklets.
//
// Every candidate is fitted with a linear motion and expressed at a common
// normal epoch (the earliest epoch among the referenced detections) as
// position, position angle and speed. Two candidates are compatible when
// each of the four differences is within tolerance. Compatible candidates
// are joined with a union-find, so the resulting partition does not depend
// on the order candidates are supplied in or on the worker count.
package collapse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// ErrInvalidOptions is returned for negative or non-finite tolerances and
// thresholds.
var ErrInvalidOptions = errors.New("invalid collapse options")

// Tolerances are the maximum differences at the normal epoch for two
// candidates to merge. RA and Dec are in degrees, Angle in degrees of
// position angle, Velocity in degrees per day.
type Tolerances struct {
	RA       float64 `json:"ra" yaml:"ra"`
	Dec      float64 `json:"dec" yaml:"dec"`
	Angle    float64 `json:"angle" yaml:"angle"`
	Velocity float64 `json:"velocity" yaml:"velocity"`
}

// DefaultTolerances returns the survey pipeline's tolerances.
func DefaultTolerances() Tolerances {
	return Tolerances{RA: 0.002, Dec: 0.002, Angle: 5, Velocity: 0.05}
}

// TolerancesFromSlice accepts the positional [ra, dec, angle, velocity] vector.
func TolerancesFromSlice(v []float64) (Tolerances, error) {
	if len(v) != 4 {
		return Tolerances{}, fmt.Errorf("%w: want 4 tolerances [ra, dec, angle, velocity], got %d", ErrInvalidOptions, len(v))
	}
	t := Tolerances{RA: v[0], Dec: v[1], Angle: v[2], Velocity: v[3]}
	if err := t.Validate(); err != nil {
		return Tolerances{}, err
	}
	return t, nil
}

// Slice returns t in positional [ra, dec, angle, velocity] order.
func (t Tolerances) Slice() []float64 {
	return []float64{t.RA, t.Dec, t.Angle, t.Velocity}
}

// Validate requires every tolerance to be finite and non-negative.
func (t Tolerances) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ra", t.RA},
		{"dec", t.Dec},
		{"angle", t.Angle},
		{"velocity", t.Velocity},
	} {
		if err := checkNonNegative(f.name+" tolerance", f.v); err != nil {
			return err
		}
	}
	return nil
}

func checkNonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s must be finite and non-negative, got %v", ErrInvalidOptions, name, v)
	}
	return nil
}

// Mode selects among simultaneously valid merges. The flags compose:
// UseMinimumRMS prunes the compatibility graph, UseRMSFilt gates each union
// and UseBestFit trims each merged component.
type Mode struct {
	// UseMinimumRMS keeps, for each candidate, only the compatible partner
	// whose joint fit has the lowest RMS.
	UseMinimumRMS bool
	// UseBestFit keeps one detection per exposure in each merged tracklet:
	// the one closest to the merged fit.
	UseBestFit bool
	// UseRMSFilt accepts a union only if the merged fit RMS is within
	// MaxRMS. Unions are tried in order of increasing pair RMS.
	UseRMSFilt bool
}

// Options configure Collapse.
type Options struct {
	Tolerances Tolerances
	Mode       Mode
	MaxRMS     float64 // degrees; used with Mode.UseRMSFilt
	Verbose    bool

	// Workers caps concurrent fitting and neighbour searches. Zero means
	// GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the default tolerances with all modes off.
func DefaultOptions() Options {
	return Options{
		Tolerances: DefaultTolerances(),
		MaxRMS:     0.001,
	}
}

// Validate checks o before any work is done.
func (o Options) Validate() error {
	if err := o.Tolerances.Validate(); err != nil {
		return err
	}
	if err := checkNonNegative("max_rms", o.MaxRMS); err != nil {
		return err
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidOptions, o.Workers)
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Stats describes one collapse run.
type Stats struct {
	Candidates    int // distinct input candidates
	Unfittable    int // candidates with no unique linear fit
	Compatible    int // compatible candidate pairs considered for merging
	RejectedByRMS int // unions refused by the RMS gate
	Merged        int // successful unions
	Tracklets     int // output tracklets
	NormalEpoch   float64
}

// Collapse merges compatible candidates and returns the result in canonical
// order. Candidates must reference valid indices into store.
func Collapse(store *detection.Store, candidates tracklet.Set, opts Options) (tracklet.Set, error) {
	out, _, err := Run(context.Background(), store, candidates, opts)
	return out, err
}

// Run is Collapse with cancellation and run statistics.
func Run(ctx context.Context, store *detection.Store, candidates tracklet.Set, opts Options) (tracklet.Set, Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, Stats{}, err
	}
	if len(candidates) == 0 {
		return tracklet.Set{}, Stats{}, nil
	}
	if err := candidates.Validate(store.Len()); err != nil {
		return nil, Stats{}, err
	}

	c := &collapser{
		store: store,
		opts:  opts,
		cands: candidates.Dedup(),
	}
	c.stats.Candidates = len(c.cands)
	c.stats.NormalEpoch = normalEpoch(store, c.cands)

	if err := c.fit(ctx); err != nil {
		return nil, Stats{}, err
	}
	edges, err := c.compatibleEdges(ctx)
	if err != nil {
		return nil, Stats{}, err
	}
	if opts.Mode.UseMinimumRMS || opts.Mode.UseRMSFilt {
		if err := c.scoreEdges(ctx, edges); err != nil {
			return nil, Stats{}, err
		}
	}
	if opts.Mode.UseMinimumRMS {
		edges = minimumRMSEdges(len(c.nodes), edges)
	}
	c.stats.Compatible = len(edges)

	uf := newUnionFind(len(c.nodes))
	if opts.Mode.UseRMSFilt {
		c.mergeWithRMSGate(uf, edges)
	} else {
		for _, e := range edges {
			if uf.find(e.i) != uf.find(e.j) {
				uf.union(e.i, e.j)
				c.stats.Merged++
			}
		}
	}

	out := make(tracklet.Set, 0, len(c.nodes))
	for _, comp := range uf.components() {
		merged := c.nodes[comp[0]].t
		for _, k := range comp[1:] {
			merged = merged.Union(c.nodes[k].t)
		}
		if opts.Mode.UseBestFit && len(comp) > 1 {
			merged = c.bestFit(merged)
		}
		out = append(out, merged)
	}
	out = out.Dedup()
	c.stats.Tracklets = len(out)

	monitoring.Verbosef(opts.Verbose,
		"collapse: %d candidates (%d unfittable), %d compatible pairs, %d merges, %d rejected by rms -> %d tracklets at epoch %.6f",
		c.stats.Candidates, c.stats.Unfittable, c.stats.Compatible, c.stats.Merged,
		c.stats.RejectedByRMS, c.stats.Tracklets, c.stats.NormalEpoch)
	return out, c.stats, nil
}

// node is one distinct candidate with its motion at the normal epoch.
type node struct {
	t      tracklet.Tracklet
	motion tracklet.Motion
	ok     bool
}

// edge joins two compatible nodes, i < j. rms is the RMS of the joint fit
// when a mode needs it.
type edge struct {
	i, j int
	rms  float64
}

type collapser struct {
	store *detection.Store
	opts  Options
	cands tracklet.Set
	nodes []node
	stats Stats
}

func normalEpoch(store *detection.Store, cands tracklet.Set) float64 {
	t0 := math.Inf(1)
	for _, t := range cands {
		for _, i := range t.Indices() {
			t0 = math.Min(t0, store.At(i).EpochMJD)
		}
	}
	return t0
}

// parallel runs fn over [0, n) split into contiguous chunks.
func parallel(ctx context.Context, n, workers int, fn func(lo, hi int)) error {
	if n == 0 {
		return nil
	}
	chunk := (n + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func (c *collapser) fit(ctx context.Context) error {
	c.nodes = make([]node, len(c.cands))
	err := parallel(ctx, len(c.cands), c.opts.workers(), func(lo, hi int) {
		for k := lo; k < hi; k++ {
			n := node{t: c.cands[k]}
			f, err := tracklet.FitTracklet(c.store, n.t)
			if err == nil {
				n.motion = f.MotionAt(c.stats.NormalEpoch)
				n.ok = true
			}
			c.nodes[k] = n
		}
	})
	if err != nil {
		return fmt.Errorf("fit candidates: %w", err)
	}
	for _, n := range c.nodes {
		if !n.ok {
			c.stats.Unfittable++
			monitoring.Verbosef(c.opts.Verbose, "collapse: candidate %v has no unique fit; passing through", n.t)
		}
	}
	return nil
}

func compatible(a, b tracklet.Motion, tol Tolerances) bool {
	return math.Abs(tracklet.WrapDelta(a.RA-b.RA)) <= tol.RA &&
		math.Abs(a.Dec-b.Dec) <= tol.Dec &&
		math.Abs(tracklet.WrapDelta(a.Angle-b.Angle)) <= tol.Angle &&
		math.Abs(a.Speed-b.Speed) <= tol.Velocity
}

// compatibleEdges returns every compatible node pair ordered by (i, j).
func (c *collapser) compatibleEdges(ctx context.Context) ([]edge, error) {
	g := newGrid(c.opts.Tolerances.RA, c.opts.Tolerances.Dec, len(c.nodes))
	for k, n := range c.nodes {
		if n.ok {
			g.insert(k, n.motion)
		}
	}

	perNode := make([][]edge, len(c.nodes))
	err := parallel(ctx, len(c.nodes), c.opts.workers(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			a := c.nodes[i]
			if !a.ok {
				continue
			}
			var es []edge
			for _, j := range g.neighbours(a.motion) {
				if j <= i {
					continue
				}
				if compatible(a.motion, c.nodes[j].motion, c.opts.Tolerances) {
					es = append(es, edge{i: i, j: j})
				}
			}
			slices.SortFunc(es, func(x, y edge) int { return x.j - y.j })
			perNode[i] = slices.CompactFunc(es, func(x, y edge) bool { return x.j == y.j })
		}
	})
	if err != nil {
		return nil, fmt.Errorf("search compatible pairs: %w", err)
	}

	var edges []edge
	for _, es := range perNode {
		edges = append(edges, es...)
	}
	return edges, nil
}

// scoreEdges sets each edge's rms to that of the joint fit of both
// candidates' detections, or +Inf when the joint fit fails.
func (c *collapser) scoreEdges(ctx context.Context, edges []edge) error {
	err := parallel(ctx, len(edges), c.opts.workers(), func(lo, hi int) {
		for k := lo; k < hi; k++ {
			e := &edges[k]
			e.rms = c.rms(c.nodes[e.i].t.Union(c.nodes[e.j].t))
		}
	})
	if err != nil {
		return fmt.Errorf("score compatible pairs: %w", err)
	}
	return nil
}

func (c *collapser) rms(t tracklet.Tracklet) float64 {
	r, err := tracklet.RMSForTracklet(c.store, t)
	if err != nil {
		return math.Inf(1)
	}
	return r
}

// minimumRMSEdges keeps the edges that are the lowest-RMS edge of at least
// one endpoint. Ties go to the partner that sorts first.
func minimumRMSEdges(n int, edges []edge) []edge {
	best := make([]int, n)
	for i := range best {
		best[i] = -1
	}
	better := func(k, cur, self int) bool {
		if cur < 0 {
			return true
		}
		a, b := edges[k], edges[cur]
		if a.rms != b.rms {
			return a.rms < b.rms
		}
		return partner(a, self) < partner(b, self)
	}
	for k, e := range edges {
		if better(k, best[e.i], e.i) {
			best[e.i] = k
		}
		if better(k, best[e.j], e.j) {
			best[e.j] = k
		}
	}

	keep := make([]bool, len(edges))
	for _, k := range best {
		if k >= 0 {
			keep[k] = true
		}
	}
	out := make([]edge, 0, n)
	for k, e := range edges {
		if keep[k] {
			out = append(out, e)
		}
	}
	return out
}

func partner(e edge, self int) int {
	if e.i == self {
		return e.j
	}
	return e.i
}

// mergeWithRMSGate grows components Kruskal-style, trying edges in order of
// increasing pair RMS and accepting a union only if the merged tracklet
// still fits within MaxRMS.
func (c *collapser) mergeWithRMSGate(uf *unionFind, edges []edge) {
	order := slices.Clone(edges)
	slices.SortStableFunc(order, func(a, b edge) int {
		switch {
		case a.rms < b.rms:
			return -1
		case a.rms > b.rms:
			return 1
		case a.i != b.i:
			return a.i - b.i
		}
		return a.j - b.j
	})

	members := make(map[int]tracklet.Tracklet)
	memberOf := func(root int) tracklet.Tracklet {
		if t, ok := members[root]; ok {
			return t
		}
		return c.nodes[root].t
	}

	for _, e := range order {
		ri, rj := uf.find(e.i), uf.find(e.j)
		if ri == rj {
			continue
		}
		merged := memberOf(ri).Union(memberOf(rj))
		if r := c.rms(merged); r > c.opts.MaxRMS {
			c.stats.RejectedByRMS++
			monitoring.Verbosef(c.opts.Verbose, "collapse: rejecting merge %v: rms %.3g exceeds %.3g", merged, r, c.opts.MaxRMS)
			continue
		}
		root := uf.union(ri, rj)
		delete(members, ri)
		delete(members, rj)
		members[root] = merged
		c.stats.Merged++
	}
}

// bestFit keeps, for each exposure epoch in t, the detection closest to the
// fit through all of t. Ties go to the lower index. t is returned unchanged
// when it cannot be fitted or fewer than two detections would remain.
func (c *collapser) bestFit(t tracklet.Tracklet) tracklet.Tracklet {
	dets := t.Detections(c.store)
	f, err := tracklet.Fit(dets)
	if err != nil {
		return t
	}
	sq := f.SquaredResiduals(dets)
	idx := t.Indices()

	bestByEpoch := make(map[float64]int)
	for k, d := range dets {
		cur, ok := bestByEpoch[d.EpochMJD]
		if !ok || sq[k] < sq[cur] {
			bestByEpoch[d.EpochMJD] = k
		}
	}
	if len(bestByEpoch) == len(dets) {
		return t
	}
	keep := make([]int, 0, len(bestByEpoch))
	for _, k := range bestByEpoch {
		keep = append(keep, idx[k])
	}
	if len(keep) < 2 {
		return t
	}
	reduced := tracklet.New(keep...)
	monitoring.Verbosef(c.opts.Verbose, "collapse: best fit reduced %v to %v", t, reduced)
	return reduced
}
