package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctslater/mops-daymops/internal/collapse"
	"github.com/ctslater/mops-daymops/internal/config"
	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/finder"
	"github.com/ctslater/mops-daymops/internal/metrics"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/postfilter"
	"github.com/ctslater/mops-daymops/internal/timeutil"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// Stage names used for laps and the stage_duration_seconds metric.
const (
	StageFind      = "find"
	StageCollapse  = "collapse"
	StageFilter    = "filter"
	StageSummarize = "summarize"
	StagePersist   = "persist"
)

// Sink writes a finished run to storage.
type Sink interface {
	Persist(ctx context.Context, store *detection.Store, res *Result) error
}

// Result is everything one run produced.
type Result struct {
	RunID      string
	StartedAt  time.Time
	Config     *config.LinkingConfig
	Detections int

	Candidates tracklet.Set       // finder output, canonical order
	Tracklets  tracklet.Set       // collapsed, filtered, canonical order
	Summaries  []tracklet.Summary // parallel to Tracklets
	Stats      collapse.Stats
	Laps       []timeutil.Lap
}

// Runner holds the dependencies of a linking run. Only Config is required;
// a nil Clock uses the real clock and nil Metrics or Sink are skipped.
type Runner struct {
	Config  *config.LinkingConfig
	Clock   timeutil.Clock
	Metrics *metrics.Linking
	Sink    Sink
}

// Run links the detections in store. It holds no state between calls.
func (r *Runner) Run(ctx context.Context, store *detection.Store) (*Result, error) {
	cfg := r.Config
	if cfg == nil {
		cfg = config.EmptyLinkingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sw := timeutil.NewStopwatch(r.Clock)
	res := &Result{
		RunID:      uuid.NewString(),
		StartedAt:  sw.Started(),
		Config:     cfg,
		Detections: store.Len(),
	}
	lap := func(stage string) {
		d := sw.Lap(stage)
		if r.Metrics != nil {
			r.Metrics.ObserveStage(stage, d)
		}
	}
	monitoring.Logf("pipeline: run %s over %d detections", res.RunID, res.Detections)

	cands, err := finder.FindContext(ctx, store, cfg.FinderConfig())
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	res.Candidates = cands
	lap(StageFind)
	monitoring.Logf("pipeline: run %s found %d candidate pairs", res.RunID, len(cands))

	collapsed, stats, err := collapse.Run(ctx, store, cands, cfg.CollapseOptions())
	if err != nil {
		return nil, fmt.Errorf("collapse: %w", err)
	}
	res.Stats = stats
	lap(StageCollapse)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := collapsed
	if pf := cfg.PostfilterOptions(); pf.Enabled() {
		if out, err = postfilter.Apply(store, out, pf); err != nil {
			return nil, fmt.Errorf("postfilter: %w", err)
		}
	}
	res.Tracklets = selectMinDetections(out, cfg.GetMinOutputDetections())
	lap(StageFilter)

	if res.Summaries, err = tracklet.SummarizeSet(store, res.Tracklets); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	lap(StageSummarize)

	r.record(res)

	if r.Sink != nil {
		if err := r.Sink.Persist(ctx, store, res); err != nil {
			return nil, fmt.Errorf("persist: %w", err)
		}
		lap(StagePersist)
	}

	res.Laps = sw.Laps()
	monitoring.Logf("pipeline: run %s done: %d candidates, %d tracklets in %v",
		res.RunID, len(res.Candidates), len(res.Tracklets), sw.Total())
	return res, nil
}

func (r *Runner) record(res *Result) {
	m := r.Metrics
	if m == nil {
		return
	}
	m.Detections.Add(float64(res.Detections))
	m.Candidates.Add(float64(len(res.Candidates)))
	m.Merges.Add(float64(res.Stats.Merged))
	m.RejectedByRMS.Add(float64(res.Stats.RejectedByRMS))
	m.Unfittable.Add(float64(res.Stats.Unfittable))
	m.Tracklets.Add(float64(len(res.Tracklets)))
	for _, t := range res.Tracklets {
		m.TrackletSize.Observe(float64(t.Len()))
	}
}

// selectMinDetections keeps the tracklets with at least n detections.
func selectMinDetections(s tracklet.Set, n int) tracklet.Set {
	out := make(tracklet.Set, 0, len(s))
	for _, t := range s {
		if t.Len() >= n {
			out = append(out, t)
		}
	}
	return out
}
