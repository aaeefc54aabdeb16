// Package metrics holds the Prometheus instruments for linking runs. Each
// Linking value owns its own registry so concurrent or repeated runs in one
// process never share counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mops"

// Linking is the set of instruments one linking run reports into.
type Linking struct {
	reg *prometheus.Registry

	Detections    prometheus.Counter
	Candidates    prometheus.Counter
	Tracklets     prometheus.Counter
	Merges        prometheus.Counter
	RejectedByRMS prometheus.Counter
	Unfittable    prometheus.Counter
	StageDuration *prometheus.HistogramVec
	TrackletSize  prometheus.Histogram
}

// NewLinking creates and registers a fresh set of instruments.
func NewLinking() *Linking {
	m := &Linking{
		reg: prometheus.NewRegistry(),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections read into the linker",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_pairs_total",
			Help:      "Pairwise tracklets emitted by the finder",
		}),
		Tracklets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracklets_total",
			Help:      "Tracklets emitted after collapsing and filtering",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collapse_merges_total",
			Help:      "Candidate unions accepted by the collapser",
		}),
		RejectedByRMS: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collapse_rms_rejections_total",
			Help:      "Candidate unions refused by the RMS gate",
		}),
		Unfittable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collapse_unfittable_total",
			Help:      "Candidates with no unique linear fit",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per linking stage",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"stage"}),
		TrackletSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracklet_detections",
			Help:      "Detections per output tracklet",
			Buckets:   prometheus.LinearBuckets(2, 1, 9),
		}),
	}
	m.reg.MustRegister(
		m.Detections,
		m.Candidates,
		m.Tracklets,
		m.Merges,
		m.RejectedByRMS,
		m.Unfittable,
		m.StageDuration,
		m.TrackletSize,
	)
	return m
}

// ObserveStage records the wall time of one stage.
func (m *Linking) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Linking) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Linking) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the node-exporter textfile
// format.
func (m *Linking) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
