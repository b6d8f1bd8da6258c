// Package metrics provides Prometheus collectors for storyboard runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storyboard"

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunsActive  prometheus.Gauge
	RunDuration prometheus.Histogram
	QueueDepth  prometheus.Gauge

	StageDuration *prometheus.HistogramVec

	// Detection metrics
	DetectorAttempts  *prometheus.CounterVec
	DetectorFallbacks prometheus.Counter
	ScenesPerRun      prometheus.Histogram
	FramesMissing     prometheus.Counter

	// Alignment metrics
	SegmentsAligned  prometheus.Counter
	SegmentsOrphaned prometheus.Counter

	EventsPublished *prometheus.CounterVec
}

// New creates a private registry with the Go and process collectors plus
// the storyboard collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome",
		}, []string{"status"}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently being processed",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run from reset to assembled result",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Runs waiting to be processed",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"stage", "status"}),
		DetectorAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_attempts_total",
			Help:      "Scene detector invocations by detector and outcome",
		}, []string{"detector", "outcome"}),
		DetectorFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_fallbacks_total",
			Help:      "Runs whose scenes came from the fallback detector",
		}),
		ScenesPerRun: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenes_per_run",
			Help:      "Canonical scene count per completed run",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		FramesMissing: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_missing_total",
			Help:      "Scenes left without a keyframe",
		}),
		SegmentsAligned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_aligned_total",
			Help:      "Transcript segments assigned by midpoint containment",
		}),
		SegmentsOrphaned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_orphaned_total",
			Help:      "Transcript segments assigned to the last scene as orphans",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Progress events delivered by sink and outcome",
		}, []string{"sink", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRunStart() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RecordRunEnd records a finished run. status is "completed" or "failed".
func (m *Metrics) RecordRunEnd(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// RecordDetectorAttempt counts one detector call; outcome is "scenes",
// "empty" or "error".
func (m *Metrics) RecordDetectorAttempt(detector, outcome string) {
	if m == nil {
		return
	}
	m.DetectorAttempts.WithLabelValues(detector, outcome).Inc()
}

func (m *Metrics) RecordDetection(fellBack bool, scenes, missingFrames int) {
	if m == nil {
		return
	}
	if fellBack {
		m.DetectorFallbacks.Inc()
	}
	m.ScenesPerRun.Observe(float64(scenes))
	m.FramesMissing.Add(float64(missingFrames))
}

func (m *Metrics) RecordAlignment(segments, orphans int) {
	if m == nil {
		return
	}
	m.SegmentsAligned.Add(float64(segments - orphans))
	m.SegmentsOrphaned.Add(float64(orphans))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordEvent(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(sink, outcome).Inc()
}
