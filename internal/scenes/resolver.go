package scenes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// Attempt records one detector invocation made while resolving boundaries.
type Attempt struct {
	Detector string        `json:"detector"`
	Spans    int           `json:"spans"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Detection is the outcome of Resolver.Detect.
type Detection struct {
	Spans    []timeline.Span
	Detector string
	FellBack bool
	Degraded bool
	Attempts []Attempt
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	// Primaries are tried in order; see Select.
	Primaries []Detector
	// Fallback runs when every primary errors or finds nothing.
	Fallback Detector
	// RetryThresholds re-runs an empty Tunable primary once at the threshold
	// listed under its name. Detectors without an entry are not retried.
	RetryThresholds map[string]float64
	Logger          *slog.Logger
	// OnAttempt observes every invocation, e.g. for metrics.
	OnAttempt func(a Attempt)
}

// Resolver runs detectors in priority order and recovers detector-level
// failures locally. It only fails when nothing produced a usable answer.
type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{cfg: cfg}
}

// Detectors lists the configured detectors, primaries first.
func (r *Resolver) Detectors() []string {
	names := make([]string, 0, len(r.cfg.Primaries)+1)
	for _, d := range r.cfg.Primaries {
		names = append(names, d.Name())
	}
	if r.cfg.Fallback != nil {
		names = append(names, r.cfg.Fallback.Name()+" (fallback)")
	}
	return names
}

// Detect returns raw spans for video. An empty result from a detector that
// ran cleanly is a valid answer. The returned error wraps
// timeline.ErrSceneDetectionFailure.
func (r *Resolver) Detect(ctx context.Context, video timeline.Video) (Detection, error) {
	var det Detection
	emptyFrom := ""

	for _, d := range r.cfg.Primaries {
		spans, err := r.attempt(ctx, d, video, &det)
		if err == nil && len(spans) > 0 {
			det.Spans, det.Detector, det.Degraded = spans, d.Name(), isDegraded(d)
			return det, nil
		}
		if err == nil {
			emptyFrom = d.Name()
			if t, ok := d.(Tunable); ok && r.cfg.RetryThresholds[d.Name()] > 0 {
				retry := t.WithThreshold(r.cfg.RetryThresholds[d.Name()])
				spans, err = r.attempt(ctx, retry, video, &det)
				if err == nil && len(spans) > 0 {
					det.Spans, det.Detector, det.Degraded = spans, retry.Name(), isDegraded(d)
					return det, nil
				}
			}
		}
		if ctx.Err() != nil {
			return det, fmt.Errorf("%w: %v", timeline.ErrSceneDetectionFailure, ctx.Err())
		}
	}

	if r.cfg.Fallback != nil {
		spans, err := r.attempt(ctx, r.cfg.Fallback, video, &det)
		if err == nil {
			det.Spans, det.Detector, det.FellBack = spans, r.cfg.Fallback.Name(), true
			det.Degraded = isDegraded(r.cfg.Fallback)
			return det, nil
		}
	}

	if emptyFrom != "" {
		det.Detector = emptyFrom
		return det, nil
	}

	return det, fmt.Errorf("%w: %s", timeline.ErrSceneDetectionFailure, summarize(det.Attempts))
}

func (r *Resolver) attempt(ctx context.Context, d Detector, video timeline.Video, det *Detection) ([]timeline.Span, error) {
	start := time.Now()
	spans, err := d.Detect(ctx, video)
	if err != nil && !errors.Is(err, timeline.ErrDetectorUnavailable) && !errors.Is(err, timeline.ErrDetectorError) {
		err = fmt.Errorf("%w: %v", timeline.ErrDetectorError, err)
	}

	a := Attempt{Detector: d.Name(), Spans: len(spans), Duration: time.Since(start), Err: err}
	det.Attempts = append(det.Attempts, a)
	if r.cfg.OnAttempt != nil {
		r.cfg.OnAttempt(a)
	}

	if err != nil {
		r.cfg.Logger.Warn("scene detector failed",
			"detector", d.Name(),
			"video_id", video.ID,
			"duration_ms", a.Duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}
	r.cfg.Logger.Info("scene detector finished",
		"detector", d.Name(),
		"video_id", video.ID,
		"spans", len(spans),
		"duration_ms", a.Duration.Milliseconds(),
	)
	return spans, nil
}

func summarize(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no scene detectors configured"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.Err != nil {
			parts = append(parts, a.Detector+": "+a.Err.Error())
		}
	}
	return strings.Join(parts, "; ")
}
