package scenes

import (
	"context"
	"log/slog"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// Detector reports shot boundaries for a video as raw spans. Failures wrap
// timeline.ErrDetectorUnavailable or timeline.ErrDetectorError.
type Detector interface {
	Name() string
	Detect(ctx context.Context, video timeline.Video) ([]timeline.Span, error)
}

// Tunable detectors can be re-run at a different sensitivity.
type Tunable interface {
	Detector
	WithThreshold(threshold float64) Detector
}

// Prober is implemented by detectors backed by external tooling.
type Prober interface {
	Available(ctx context.Context) error
}

// Degradable is implemented by detectors whose boundaries are synthetic.
type Degradable interface {
	Degraded() bool
}

// Select keeps the candidates whose availability probe succeeds, preserving
// priority order.
func Select(ctx context.Context, logger *slog.Logger, candidates ...Detector) []Detector {
	selected := make([]Detector, 0, len(candidates))
	for _, d := range candidates {
		if d == nil {
			continue
		}
		if p, ok := d.(Prober); ok {
			if err := p.Available(ctx); err != nil {
				logger.Warn("scene detector unavailable", "detector", d.Name(), "error", err)
				continue
			}
		}
		logger.Info("scene detector selected", "detector", d.Name())
		selected = append(selected, d)
	}
	return selected
}

func isDegraded(d Detector) bool {
	dg, ok := d.(Degradable)
	return ok && dg.Degraded()
}
