package scenes

import (
	"context"
	"fmt"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// EqualPartition splits the video into Count equal spans. It reports no real
// cuts, so results built from it are flagged degraded.
type EqualPartition struct {
	Count int
}

func (e EqualPartition) Name() string   { return "equal" }
func (e EqualPartition) Degraded() bool { return true }

func (e EqualPartition) Detect(ctx context.Context, video timeline.Video) ([]timeline.Span, error) {
	if e.Count < 1 {
		return nil, fmt.Errorf("%w: equal partition needs a positive count", timeline.ErrDetectorError)
	}
	if !video.DurationKnown() {
		return nil, fmt.Errorf("%w: equal partition needs a known duration", timeline.ErrDetectorUnavailable)
	}
	step := video.Duration / float64(e.Count)
	spans := make([]timeline.Span, e.Count)
	for i := range spans {
		spans[i] = timeline.Span{Start: float64(i) * step, End: float64(i+1) * step}
	}
	spans[len(spans)-1].End = video.Duration
	return spans, nil
}
