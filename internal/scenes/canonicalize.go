// Package scenes turns raw shot-boundary detector output into the canonical
// scene partition of a video and hosts the detector implementations that do
// not need an external process.
package scenes

import (
	"math"
	"sort"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// DefaultLeadingGap is how late the first detected cut may start before a
// leading scene from 0 is synthesized.
const DefaultLeadingGap = 1.0

// Options tunes canonicalization.
type Options struct {
	LeadingGap float64
}

func DefaultOptions() Options {
	return Options{LeadingGap: DefaultLeadingGap}
}

// Report describes the repairs Canonicalize had to make.
type Report struct {
	Raw       int  `json:"raw"`
	Leading   bool `json:"leading"`
	Reordered bool `json:"reordered"`
	Absorbed  int  `json:"absorbed"`
}

// Canonicalize builds a gap-free, non-overlapping scene list covering
// [0, duration). A duration <= 0 is treated as unknown and the last scene
// ends at +Inf.
//
// Each raw span contributes its start as a boundary; its end is clipped to
// the next start, and gaps are closed by extending the earlier scene. Spans
// that collapse onto an existing boundary, start past the end of the video,
// or carry a non-finite start are absorbed into their neighbour and counted
// in the report.
func Canonicalize(raw []timeline.Span, duration float64, opts Options) ([]timeline.Scene, Report) {
	report := Report{Raw: len(raw)}

	end := duration
	if !(duration > 0) || math.IsInf(duration, 0) {
		end = math.Inf(1)
	}

	starts := make([]float64, 0, len(raw))
	for _, s := range raw {
		if math.IsNaN(s.Start) || math.IsInf(s.Start, 0) {
			report.Absorbed++
			continue
		}
		starts = append(starts, math.Max(s.Start, 0))
	}
	if !sort.Float64sAreSorted(starts) {
		report.Reordered = true
		sort.Float64s(starts)
	}

	bounds := make([]float64, 0, len(starts)+1)
	bounds = append(bounds, 0)
	leading := false
	if len(starts) > 0 {
		if starts[0] > opts.LeadingGap {
			leading = true
		} else {
			// the first scene absorbs the short lead-in
			starts = starts[1:]
		}
	}
	for _, b := range starts {
		if b <= bounds[len(bounds)-1] || b >= end {
			report.Absorbed++
			continue
		}
		bounds = append(bounds, b)
	}
	report.Leading = leading && len(bounds) > 1

	out := make([]timeline.Scene, len(bounds))
	for i, b := range bounds {
		e := end
		if i+1 < len(bounds) {
			e = bounds[i+1]
		}
		out[i] = timeline.Scene{Index: i, Interval: timeline.MustInterval(b, e)}
	}
	return out, report
}
