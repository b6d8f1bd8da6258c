// Package alignment assigns transcript segments to scenes.
//
// Each segment belongs to the scene whose half-open interval contains the
// segment's midpoint. Segments whose midpoint lies in no scene (past the end
// of the last scene, or before the first) are orphans and go to the last
// scene, so no text is ever dropped. Per-scene text keeps the order in which
// segments were supplied; it is never re-sorted by time.
package alignment

import (
	"fmt"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// Report summarizes an alignment pass.
type Report struct {
	Segments int   `json:"segments"`
	Orphans  int   `json:"orphans"`
	PerScene []int `json:"per_scene"`
}

// Align fills scenes[i].Text in place. Any text already present is replaced,
// so running Align twice over the same inputs gives the same result.
func Align(scenes []timeline.Scene, segments []timeline.Segment) (Report, error) {
	if len(scenes) == 0 {
		return Report{}, fmt.Errorf("%w: no scenes to align %d segments against", timeline.ErrInvalidAlignmentInput, len(segments))
	}

	report := Report{Segments: len(segments), PerScene: make([]int, len(scenes))}
	for i := range scenes {
		scenes[i].Text = []string{}
	}

	last := len(scenes) - 1
	for _, seg := range segments {
		idx := Locate(scenes, seg.Midpoint())
		if idx < 0 {
			idx = last
			report.Orphans++
		}
		scenes[idx].Text = append(scenes[idx].Text, seg.Text)
		report.PerScene[idx]++
	}
	return report, nil
}

// Locate returns the index of the first scene containing t, or -1.
func Locate(scenes []timeline.Scene, t float64) int {
	for i := range scenes {
		if scenes[i].Interval.Contains(t) {
			return i
		}
	}
	return -1
}
