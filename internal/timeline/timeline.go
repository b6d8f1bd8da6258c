// Package timeline holds the value types shared by every stage of the
// storyboard pipeline: time intervals, scenes, transcript segments and the
// handle describing the video being processed.
package timeline

import (
	"fmt"
	"math"
	"strings"
)

// Interval is a half-open span [start, end) in seconds. The zero value is not
// valid; build one with NewInterval. An end of +Inf marks a scene whose video
// duration is unknown.
type Interval struct {
	start float64
	end   float64
}

// NewInterval validates 0 <= start < end.
func NewInterval(start, end float64) (Interval, error) {
	if math.IsNaN(start) || math.IsNaN(end) {
		return Interval{}, fmt.Errorf("interval bounds must be numbers: [%v, %v)", start, end)
	}
	if start < 0 {
		return Interval{}, fmt.Errorf("interval start %v is negative", start)
	}
	if !(start < end) {
		return Interval{}, fmt.Errorf("interval [%v, %v) is empty", start, end)
	}
	return Interval{start: start, end: end}, nil
}

// MustInterval is NewInterval for literals known to be valid.
func MustInterval(start, end float64) Interval {
	iv, err := NewInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

func (i Interval) Start() float64 { return i.start }
func (i Interval) End() float64   { return i.end }

// Duration is +Inf for open-ended intervals.
func (i Interval) Duration() float64 { return i.end - i.start }

// OpenEnded reports whether the interval runs to the +Inf sentinel.
func (i Interval) OpenEnded() bool { return math.IsInf(i.end, 1) }

// Contains applies the half-open rule start <= t < end.
func (i Interval) Contains(t float64) bool {
	return i.start <= t && t < i.end
}

// Midpoint returns the centre of the interval, or its start when open-ended.
func (i Interval) Midpoint() float64 {
	if i.OpenEnded() {
		return i.start
	}
	return (i.start + i.end) / 2
}

func (i Interval) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", i.start, i.end)
}

// Span is a raw (start, end) pair as reported by a detector. It carries no
// invariant; the canonicalizer turns spans into scenes.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Scene is one cell of the timeline partition.
type Scene struct {
	Index    int
	Interval Interval
	ImageRef string
	Text     []string
}

// DisplayText joins the scene's fragments with newlines.
func (s *Scene) DisplayText() string {
	return strings.Join(s.Text, "\n")
}

// FlatText is the single-line form used by tabular exports.
func (s *Scene) FlatText() string {
	return FlattenText(s.Text)
}

// Segment is one timestamped fragment of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Midpoint is the instant used to place the segment in a scene.
func (s Segment) Midpoint() float64 {
	return (s.Start + s.End) / 2
}

// Video identifies the media being processed and what is known about it.
type Video struct {
	ID        string
	Path      string
	Duration  float64
	FrameRate float64
	Width     int
	Height    int
	HasAudio  bool
}

// DurationKnown reports whether Duration can bound the last scene.
func (v Video) DurationKnown() bool {
	return v.Duration > 0 && !math.IsInf(v.Duration, 0) && !math.IsNaN(v.Duration)
}
