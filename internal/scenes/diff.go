package scenes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

const (
	DefaultDiffThreshold   = 30.0
	DefaultMinSceneLength  = 0.8
	DefaultTrailingEpsilon = 0.1
)

// Frame is one decoded grayscale frame.
type Frame struct {
	Time float64
	Luma []byte
}

// FrameSource yields frames in presentation order and io.EOF at the end.
type FrameSource interface {
	Next() (Frame, error)
}

// FrameStream is a FrameSource holding decoder resources.
type FrameStream interface {
	FrameSource
	Close() error
}

// FrameOpener decodes a video into a grayscale frame stream.
type FrameOpener interface {
	OpenFrames(ctx context.Context, video timeline.Video) (FrameStream, error)
}

// DiffOptions tunes DetectByDiff.
type DiffOptions struct {
	Threshold       float64
	MinSceneLength  float64
	TrailingEpsilon float64
}

func DefaultDiffOptions() DiffOptions {
	return DiffOptions{
		Threshold:       DefaultDiffThreshold,
		MinSceneLength:  DefaultMinSceneLength,
		TrailingEpsilon: DefaultTrailingEpsilon,
	}
}

// DetectByDiff cuts wherever the mean absolute luma difference between
// consecutive frames exceeds the threshold, suppressing cuts closer than
// MinSceneLength to the previous boundary. The trailing scene runs to
// duration, or to the last frame when duration is unknown, and is dropped
// when shorter than TrailingEpsilon.
func DetectByDiff(frames FrameSource, duration float64, opts DiffOptions) ([]timeline.Span, error) {
	var (
		spans    []timeline.Span
		prev     []byte
		boundary float64
		last     float64
		seen     bool
	)

	for {
		f, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}

		if !seen {
			boundary = f.Time
			seen = true
		} else {
			if len(f.Luma) != len(prev) {
				return nil, fmt.Errorf("frame at %.3fs has %d pixels, previous had %d", f.Time, len(f.Luma), len(prev))
			}
			if MeanAbsDiff(prev, f.Luma) > opts.Threshold && f.Time-boundary >= opts.MinSceneLength {
				spans = append(spans, timeline.Span{Start: boundary, End: f.Time})
				boundary = f.Time
			}
		}
		prev = f.Luma
		last = f.Time
	}

	if !seen {
		return nil, nil
	}

	end := duration
	if !(end > 0) || math.IsInf(end, 0) {
		end = last
	}
	if end-boundary >= opts.TrailingEpsilon {
		spans = append(spans, timeline.Span{Start: boundary, End: end})
	}
	return spans, nil
}

// MeanAbsDiff is the mean absolute per-pixel difference of two equal-size
// luma planes, in 0..255.
func MeanAbsDiff(a, b []byte) float64 {
	if len(a) == 0 {
		return 0
	}
	var sum uint64
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(a))
}

// DiffDetector is the frame-difference fallback detector.
type DiffDetector struct {
	opener FrameOpener
	opts   DiffOptions
}

func NewDiffDetector(opener FrameOpener, opts DiffOptions) *DiffDetector {
	return &DiffDetector{opener: opener, opts: opts}
}

func (d *DiffDetector) Name() string { return "framediff" }

func (d *DiffDetector) WithThreshold(threshold float64) Detector {
	opts := d.opts
	opts.Threshold = threshold
	return &DiffDetector{opener: d.opener, opts: opts}
}

func (d *DiffDetector) Detect(ctx context.Context, video timeline.Video) ([]timeline.Span, error) {
	if d.opener == nil {
		return nil, fmt.Errorf("%w: no frame decoder configured", timeline.ErrDetectorUnavailable)
	}
	stream, err := d.opener.OpenFrames(ctx, video)
	if err != nil {
		return nil, fmt.Errorf("%w: open frames: %v", timeline.ErrDetectorError, err)
	}
	defer stream.Close()

	spans, err := DetectByDiff(stream, video.Duration, d.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrDetectorError, err)
	}
	return spans, nil
}
