// Package storyboard assembles the final per-scene records: keyframes,
// timestamp labels and the text forms used by the gallery and exports.
package storyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

// DefaultShortScene is the length below which a keyframe is taken at the
// scene start instead of its midpoint.
const DefaultShortScene = 1.0

// FrameCapturer grabs one still image. Nil bytes with a nil error mean no
// frame exists at that instant.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context, video timeline.Video, at float64) ([]byte, error)
}

// SceneResult is one assembled scene as presented and exported.
type SceneResult struct {
	Index     int     `json:"index"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	OpenEnded bool    `json:"open_ended,omitempty"`
	CaptureAt float64 `json:"capture_at"`
	Timestamp string  `json:"timestamp"`
	TimeRange string  `json:"time_range"`
	// ImageRef is slash-separated and relative to the run workspace, or
	// empty when no keyframe could be captured.
	ImageRef    string   `json:"image_ref,omitempty"`
	Text        []string `json:"text"`
	DisplayText string   `json:"display_text"`
	FlatText    string   `json:"flat_text"`
}

type VideoInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	HasAudio  bool    `json:"has_audio"`
}

// Result is a completed run.
type Result struct {
	RunID         string        `json:"run_id"`
	Video         VideoInfo     `json:"video"`
	Scenes        []SceneResult `json:"scenes"`
	Detector      string        `json:"detector"`
	FellBack      bool          `json:"fell_back"`
	Degraded      bool          `json:"degraded"`
	Transcriber   string        `json:"transcriber"`
	Language      string        `json:"language,omitempty"`
	// SegmentCount counts aligned segments after normalization; segments
	// with blank text or non-finite times never reach alignment.
	SegmentCount  int           `json:"segment_count"`
	Orphans       int           `json:"orphans"`
	MissingFrames int           `json:"missing_frames"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CaptureTime picks the keyframe instant for a scene.
func CaptureTime(iv timeline.Interval, shortScene float64) float64 {
	if iv.OpenEnded() || iv.Duration() < shortScene {
		return iv.Start()
	}
	return iv.Midpoint()
}

// NewSceneResult builds the presentation record for an aligned scene.
func NewSceneResult(s *timeline.Scene, shortScene float64) SceneResult {
	iv := s.Interval
	end := iv.End()
	if iv.OpenEnded() {
		end = iv.Start()
	}
	text := s.Text
	if text == nil {
		text = []string{}
	}
	return SceneResult{
		Index:       s.Index,
		Start:       iv.Start(),
		End:         end,
		OpenEnded:   iv.OpenEnded(),
		CaptureAt:   CaptureTime(iv, shortScene),
		Timestamp:   timeline.FormatTimestamp(iv.Start()),
		TimeRange:   timeline.FormatRange(iv),
		ImageRef:    s.ImageRef,
		Text:        text,
		DisplayText: s.DisplayText(),
		FlatText:    s.FlatText(),
	}
}

type Assembler struct {
	capture    FrameCapturer
	shortScene float64
	logger     *slog.Logger
}

func NewAssembler(capture FrameCapturer, shortScene float64, logger *slog.Logger) *Assembler {
	if shortScene <= 0 {
		shortScene = DefaultShortScene
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{capture: capture, shortScene: shortScene, logger: logger}
}

// Assemble captures a keyframe per scene into ws, sets each scene's
// ImageRef and returns the scene records with the count of scenes that
// have no keyframe. A failed capture leaves that scene without an image;
// only cancellation aborts.
func (a *Assembler) Assemble(ctx context.Context, ws *workspace.Workspace, video timeline.Video, scenes []timeline.Scene) ([]SceneResult, int, error) {
	if err := os.MkdirAll(ws.FramesDir(), 0755); err != nil {
		return nil, 0, fmt.Errorf("frames dir: %w", err)
	}

	missing := 0
	results := make([]SceneResult, len(scenes))
	for i := range scenes {
		s := &scenes[i]
		if a.capture != nil {
			if err := a.captureScene(ctx, ws, video, s); err != nil {
				if ctx.Err() != nil {
					return nil, 0, ctx.Err()
				}
				a.logger.Warn("keyframe capture failed",
					"video_id", video.ID,
					"scene", s.Index,
					"error", err,
				)
			}
		}
		if s.ImageRef == "" {
			missing++
		}
		results[i] = NewSceneResult(s, a.shortScene)
	}
	return results, missing, nil
}

var errNoFrame = errors.New("decoder returned no frame")

func (a *Assembler) captureScene(ctx context.Context, ws *workspace.Workspace, video timeline.Video, s *timeline.Scene) error {
	at := CaptureTime(s.Interval, a.shortScene)
	img, err := a.capture.CaptureFrame(ctx, video, at)
	if err != nil {
		return err
	}
	if len(img) == 0 {
		return errNoFrame
	}
	if err := os.WriteFile(ws.FramePath(s.Index), img, 0644); err != nil {
		return fmt.Errorf("write keyframe: %w", err)
	}
	s.ImageRef = path.Join("frames", workspace.FrameName(s.Index))
	return nil
}
