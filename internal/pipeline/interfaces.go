package pipeline

import (
	"context"

	"github.com/heimdex/heimdex-storyboard/internal/media"
	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// Prober reads container metadata. *media.FFmpeg implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// SceneResolver produces raw scene spans. *scenes.Resolver implements it.
type SceneResolver interface {
	Detect(ctx context.Context, video timeline.Video) (scenes.Detection, error)
}

// Transcriber produces normalized segments. *transcript.Adapter implements it.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, video timeline.Video, hint string) ([]timeline.Segment, error)
}
