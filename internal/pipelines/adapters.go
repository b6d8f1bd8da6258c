package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/transcript"
)

const (
	DefaultContentThreshold = 27.0
	DefaultWhisperModel     = "small"
)

var WhisperModels = []string{"tiny", "base", "small", "medium", "large"}

// ValidWhisperModel reports whether name is one of WhisperModels.
func ValidWhisperModel(name string) bool {
	for _, m := range WhisperModels {
		if m == name {
			return true
		}
	}
	return false
}

// SceneDetector runs PySceneDetect's content detector.
type SceneDetector struct {
	runner    Runner
	doctor    *CachedDoctor
	threshold float64
	logger    *slog.Logger
}

func NewSceneDetector(runner Runner, doctor *CachedDoctor, threshold float64, logger *slog.Logger) *SceneDetector {
	if threshold <= 0 {
		threshold = DefaultContentThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneDetector{runner: runner, doctor: doctor, threshold: threshold, logger: logger}
}

func (d *SceneDetector) Name() string { return "pyscenedetect" }

func (d *SceneDetector) Threshold() float64 { return d.threshold }

func (d *SceneDetector) WithThreshold(threshold float64) scenes.Detector {
	return NewSceneDetector(d.runner, d.doctor, threshold, d.logger)
}

func (d *SceneDetector) Available(ctx context.Context) error {
	return d.doctor.Require(ctx, CapScenes)
}

func (d *SceneDetector) Detect(ctx context.Context, video timeline.Video) ([]timeline.Span, error) {
	outPath := outputPath(d.runner, video, "scenes")
	defer os.Remove(outPath)

	result, err := d.runner.RunScenes(ctx, video.Path, d.threshold, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: scenedetect: %v", timeline.ErrDetectorError, err)
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("%w: scenedetect exited %d: %s",
			timeline.ErrDetectorError, result.ExitCode, truncate(result.StderrTail, 512))
	}

	out, err := ReadScenes(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrDetectorError, err)
	}
	d.logger.Debug("scenedetect output",
		"video_id", video.ID,
		"scenes", len(out.Scenes),
		"threshold", d.threshold,
		"model_version", out.ModelVersion,
	)
	if len(out.Scenes) == 0 {
		return nil, nil
	}
	spans := make([]timeline.Span, len(out.Scenes))
	for i, s := range out.Scenes {
		spans[i] = timeline.Span{Start: s.Start, End: s.End}
	}
	return spans, nil
}

// Transcriber runs whisper through the speech pipeline.
type Transcriber struct {
	runner Runner
	doctor *CachedDoctor
	model  string
}

func NewTranscriber(runner Runner, doctor *CachedDoctor, model string) *Transcriber {
	if !ValidWhisperModel(model) {
		model = DefaultWhisperModel
	}
	return &Transcriber{runner: runner, doctor: doctor, model: model}
}

func (t *Transcriber) Name() string { return "whisper" }

func (t *Transcriber) Model() string { return t.model }

func (t *Transcriber) Available(ctx context.Context) error {
	return t.doctor.Require(ctx, CapSpeech)
}

// Transcribe returns raw whisper segments; normalization happens in the
// transcript adapter.
func (t *Transcriber) Transcribe(ctx context.Context, video timeline.Video, language string) ([]timeline.Segment, error) {
	outPath := outputPath(t.runner, video, "speech")
	defer os.Remove(outPath)

	result, err := t.runner.RunSpeech(ctx, video.Path, t.model, transcript.BaseLanguage(language), outPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("whisper exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	out, err := ReadSpeech(outPath)
	if err != nil {
		return nil, err
	}
	segs := make([]timeline.Segment, len(out.Segments))
	for i, s := range out.Segments {
		segs[i] = timeline.Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return segs, nil
}

// ReadScenes parses and validates a `scenes detect` output file.
func ReadScenes(path string) (*ScenesOutput, error) {
	var out ScenesOutput
	if err := readOutput(path, &out); err != nil {
		return nil, err
	}
	if !out.RequiredFieldsPresent() {
		return nil, fmt.Errorf("scenes output %s missing version metadata", filepath.Base(path))
	}
	return &out, nil
}

// ReadSpeech parses and validates a `speech transcribe` output file.
func ReadSpeech(path string) (*SpeechOutput, error) {
	var out SpeechOutput
	if err := readOutput(path, &out); err != nil {
		return nil, err
	}
	if !out.RequiredFieldsPresent() {
		return nil, fmt.Errorf("speech output %s missing version metadata", filepath.Base(path))
	}
	return &out, nil
}

func readOutput(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read output file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot parse output JSON: %w", err)
	}
	return nil
}

func outputPath(r Runner, video timeline.Video, kind string) string {
	id := video.ID
	if id == "" {
		id = "adhoc"
	}
	return filepath.Join(r.ArtifactsDir(), id, kind+"-"+uuid.NewString()+".json")
}
