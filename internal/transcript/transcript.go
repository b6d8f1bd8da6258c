// Package transcript adapts speech-to-text backends to the storyboard
// pipeline. Backends return raw timestamped segments; the Adapter validates
// the language hint, wraps failures in timeline.ErrTranscriptionError and
// normalizes the segment list.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// Transcriber turns a video's speech track into timestamped segments.
// language is a BCP 47 tag or empty for auto-detection.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, video timeline.Video, language string) ([]timeline.Segment, error)
}

// Prober is implemented by backends that depend on external tooling or credentials.
type Prober interface {
	Available(ctx context.Context) error
}

// AudioExtractor writes a 16 kHz mono WAV of the video's audio to outPath.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, video timeline.Video, outPath string) error
}

// ParseLanguage canonicalizes a language hint. Empty and "auto" mean
// auto-detect and return "".
func ParseLanguage(hint string) (string, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.EqualFold(hint, "auto") {
		return "", nil
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return "", fmt.Errorf("invalid language hint %q: %w", hint, err)
	}
	return tag.String(), nil
}

// BaseLanguage reduces a tag to its primary language subtag ("ja-JP" -> "ja").
func BaseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, _ := t.Base()
	return base.String()
}

// Normalize trims and NFC-normalizes text, drops segments with no text or
// non-finite times, repairs reversed or negative timestamps and stably sorts
// by start.
func Normalize(segments []timeline.Segment) []timeline.Segment {
	out := make([]timeline.Segment, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(norm.NFC.String(s.Text))
		if text == "" || !finite(s.Start) || !finite(s.End) {
			continue
		}
		if s.End < s.Start {
			s.Start, s.End = s.End, s.Start
		}
		s.Start = math.Max(s.Start, 0)
		s.End = math.Max(s.End, 0)
		s.Text = text
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Adapter is the pipeline-facing transcription service.
type Adapter struct {
	backend Transcriber
	logger  *slog.Logger
}

func NewAdapter(backend Transcriber, logger *slog.Logger) *Adapter {
	return &Adapter{backend: backend, logger: logger}
}

func (a *Adapter) Name() string { return a.backend.Name() }

// Transcribe runs the backend. An invalid language hint is logged and
// replaced by auto-detection. Every failure wraps timeline.ErrTranscriptionError.
func (a *Adapter) Transcribe(ctx context.Context, video timeline.Video, hint string) ([]timeline.Segment, error) {
	lang, err := ParseLanguage(hint)
	if err != nil {
		a.logger.Warn("ignoring language hint", "video_id", video.ID, "hint", hint, "error", err)
		lang = ""
	}

	start := time.Now()
	raw, err := a.backend.Transcribe(ctx, video, lang)
	if err != nil {
		if errors.Is(err, timeline.ErrTranscriptionError) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", timeline.ErrTranscriptionError, a.backend.Name(), err)
	}

	segments := Normalize(raw)
	a.logger.Info("transcription finished",
		"backend", a.backend.Name(),
		"video_id", video.ID,
		"language", lang,
		"segments", len(segments),
		"dropped", len(raw)-len(segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return segments, nil
}

// Available probes the backend when it supports probing.
func (a *Adapter) Available(ctx context.Context) error {
	if p, ok := a.backend.(Prober); ok {
		return p.Available(ctx)
	}
	return nil
}

// None produces no segments; scenes keep empty text.
type None struct{}

func (None) Name() string { return "none" }

func (None) Transcribe(ctx context.Context, video timeline.Video, language string) ([]timeline.Segment, error) {
	return nil, nil
}
