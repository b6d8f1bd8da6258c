// Package google transcribes audio with Google Cloud Speech-to-Text.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/transcript"
)

const (
	sampleRate = 16000
	// Inline audio on LongRunningRecognize is capped by the API.
	maxInlineBytes = 10 * 1024 * 1024
	defaultLang    = "en-US"
)

// Config configures the backend.
type Config struct {
	CredentialsFile string
	Model           string
	DefaultLanguage string
	TempDir         string
	Audio           transcript.AudioExtractor
	Logger          *slog.Logger
}

// Backend is a transcript.Transcriber backed by LongRunningRecognize.
type Backend struct {
	cfg    Config
	client *speech.Client
}

// New dials the Speech API. Credentials come from CredentialsFile or the
// application default credentials.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = defaultLang
	}
	return &Backend{cfg: cfg, client: client}, nil
}

func (b *Backend) Name() string { return "google" }

func (b *Backend) Close() error { return b.client.Close() }

func (b *Backend) Transcribe(ctx context.Context, video timeline.Video, lang string) ([]timeline.Segment, error) {
	if b.cfg.Audio == nil {
		return nil, fmt.Errorf("no audio extractor configured")
	}

	dir, err := os.MkdirTemp(b.cfg.TempDir, "speech-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "audio.wav")
	if err := b.cfg.Audio.ExtractAudio(ctx, video, wavPath); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) > maxInlineBytes {
		return nil, fmt.Errorf("audio is %d bytes, inline recognition accepts at most %d", len(audio), maxInlineBytes)
	}

	if lang == "" {
		lang = b.cfg.DefaultLanguage
	}

	op, err := b.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            sampleRate,
			AudioChannelCount:          1,
			LanguageCode:               lang,
			Model:                      b.cfg.Model,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start recognition: %w", err)
	}

	start := time.Now()
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for recognition: %w", err)
	}
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug("speech recognition complete",
			"video_id", video.ID,
			"results", len(resp.GetResults()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return segmentsFromResults(resp.GetResults()), nil
}

// segmentsFromResults turns each recognition result into one segment. A
// result starts at its first word, or where the previous result ended when
// word offsets are missing.
func segmentsFromResults(results []*speechpb.SpeechRecognitionResult) []timeline.Segment {
	segments := make([]timeline.Segment, 0, len(results))
	prevEnd := 0.0
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start, end := prevEnd, prevEnd
		if words := alt.GetWords(); len(words) > 0 {
			start = words[0].GetStartTime().AsDuration().Seconds()
			end = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		}
		if r.GetResultEndTime() != nil {
			if re := r.GetResultEndTime().AsDuration().Seconds(); re > end {
				end = re
			}
		}

		segments = append(segments, timeline.Segment{Start: start, End: end, Text: text})
		prevEnd = end
	}
	return segments
}
