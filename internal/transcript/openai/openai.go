// Package openai transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint using verbose_json segment timings.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/transcript"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	TempDir string
	Timeout time.Duration
	Audio   transcript.AudioExtractor
}

type Backend struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Backend{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (b *Backend) Name() string { return "openai" }

func (b *Backend) Available(ctx context.Context) error {
	if b.cfg.APIKey == "" {
		return fmt.Errorf("no API key configured")
	}
	return nil
}

type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (b *Backend) Transcribe(ctx context.Context, video timeline.Video, lang string) ([]timeline.Segment, error) {
	if b.cfg.Audio == nil {
		return nil, fmt.Errorf("no audio extractor configured")
	}

	dir, err := os.MkdirTemp(b.cfg.TempDir, "openai-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "audio.wav")
	if err := b.cfg.Audio.ExtractAudio(ctx, video, wavPath); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}

	body, contentType, err := buildForm(wavPath, b.cfg.Model, transcript.BaseLanguage(lang))
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]timeline.Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		segments = append(segments, timeline.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segments) == 0 && strings.TrimSpace(vr.Text) != "" {
		// No timings: the whole text lands at t=0.
		segments = append(segments, timeline.Segment{Text: vr.Text})
	}
	return segments, nil
}

func buildForm(audioPath, model, lang string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":           model,
		"response_format": "verbose_json",
	}
	if lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
		return nil, "", err
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
