package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/config"
	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/media"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/pipeline"
	"github.com/heimdex/heimdex-storyboard/internal/pipelines"
	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
	"github.com/heimdex/heimdex-storyboard/internal/transcript"
	"github.com/heimdex/heimdex-storyboard/internal/transcript/google"
	"github.com/heimdex/heimdex-storyboard/internal/transcript/openai"
)

// stack holds the collaborators a Processor is built from.
type stack struct {
	ffmpeg      *media.FFmpeg
	pyRunner    pipelines.Runner // nil when the Python pipelines are missing
	doctor      *pipelines.CachedDoctor
	resolver    *scenes.Resolver
	transcriber *transcript.Adapter // nil when transcription is off
	processor   *pipeline.Processor
	closers     []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newStack wires detection, transcription and assembly from cfg. ffmpeg is
// required; the Python pipelines and speech backends degrade with a warning.
func newStack(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics, notifier events.Notifier) (*stack, error) {
	s := &stack{}

	mc := media.DefaultConfig(logger)
	md := cfg.Media()
	mc.FFmpegPath = md.FFmpegPath
	mc.FFprobePath = md.FFprobePath
	mc.JPEGQuality = md.JPEGQuality
	mc.SampleFPS = cfg.Detection().SampleFPS
	ff, err := media.New(mc)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg is required: %w", err)
	}
	s.ffmpeg = ff

	s.initPipelines(ctx, cfg, logger)

	s.resolver, err = s.buildResolver(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	backend, err := s.buildTranscriber(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	pc := pipeline.Config{
		Prober:    ff,
		Resolver:  s.resolver,
		Assembler: storyboard.NewAssembler(ff, md.ShortScene, logger),
		Canonical: &scenes.Options{LeadingGap: cfg.Detection().LeadingGap},
		Timeouts:  timeouts(cfg.StageTimeouts()),
		Notifier:  notifier,
		Metrics:   m,
		Logger:    logger,
	}
	if backend != nil {
		s.transcriber = transcript.NewAdapter(backend, logger)
		pc.Transcriber = s.transcriber
	}

	s.processor, err = pipeline.New(pc)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func timeouts(t config.Timeouts) pipeline.Timeouts {
	return pipeline.Timeouts{
		Probe:      config.Seconds(t.Probe),
		Detect:     config.Seconds(t.Detect),
		Transcribe: config.Seconds(t.Transcribe),
		Assemble:   config.Seconds(t.Assemble),
	}
}

// doctorTimeout bounds availability probes; zero in config means the default.
func doctorTimeout(cfg config.Config) time.Duration {
	if d := cfg.StageTimeouts().Doctor; d > 0 {
		return config.Seconds(d)
	}
	return 30 * time.Second
}

func (s *stack) initPipelines(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	pc := pipelines.DefaultConfig(cfg.DataDir(), logger)
	p := cfg.Pipelines()
	pc.PythonPath = p.Python
	if p.Module != "" {
		pc.ModuleName = p.Module
	}
	t := cfg.StageTimeouts()
	if t.Doctor > 0 {
		pc.DoctorTimeout = config.Seconds(t.Doctor)
	}
	if t.Detect > 0 {
		pc.ScenesTimeout = config.Seconds(t.Detect)
	}
	if t.Transcribe > 0 {
		pc.SpeechTimeout = config.Seconds(t.Transcribe)
	}

	runner, err := pipelines.NewRunner(pc)
	if err != nil {
		logger.Warn("python pipelines unavailable", "error", err)
		return
	}
	s.pyRunner = runner
	s.doctor = pipelines.NewCachedDoctor(runner, logger)

	probeCtx, cancel := context.WithTimeout(ctx, pc.DoctorTimeout)
	defer cancel()
	if caps, err := s.doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("pipeline capabilities detected",
			"scenes", caps.HasScenes,
			"speech", caps.HasSpeech,
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
		)
	}
}

func (s *stack) buildResolver(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*scenes.Resolver, error) {
	d := cfg.Detection()
	retry := map[string]float64{}
	var primaries []scenes.Detector

	for _, name := range d.Detectors {
		switch name {
		case config.DetectorPySceneDetect:
			if s.pyRunner == nil {
				logger.Warn("skipping detector, python pipelines unavailable", "detector", name)
				continue
			}
			primaries = append(primaries, pipelines.NewSceneDetector(s.pyRunner, s.doctor, d.ContentThreshold, logger))
			retry[name] = d.ContentRetryThreshold
		case config.DetectorFFmpeg:
			primaries = append(primaries, media.NewSceneDetector(s.ffmpeg, d.FFmpegThreshold))
			if d.FFmpegRetryThreshold > 0 {
				retry[name] = d.FFmpegRetryThreshold
			}
		case config.DetectorEqual:
			primaries = append(primaries, scenes.EqualPartition{Count: d.EqualScenes})
		default:
			return nil, fmt.Errorf("unknown detector %q", name)
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, doctorTimeout(cfg))
	defer cancel()
	primaries = scenes.Select(probeCtx, logger, primaries...)

	fallback := scenes.NewDiffDetector(s.ffmpeg, scenes.DiffOptions{
		Threshold:       d.DiffThreshold,
		MinSceneLength:  d.MinSceneLength,
		TrailingEpsilon: d.TrailingEpsilon,
	})

	return scenes.NewResolver(scenes.ResolverConfig{
		Primaries:       primaries,
		Fallback:        fallback,
		RetryThresholds: retry,
		Logger:          logger,
		OnAttempt: func(a scenes.Attempt) {
			outcome := "ok"
			switch {
			case a.Err != nil:
				outcome = "error"
			case a.Spans == 0:
				outcome = "empty"
			}
			m.RecordDetectorAttempt(a.Detector, outcome)
		},
	}), nil
}

// buildTranscriber returns nil when transcription is disabled or its
// backend cannot run here.
func (s *stack) buildTranscriber(ctx context.Context, cfg config.Config, logger *slog.Logger) (transcript.Transcriber, error) {
	t := cfg.Transcription()
	tmp := filepath.Join(cfg.DataDir(), "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	switch t.Backend {
	case config.TranscriberNone:
		return nil, nil
	case config.TranscriberWhisper:
		if s.pyRunner == nil {
			logger.Warn("whisper unavailable, transcripts disabled")
			return nil, nil
		}
		return pipelines.NewTranscriber(s.pyRunner, s.doctor, t.Model), nil
	case config.TranscriberOpenAI:
		return openai.New(openai.Config{
			BaseURL: t.OpenAIBaseURL,
			APIKey:  t.OpenAIAPIKey,
			Model:   t.OpenAIModel,
			TempDir: tmp,
			Timeout: config.Seconds(cfg.StageTimeouts().Transcribe),
			Audio:   s.ffmpeg,
		}), nil
	case config.TranscriberGoogle:
		backend, err := google.New(ctx, google.Config{
			CredentialsFile: t.GoogleCredentials,
			Model:           t.GoogleModel,
			DefaultLanguage: t.Language,
			TempDir:         tmp,
			Audio:           s.ffmpeg,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, backend.Close)
		return backend, nil
	}
	return nil, errors.New("unknown transcription backend " + t.Backend)
}
