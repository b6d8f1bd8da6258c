// Package pipeline runs one video through reset, probe, scene detection,
// canonicalization, transcription, alignment and assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/alignment"
	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/logging"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

// Timeouts bound the blocking collaborator calls. Zero means no deadline.
type Timeouts struct {
	Probe      time.Duration
	Detect     time.Duration
	Transcribe time.Duration
	Assemble   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe:      30 * time.Second,
		Detect:     20 * time.Minute,
		Transcribe: 60 * time.Minute,
		Assemble:   10 * time.Minute,
	}
}

type Config struct {
	Prober      Prober
	Resolver    SceneResolver
	Transcriber Transcriber
	Assembler   *storyboard.Assembler
	// Canonical tunes the canonicalizer; nil means scenes.DefaultOptions.
	Canonical   *scenes.Options
	Timeouts    Timeouts
	Notifier    events.Notifier
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Input describes one run.
type Input struct {
	RunID    string
	VideoID  string
	Path     string
	Name     string // display name; defaults to the file name
	Language string // optional hint, "" or "auto" detects
}

type Processor struct {
	cfg Config
}

func New(cfg Config) (*Processor, error) {
	if cfg.Prober == nil || cfg.Resolver == nil || cfg.Assembler == nil {
		return nil, errors.New("pipeline: prober, resolver and assembler are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Canonical == nil {
		opts := scenes.DefaultOptions()
		cfg.Canonical = &opts
	}
	return &Processor{cfg: cfg}, nil
}

// TranscriberName reports the configured speech backend.
func (p *Processor) TranscriberName() string {
	if p.cfg.Transcriber == nil {
		return "none"
	}
	return p.cfg.Transcriber.Name()
}

var stageProgress = map[timeline.Stage]float64{
	timeline.StageReset:        0.02,
	timeline.StageProbe:        0.05,
	timeline.StageDetect:       0.35,
	timeline.StageCanonicalize: 0.40,
	timeline.StageTranscribe:   0.80,
	timeline.StageAlign:        0.85,
	timeline.StageAssemble:     1.00,
}

type run struct {
	in     Input
	video  timeline.Video
	logger *slog.Logger
}

// Process runs the whole pipeline against ws, which it resets first and
// holds locked for the duration. On failure the workspace is reset again
// and the error is a *timeline.StageError; no partial result is returned.
func (p *Processor) Process(ctx context.Context, ws *workspace.Workspace, in Input) (*storyboard.Result, error) {
	if in.VideoID == "" {
		in.VideoID = in.RunID
	}
	if in.Name == "" {
		in.Name = filepath.Base(in.Path)
	}
	r := &run{
		in:     in,
		video:  timeline.Video{ID: in.VideoID, Path: in.Path},
		logger: logging.WithVideoID(logging.WithRunID(p.cfg.Logger, in.RunID), in.VideoID),
	}

	if ws.Contains(in.Path) {
		err := fmt.Errorf("%w: %s", workspace.ErrHoldsInput, in.Path)
		return nil, &timeline.StageError{VideoID: in.VideoID, Stage: timeline.StageReset, Err: err}
	}

	if err := ws.Lock(); err != nil {
		return nil, &timeline.StageError{VideoID: in.VideoID, Stage: timeline.StageReset, Err: err}
	}
	defer ws.Unlock()

	start := time.Now()
	p.cfg.Metrics.RecordRunStart()
	r.logger.Info("run started", "path", in.Path)

	result, err := p.process(ctx, ws, r)
	if err != nil {
		p.cfg.Metrics.RecordRunEnd("failed", time.Since(start))
		if rerr := ws.Reset(); rerr != nil {
			r.logger.Warn("failed to discard partial output", "error", rerr)
		}
		r.logger.Error("run failed", "error", err, "code", timeline.ErrorCode(err))
		return nil, err
	}

	p.cfg.Metrics.RecordRunEnd("completed", time.Since(start))
	r.logger.Info("run completed",
		"scenes", len(result.Scenes),
		"detector", result.Detector,
		"fell_back", result.FellBack,
		"segments", result.SegmentCount,
		"orphans", result.Orphans,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.cfg.Notifier.Completed(ctx, result)
	return result, nil
}

func (p *Processor) process(ctx context.Context, ws *workspace.Workspace, r *run) (*storyboard.Result, error) {
	t := p.cfg.Timeouts

	if err := p.stage(ctx, r, timeline.StageReset, 0, func(context.Context) error {
		return ws.Reset()
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, r, timeline.StageProbe, t.Probe, func(ctx context.Context) error {
		pr, err := p.cfg.Prober.Probe(ctx, r.in.Path)
		if err != nil {
			// an unreadable video is a detection failure
			return fmt.Errorf("%w: cannot open video: %v", timeline.ErrSceneDetectionFailure, err)
		}
		r.video = pr.Video(r.in.VideoID, r.in.Path)
		return nil
	}); err != nil {
		return nil, err
	}

	var det scenes.Detection
	if err := p.stage(ctx, r, timeline.StageDetect, t.Detect, func(ctx context.Context) error {
		var err error
		det, err = p.cfg.Resolver.Detect(ctx, r.video)
		return err
	}); err != nil {
		return nil, err
	}

	var canonical []timeline.Scene
	if err := p.stage(ctx, r, timeline.StageCanonicalize, 0, func(context.Context) error {
		var rep scenes.Report
		canonical, rep = scenes.Canonicalize(det.Spans, r.video.Duration, *p.cfg.Canonical)
		r.logger.Debug("canonicalized scenes",
			"raw", rep.Raw,
			"scenes", len(canonical),
			"leading", rep.Leading,
			"reordered", rep.Reordered,
			"absorbed", rep.Absorbed,
		)
		return nil
	}); err != nil {
		return nil, err
	}

	var segments []timeline.Segment
	if err := p.stage(ctx, r, timeline.StageTranscribe, t.Transcribe, func(ctx context.Context) error {
		if p.cfg.Transcriber == nil {
			return nil
		}
		if !r.video.HasAudio {
			r.logger.Info("video has no audio stream, skipping transcription")
			return nil
		}
		var err error
		segments, err = p.cfg.Transcriber.Transcribe(ctx, r.video, r.in.Language)
		return err
	}); err != nil {
		return nil, err
	}

	var aligned alignment.Report
	if err := p.stage(ctx, r, timeline.StageAlign, 0, func(context.Context) error {
		var err error
		aligned, err = alignment.Align(canonical, segments)
		return err
	}); err != nil {
		return nil, err
	}
	p.cfg.Metrics.RecordAlignment(aligned.Segments, aligned.Orphans)

	var (
		results []storyboard.SceneResult
		missing int
	)
	if err := p.stage(ctx, r, timeline.StageAssemble, t.Assemble, func(ctx context.Context) error {
		var err error
		results, missing, err = p.cfg.Assembler.Assemble(ctx, ws, r.video, canonical)
		return err
	}); err != nil {
		return nil, err
	}
	p.cfg.Metrics.RecordDetection(det.FellBack, len(results), missing)

	return &storyboard.Result{
		RunID: r.in.RunID,
		Video: storyboard.VideoInfo{
			ID:        r.video.ID,
			Name:      r.in.Name,
			Duration:  r.video.Duration,
			FrameRate: r.video.FrameRate,
			Width:     r.video.Width,
			Height:    r.video.Height,
			HasAudio:  r.video.HasAudio,
		},
		Scenes:        results,
		Detector:      det.Detector,
		FellBack:      det.FellBack,
		Degraded:      det.Degraded,
		Transcriber:   p.TranscriberName(),
		Language:      r.in.Language,
		SegmentCount:  aligned.Segments,
		Orphans:       aligned.Orphans,
		MissingFrames: missing,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// stage runs fn under an optional deadline, logs and notifies the
// transition, and tags any failure with the stage.
func (p *Processor) stage(ctx context.Context, r *run, stage timeline.Stage, timeout time.Duration, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &timeline.StageError{VideoID: r.in.VideoID, Stage: stage, Err: err}
	}
	p.notify(ctx, r, stage, events.StatusStarted, "", "")

	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(sctx)
	elapsed := time.Since(start)
	p.cfg.Metrics.RecordStage(string(stage), err, elapsed)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%s exceeded %s: %w", stage, timeout, err)
		}
		serr := &timeline.StageError{VideoID: r.in.VideoID, Stage: stage, Err: err}
		r.logger.Warn("stage failed", "stage", stage, "duration_ms", elapsed.Milliseconds(), "error", err)
		p.notify(ctx, r, stage, events.StatusFailed, err.Error(), timeline.ErrorCode(serr))
		return serr
	}

	r.logger.Info("stage finished", "stage", stage, "duration_ms", elapsed.Milliseconds())
	p.notify(ctx, r, stage, events.StatusCompleted, "", "")
	return nil
}

func (p *Processor) notify(ctx context.Context, r *run, stage timeline.Stage, status events.Status, msg, code string) {
	progress := stageProgress[stage]
	if status == events.StatusStarted {
		progress = previousProgress(stage)
	}
	p.cfg.Notifier.Progress(ctx, events.RunEvent{
		RunID:    r.in.RunID,
		VideoID:  r.in.VideoID,
		Stage:    string(stage),
		Status:   status,
		Progress: progress,
		Message:  msg,
		Code:     code,
	})
}

var stageOrder = []timeline.Stage{
	timeline.StageReset,
	timeline.StageProbe,
	timeline.StageDetect,
	timeline.StageCanonicalize,
	timeline.StageTranscribe,
	timeline.StageAlign,
	timeline.StageAssemble,
}

func previousProgress(stage timeline.Stage) float64 {
	for i, s := range stageOrder {
		if s == stage && i > 0 {
			return stageProgress[stageOrder[i-1]]
		}
	}
	return 0
}
