package catalog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/pipeline"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

// Processor runs one video into a workspace.
type Processor interface {
	Process(ctx context.Context, ws *workspace.Workspace, in pipeline.Input) (*storyboard.Result, error)
}

// Uploader ships finished storyboards elsewhere, e.g. cloud ingest.
type Uploader interface {
	UploadResult(ctx context.Context, result *storyboard.Result) error
}

// Runner processes pending runs one at a time, each in its own workspace
// under root.
type Runner struct {
	service      *Service
	repo         Repository
	processor    Processor
	root         *workspace.Workspace
	uploader     Uploader
	metrics      *metrics.Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
	current      atomic.Value // string
}

func NewRunner(service *Service, repo Repository, processor Processor, root *workspace.Workspace, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		service:      service,
		repo:         repo,
		processor:    processor,
		root:         root,
		logger:       logger.With("component", "runner"),
		pollInterval: 5 * time.Second,
	}
	r.current.Store("")
	return r
}

func (r *Runner) SetUploader(u Uploader)          { r.uploader = u }
func (r *Runner) SetMetrics(m *metrics.Metrics)   { r.metrics = m }
func (r *Runner) SetPollInterval(d time.Duration) { r.pollInterval = d }

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.service.Submitted():
		}
		r.drain(ctx)
	}
}

func (r *Runner) drain(ctx context.Context) {
	for ctx.Err() == nil && !r.paused.Load() {
		if !r.processNextRun(ctx) {
			return
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run runner paused")
}

// Resume also wakes the loop so queued runs start without waiting a tick.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run runner resumed")
	select {
	case r.service.submitted <- struct{}{}:
	default:
	}
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

// CurrentRun returns the ID of the run being processed, or "".
func (r *Runner) CurrentRun() string {
	return r.current.Load().(string)
}

// processNextRun reports whether a run was taken off the queue.
func (r *Runner) processNextRun(ctx context.Context) bool {
	runs, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return false
	}
	r.metrics.SetQueueDepth(len(runs))

	if len(runs) == 0 {
		return false
	}

	r.processRun(ctx, runs[0])
	r.metrics.SetQueueDepth(len(runs) - 1)
	return true
}

func (r *Runner) processRun(ctx context.Context, run *Run) {
	logger := r.logger.With("run_id", run.ID)
	// bookkeeping must land even when ctx is cancelled mid-run
	bg := context.WithoutCancel(ctx)

	ws, err := r.root.Sub(run.ID)
	if err != nil {
		logger.Error("failed to open run workspace", "error", err)
		r.repo.UpdateRunStatus(bg, run.ID, RunStatusFailed, err.Error(), timeline.ErrorCode(err))
		return
	}

	if err := r.repo.MarkRunRunning(ctx, run.ID, ws.Root()); err != nil {
		logger.Error("failed to mark run running", "error", err)
		return
	}

	r.current.Store(run.ID)
	defer r.current.Store("")

	logger.Info("processing run", "video", run.VideoName, "source", run.Source)

	result, err := r.processor.Process(ctx, ws, pipeline.Input{
		RunID:    run.ID,
		VideoID:  run.ID,
		Path:     run.VideoPath,
		Name:     run.VideoName,
		Language: run.Language,
	})
	if err != nil {
		msg, code := err.Error(), timeline.ErrorCode(err)
		if ctx.Err() != nil {
			msg, code = "cancelled", "CANCELLED"
		}
		if uerr := r.repo.UpdateRunStatus(bg, run.ID, RunStatusFailed, msg, code); uerr != nil {
			logger.Error("failed to record run failure", "error", uerr)
		}
		return
	}

	if err := r.repo.SaveResult(bg, run.ID, result); err != nil {
		logger.Error("failed to save run result", "error", err)
		r.repo.UpdateRunStatus(bg, run.ID, RunStatusFailed, "failed to save result: "+err.Error(), "INTERNAL_ERROR")
		return
	}

	if r.uploader != nil {
		if err := r.uploader.UploadResult(ctx, result); err != nil {
			logger.Warn("cloud upload failed", "error", err)
		}
	}
}
