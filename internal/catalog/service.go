package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/export"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

var (
	ErrVideoNotFound    = errors.New("video not found")
	ErrNotAFile         = errors.New("path is not a regular file")
	ErrUnsupportedVideo = errors.New("unsupported video file extension")
)

const maxUploadNameLen = 120

type Service struct {
	repo      Repository
	uploadDir string
	logger    *slog.Logger
	submitted chan struct{}
}

// NewService stores uploaded videos under uploadDir.
func NewService(repo Repository, uploadDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		uploadDir: uploadDir,
		logger:    logger,
		submitted: make(chan struct{}, 1),
	}
}

// Submitted fires after a run is queued. Signals coalesce.
func (s *Service) Submitted() <-chan struct{} {
	return s.submitted
}

// Submit queues a run for a video already on disk.
func (s *Service) Submit(ctx context.Context, path, language, source string) (*Run, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, filepath.Base(absPath))
		}
		return nil, fmt.Errorf("stat video: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotAFile
	}
	if !IsVideoFile(absPath) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVideo, filepath.Ext(absPath))
	}

	return s.enqueue(ctx, NewID(), absPath, filepath.Base(absPath), language, source)
}

// SaveUpload copies an uploaded video into the upload directory and queues it.
func (s *Service) SaveUpload(ctx context.Context, filename string, r io.Reader, language string) (*Run, error) {
	name := export.CleanName(filepath.Base(filename), maxUploadNameLen)
	if name == "" || name == "." || strings.HasPrefix(name, "..") {
		name = "upload.mp4"
	}
	if !IsVideoFile(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVideo, filepath.Ext(name))
	}
	if s.uploadDir == "" {
		return nil, errors.New("uploads are not configured")
	}

	id := NewID()
	dir := filepath.Join(s.uploadDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n == 0 {
		os.RemoveAll(dir)
		return nil, errors.New("uploaded video is empty")
	}

	s.logger.Info("video uploaded", "run_id", id, "bytes", n)
	return s.enqueue(ctx, id, dst, name, language, RunSourceUpload)
}

func (s *Service) enqueue(ctx context.Context, id, path, name, language, source string) (*Run, error) {
	if source == "" {
		source = RunSourceAPI
	}
	now := time.Now().UTC()
	run := &Run{
		ID:        id,
		VideoPath: path,
		VideoName: name,
		Language:  strings.TrimSpace(language),
		Source:    source,
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("run queued", "run_id", run.ID, "video", run.VideoName, "source", source)
	select {
	case s.submitted <- struct{}{}:
	default:
	}
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

func (s *Service) CountRuns(ctx context.Context) (map[string]int, error) {
	return s.repo.CountRunsByStatus(ctx)
}

func (s *Service) GetResult(ctx context.Context, runID string) (*storyboard.Result, error) {
	return s.repo.GetResult(ctx, runID)
}

func (s *Service) GetScenes(ctx context.Context, runID string) ([]storyboard.SceneResult, error) {
	return s.repo.ListScenes(ctx, runID)
}

// Progress records stage transitions of running runs.
func (s *Service) Progress(ctx context.Context, ev events.RunEvent) {
	if ev.Status == events.StatusFailed {
		return
	}
	pct := int(ev.Progress*100 + 0.5)
	if err := s.repo.UpdateRunProgress(ctx, ev.RunID, ev.Stage, pct); err != nil {
		s.logger.Warn("failed to record run progress", "run_id", ev.RunID, "stage", ev.Stage, "error", err)
	}
}

// Completed is a no-op; the Runner stores results once Process returns.
func (s *Service) Completed(context.Context, *storyboard.Result) {}
