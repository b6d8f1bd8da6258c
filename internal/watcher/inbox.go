package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
)

type Submitter interface {
	Submit(ctx context.Context, path, language, source string) (*catalog.Run, error)
}

// Inbox submits every video that settles in dir as a new run.
type Inbox struct {
	watcher   Watcher
	dir       string
	language  string
	submitter Submitter
	logger    *slog.Logger
}

func NewInbox(w Watcher, dir, language string, submitter Submitter, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		watcher:   w,
		dir:       dir,
		language:  language,
		submitter: submitter,
		logger:    logger.With("component", "inbox"),
	}
}

func (i *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(i.dir, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	i.watcher.OnChange(func(path string, event EventType) {
		i.handle(ctx, path, event)
	})
	return i.watcher.Watch(ctx, i.dir)
}

func (i *Inbox) handle(ctx context.Context, path string, event EventType) {
	if event != EventCreate {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !catalog.IsVideoFile(name) {
		return
	}

	run, err := i.submitter.Submit(ctx, path, i.language, catalog.RunSourceWatcher)
	if err != nil {
		i.logger.Warn("failed to submit inbox video", "file", name, "error", err)
		return
	}
	i.logger.Info("inbox video submitted", "file", name, "run_id", run.ID)
}
