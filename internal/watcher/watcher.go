// Package watcher turns files dropped into an inbox directory into runs.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DefaultSettle is how long a file must stay unwritten before it is
// reported. Large videos are copied in many writes.
const DefaultSettle = 2 * time.Second

// FSWatcher reports settled file changes in watched directories.
type FSWatcher struct {
	logger *slog.Logger
	settle time.Duration
	fs     *fsnotify.Watcher

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*pendingFile
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

type pendingFile struct {
	timer   *time.Timer
	created bool
}

func NewFSWatcher(settle time.Duration, logger *slog.Logger) (*FSWatcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &FSWatcher{
		logger:  logger.With("component", "watcher"),
		settle:  settle,
		fs:      fs,
		pending: make(map[string]*pendingFile),
		done:    make(chan struct{}),
	}, nil
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch adds a directory and starts the event loop on first use. It does
// not block; the loop ends when ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	if err := w.fs.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.logger.Info("watching directory", "path", path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		go w.loop(ctx)
	}
	return nil
}

func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()

		w.mu.Lock()
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
	return err
}

func (w *FSWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher event queue overflowed, some files may be missed")
				continue
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.touch(ev.Name, ev.Has(fsnotify.Create))
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		if p, ok := w.pending[ev.Name]; ok {
			p.timer.Stop()
			delete(w.pending, ev.Name)
		}
		w.mu.Unlock()
		w.emit(ev.Name, EventDelete)
	}
}

// touch (re)arms the settle timer for path.
func (w *FSWatcher) touch(path string, created bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.created = p.created || created
		p.timer.Reset(w.settle)
		return
	}

	p := &pendingFile{created: created}
	p.timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		cur, ok := w.pending[path]
		if ok && cur == p {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if !ok || cur != p {
			return
		}
		if p.created {
			w.emit(path, EventCreate)
		} else {
			w.emit(path, EventModify)
		}
	})
	w.pending[path] = p
}

func (w *FSWatcher) emit(path string, event EventType) {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("file settled", "path", path, "event", event.String())
	if cb != nil {
		cb(path, event)
	}
}
