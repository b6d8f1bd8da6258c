// Package ui provides the system tray menu for the storyboard service.
package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 2 * time.Second

// RunCounter reports how many runs sit in each status.
type RunCounter interface {
	CountRuns(ctx context.Context) (map[string]int, error)
}

// Controller is the part of the runner the tray drives.
type Controller interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentRun() string
}

type Tray struct {
	runs   RunCounter
	runner Controller
	logger *slog.Logger

	statusItem *systray.MenuItem
	runsItem   *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onOpenInbox func() error
	onOpenUI    func() error
	onQuit      func()
	stop        chan struct{}
}

type TrayConfig struct {
	Runs        RunCounter
	Runner      Controller
	Logger      *slog.Logger
	OnOpenInbox func() error
	OnOpenUI    func() error
	OnQuit      func()
}

func NewTray(cfg TrayConfig) *Tray {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tray{
		runs:        cfg.Runs,
		runner:      cfg.Runner,
		logger:      cfg.Logger.With("component", "tray"),
		onOpenInbox: cfg.OnOpenInbox,
		onOpenUI:    cfg.OnOpenUI,
		onQuit:      cfg.OnQuit,
		stop:        make(chan struct{}),
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Storyboard")
	systray.SetTooltip("Heimdex Storyboard")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current runner status")
	t.statusItem.Disable()

	t.runsItem = systray.AddMenuItem(runsLabel(nil), "Queued and finished runs")
	t.runsItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause processing")
	inboxItem := systray.AddMenuItem("Open Inbox Folder", "Videos dropped here are processed")
	uiItem := systray.AddMenuItem("Open Storyboards...", "Show runs in the browser")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Storyboard")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-inboxItem.ClickedCh:
				t.call("open inbox", t.onOpenInbox)
			case <-uiItem.ClickedCh:
				t.call("open storyboards", t.onOpenUI)
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		t.refresh()
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) refresh() {
	var counts map[string]int
	if t.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		c, err := t.runs.CountRuns(ctx)
		cancel()
		if err != nil {
			t.logger.Debug("failed to count runs", "error", err)
		} else {
			counts = c
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	paused, current := false, ""
	if t.runner != nil {
		paused, current = t.runner.IsPaused(), t.runner.CurrentRun()
	}
	t.statusItem.SetTitle(statusLabel(paused, current))
	t.runsItem.SetTitle(runsLabel(counts))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.statusItem.SetTitle(statusLabel(t.runner.IsPaused(), t.runner.CurrentRun()))
}

func (t *Tray) call(what string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		t.logger.Error("tray action failed", "action", what, "error", err)
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusLabel(paused bool, current string) string {
	switch {
	case paused && current != "":
		return "Status: Pausing after " + shortID(current)
	case paused:
		return "Status: Paused"
	case current != "":
		return "Status: Processing " + shortID(current)
	default:
		return "Status: Idle"
	}
}

func runsLabel(counts map[string]int) string {
	queued := counts[catalog.RunStatusPending] + counts[catalog.RunStatusRunning]
	label := fmt.Sprintf("Runs: %d queued, %d done", queued, counts[catalog.RunStatusCompleted])
	if n := counts[catalog.RunStatusFailed]; n > 0 {
		label += fmt.Sprintf(", %d failed", n)
	}
	return label
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
