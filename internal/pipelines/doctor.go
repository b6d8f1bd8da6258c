package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// readyTTL applies once both scene detection and speech are usable.
	readyTTL = 5 * time.Minute
	// degradedTTL applies while either is missing, so a package installed
	// mid-session is noticed before the next run.
	degradedTTL = 30 * time.Second
)

// Capability names one thing a storyboard run needs from the Python side.
type Capability string

const (
	CapScenes Capability = "scenes"
	CapSpeech Capability = "speech"
)

var ErrCapabilityMissing = errors.New("pipeline capability missing")

// CachedDoctor caches doctor probe results so availability checks before
// each run do not spawn Python. Fully capable results stay fresh for
// readyTTL; degraded ones for degradedTTL.
type CachedDoctor struct {
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
}

func ttlFor(caps *Capabilities) time.Duration {
	if caps.HasScenes && caps.HasSpeech {
		return readyTTL
	}
	return degradedTTL
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if c := d.cached; c != nil && d.now().Sub(c.ProbedAt) < ttlFor(c) {
		d.mu.RUnlock()
		return c, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new doctor probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}
	if caps.ProbedAt.IsZero() {
		caps.ProbedAt = d.now()
	}

	if prev := d.cached; prev != nil && (prev.HasScenes != caps.HasScenes || prev.HasSpeech != caps.HasSpeech) {
		d.logger.Info("pipeline capabilities changed",
			"scenes", caps.HasScenes,
			"speech", caps.HasSpeech,
		)
	}
	d.cached = caps
	return caps, nil
}

// Require reports whether capability c is installed. A nil doctor has
// nothing to vouch for and always refuses.
func (d *CachedDoctor) Require(ctx context.Context, c Capability) error {
	if d == nil {
		return errors.New("no doctor configured")
	}
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	switch c {
	case CapScenes:
		if !caps.HasScenes {
			return fmt.Errorf("%w: scenedetect or cv2 not installed", ErrCapabilityMissing)
		}
	case CapSpeech:
		if !caps.HasSpeech {
			return fmt.Errorf("%w: whisper or ffmpeg not installed", ErrCapabilityMissing)
		}
	default:
		return fmt.Errorf("%w: unknown capability %q", ErrCapabilityMissing, c)
	}
	return nil
}
