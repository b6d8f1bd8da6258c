// Package media wraps the ffmpeg and ffprobe binaries: probing, the ffmpeg
// scene-change detector, grayscale frame decoding for the frame-difference
// fallback, keyframe capture and audio extraction.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const maxStderrBytes = 8 * 1024

// Config locates the binaries and sizes decoded frames.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// FrameWidth and FrameHeight size the grayscale frames fed to the
	// frame-difference detector.
	FrameWidth  int
	FrameHeight int
	// SampleFPS is the decode rate for the frame-difference detector; zero
	// uses the probed frame rate.
	SampleFPS float64
	// JPEGQuality is ffmpeg's -q:v for captured keyframes (2 best, 31 worst).
	JPEGQuality int
	Logger      *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FrameWidth:  160,
		FrameHeight: 90,
		JPEGQuality: 2,
		Logger:      logger,
	}
}

// FFmpeg runs ffmpeg and ffprobe subprocesses.
type FFmpeg struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// New resolves both binaries on PATH unless explicit paths are configured.
func New(cfg Config) (*FFmpeg, error) {
	ffmpegPath, err := lookPath(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := lookPath(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	if cfg.FrameWidth <= 0 || cfg.FrameHeight <= 0 {
		cfg.FrameWidth, cfg.FrameHeight = 160, 90
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		cfg:     cfg,
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  logger.With("component", "ffmpeg"),
	}, nil
}

func lookPath(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return p, nil
}

// Available runs `ffmpeg -version`.
func (f *FFmpeg) Available(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg, "-hide_banner", "-version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg -version: %w: %s", err, truncate(string(out), 256))
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, f.ffmpeg, "-version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}

// run executes ffmpeg with the standard quiet prefix and returns stdout and
// the tail of stderr.
func (f *FFmpeg) run(ctx context.Context, args ...string) ([]byte, string, error) {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.ffmpeg, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	f.logger.Debug("executing ffmpeg", "args", full)
	err := cmd.Run()
	tail := stderr.String()
	if err != nil {
		if ctx.Err() != nil {
			return nil, tail, ctx.Err()
		}
		return nil, tail, fmt.Errorf("ffmpeg: %w: %s", err, truncate(tail, 512))
	}
	return stdout.Bytes(), tail, nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
