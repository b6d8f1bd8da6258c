package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

const defaultSampleFPS = 10.0

// OpenFrames decodes the video into fixed-size 8-bit grayscale frames on a
// pipe, sampled at a constant rate.
func (f *FFmpeg) OpenFrames(ctx context.Context, video timeline.Video) (scenes.FrameStream, error) {
	fps := f.cfg.SampleFPS
	if fps <= 0 {
		fps = video.FrameRate
	}
	if fps <= 0 || fps > 120 {
		fps = defaultSampleFPS
	}
	w, h := f.cfg.FrameWidth, f.cfg.FrameHeight

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", video.Path,
		"-an", "-sn",
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d,format=gray", strconv.FormatFloat(fps, 'f', -1, 64), w, h),
		"-f", "rawvideo", "-pix_fmt", "gray",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	f.logger.Debug("decoding grayscale frames", "video_id", video.ID, "fps", fps, "width", w, "height", h)
	return &grayStream{
		frameReader: newFrameReader(stdout, w*h, fps),
		cmd:         cmd,
		cancel:      cancel,
	}, nil
}

// frameReader splits a raw gray byte stream into timestamped frames.
type frameReader struct {
	r    *bufio.Reader
	size int
	fps  float64
	n    int
}

func newFrameReader(r io.Reader, size int, fps float64) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, size), size: size, fps: fps}
}

func (fr *frameReader) Next() (scenes.Frame, error) {
	buf := make([]byte, fr.size)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		// a truncated final frame is discarded
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return scenes.Frame{}, io.EOF
		}
		return scenes.Frame{}, err
	}
	f := scenes.Frame{Time: float64(fr.n) / fr.fps, Luma: buf}
	fr.n++
	return f, nil
}

type grayStream struct {
	*frameReader
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func (s *grayStream) Close() error {
	s.cancel()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed by cancel after an early stop
		return nil
	}
	return err
}
