package media

import (
	"context"
	"fmt"
	"strconv"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// CaptureFrame grabs one JPEG frame at the given second. It returns nil
// bytes and no error when the decoder produced no frame there.
func (f *FFmpeg) CaptureFrame(ctx context.Context, video timeline.Video, at float64) ([]byte, error) {
	if at < 0 {
		at = 0
	}
	out, _, err := f.run(ctx,
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", video.Path,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(f.cfg.JPEGQuality),
		"-f", "image2pipe", "-c:v", "mjpeg",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("capture frame at %.3fs: %w", at, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ExtractAudio writes 16 kHz mono 16-bit PCM WAV to outPath.
func (f *FFmpeg) ExtractAudio(ctx context.Context, video timeline.Video, outPath string) error {
	_, _, err := f.run(ctx,
		"-loglevel", "error",
		"-i", video.Path,
		"-vn", "-ac", "1", "-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}
