package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

// ProbeResult is the subset of ffprobe output the pipeline needs.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
}

type probeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path)
	out, err := cmd.Output()
	if err != nil {
		detail := ""
		if ee, ok := err.(*exec.ExitError); ok {
			detail = truncate(string(ee.Stderr), 512)
		}
		return nil, fmt.Errorf("ffprobe: %w: %s", err, detail)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	res := &ProbeResult{Duration: parseFloat(po.Format.Duration)}
	for _, s := range po.Streams {
		switch s.CodecType {
		case "video":
			if res.HasVideo {
				continue
			}
			res.HasVideo = true
			res.Codec = s.CodecName
			res.Width, res.Height = s.Width, s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.FrameRate == 0 {
				res.FrameRate = parseRate(s.RFrameRate)
			}
			if res.Duration == 0 {
				res.Duration = parseFloat(s.Duration)
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}
	if !res.HasVideo {
		return nil, fmt.Errorf("no video stream found")
	}
	return res, nil
}

// Video builds the pipeline's video handle from a probe result.
func (p *ProbeResult) Video(id, path string) timeline.Video {
	return timeline.Video{
		ID:        id,
		Path:      path,
		Duration:  p.Duration,
		FrameRate: p.FrameRate,
		Width:     p.Width,
		Height:    p.Height,
		HasAudio:  p.HasAudio,
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseRate reads ffprobe's "num/den" rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
