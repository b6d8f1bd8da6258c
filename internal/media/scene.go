package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-storyboard/internal/scenes"
	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

const DefaultSceneThreshold = 0.3

// SceneDetector uses ffmpeg's scene-change score (select='gt(scene,T)').
type SceneDetector struct {
	ff        *FFmpeg
	threshold float64
}

func NewSceneDetector(ff *FFmpeg, threshold float64) *SceneDetector {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultSceneThreshold
	}
	return &SceneDetector{ff: ff, threshold: threshold}
}

func (d *SceneDetector) Name() string { return "ffmpeg" }

func (d *SceneDetector) Available(ctx context.Context) error {
	if d.ff == nil {
		return fmt.Errorf("ffmpeg not configured")
	}
	return d.ff.Available(ctx)
}

func (d *SceneDetector) WithThreshold(threshold float64) scenes.Detector {
	return NewSceneDetector(d.ff, threshold)
}

// Detect returns nil when ffmpeg reports no cuts.
func (d *SceneDetector) Detect(ctx context.Context, video timeline.Video) ([]timeline.Span, error) {
	if d.ff == nil {
		return nil, fmt.Errorf("%w: ffmpeg not configured", timeline.ErrDetectorUnavailable)
	}
	cmd := exec.CommandContext(ctx, d.ff.ffmpeg,
		"-hide_banner", "-nostdin", "-nostats", "-loglevel", "info",
		"-i", video.Path,
		"-an", "-sn",
		"-vf", fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(d.threshold, 'f', -1, 64)),
		"-f", "null", "-",
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", timeline.ErrDetectorError, err)
	}
	d.ff.logger.Debug("running scene filter", "video_id", video.ID, "threshold", d.threshold)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", timeline.ErrDetectorError, err)
	}

	cuts, tail, scanErr := scanShowinfo(stderr)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", timeline.ErrDetectorError, err, truncate(strings.Join(tail, "\n"), 512))
	}
	if scanErr != nil {
		return nil, fmt.Errorf("%w: reading ffmpeg log: %v", timeline.ErrDetectorError, scanErr)
	}
	return cutsToSpans(cuts, video.Duration), nil
}

// scanShowinfo collects sorted pts_time values from showinfo output along
// with the last few other lines for error reports. showinfo logs one line
// per selected frame, so the whole stream is scanned. On a scan error the
// rest of r is drained so ffmpeg never blocks on a full pipe.
func scanShowinfo(r io.Reader) (cuts []float64, tail []string, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := parsePTSTime(line); ok {
			cuts = append(cuts, v)
			continue
		}
		tail = append(tail, line)
		if len(tail) > 8 {
			tail = tail[1:]
		}
	}
	if err = sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	sort.Float64s(cuts)
	return cuts, tail, err
}

func parsePTSTime(line string) (float64, bool) {
	_, rest, ok := strings.Cut(line, "pts_time:")
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// cutsToSpans turns cut instants into consecutive spans from 0. No cuts
// yields nil so callers can tell "nothing found" from "one scene".
func cutsToSpans(cuts []float64, duration float64) []timeline.Span {
	if len(cuts) == 0 {
		return nil
	}
	starts := make([]float64, 0, len(cuts)+1)
	starts = append(starts, 0)
	for _, c := range cuts {
		if c > starts[len(starts)-1] {
			starts = append(starts, c)
		}
	}
	spans := make([]timeline.Span, len(starts))
	for i, s := range starts {
		end := duration
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end < s {
			end = s
		}
		spans[i] = timeline.Span{Start: s, End: end}
	}
	return spans
}
