package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

const (
	defaultEDLFrameRate = 30.0
	maxCommentRunes     = 160
)

// EDLOptions controls WriteEDL.
type EDLOptions struct {
	Title string
	// FrameRate of the timecodes; zero uses the probed rate, then 30.
	FrameRate float64
	// MediaPath is written as the source file of every event.
	MediaPath string
}

// EDLFrameRate picks the timecode rate for result.
func EDLFrameRate(requested float64, result *storyboard.Result) float64 {
	switch {
	case requested > 0:
		return requested
	case result.Video.FrameRate > 0:
		return result.Video.FrameRate
	}
	return defaultEDLFrameRate
}

// WriteEDL writes a CMX3600 list with one cut per scene. Scenes tile the
// source from zero, so record timecodes equal source timecodes. An
// open-ended last scene is closed at the probed duration and skipped when
// that is unknown, as are scenes shorter than one frame. It returns the
// number of events written.
func WriteEDL(w io.Writer, result *storyboard.Result, opts EDLOptions) (int, error) {
	tc := newTimecoder(EDLFrameRate(opts.FrameRate, result))
	reel := ReelName(result.Video.Name)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "TITLE: %s\n", opts.Title)
	if tc.drop {
		bw.WriteString("FCM: DROP FRAME\n\n")
	} else {
		bw.WriteString("FCM: NON-DROP FRAME\n\n")
	}

	events := 0
	for _, s := range result.Scenes {
		end := s.End
		if s.OpenEnded {
			end = result.Video.Duration
		}
		in, out := tc.frames(s.Start), tc.frames(end)
		if out <= in {
			continue
		}
		events++

		srcIn, srcOut := tc.format(in), tc.format(out)
		fmt.Fprintf(bw, "%03d  %-8s %-5s C        %s %s %s %s\n", events, reel, "V", srcIn, srcOut, srcIn, srcOut)
		if result.Video.Name != "" {
			fmt.Fprintf(bw, "* FROM CLIP NAME:  %s\n", result.Video.Name)
		}
		fmt.Fprintf(bw, "* SCENE %03d  %s\n", s.Index+1, s.TimeRange)
		if s.ImageRef != "" {
			fmt.Fprintf(bw, "* KEYFRAME:  %s\n", s.ImageRef)
		}
		if text := commentText(s.FlatText); text != "" {
			fmt.Fprintf(bw, "* TRANSCRIPT:  %s\n", text)
		}
		if opts.MediaPath != "" {
			fmt.Fprintf(bw, "* SOURCE FILE:  %s\n", opts.MediaPath)
		}
	}

	return events, bw.Flush()
}

// ReelName derives an 8-character CMX reel from a video file name, or "AX"
// when nothing usable is left.
func ReelName(videoName string) string {
	stem := strings.TrimSuffix(videoName, filepath.Ext(videoName))
	var b strings.Builder
	for _, r := range strings.ToUpper(stem) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			if b.Len() == 8 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "AX"
	}
	return b.String()
}

// commentText fits transcript text on one EDL comment line.
func commentText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxCommentRunes {
		return string(runes[:maxCommentRunes-3]) + "..."
	}
	return s
}

type timecoder struct {
	rate float64 // actual frames per second
	fps  int     // nominal timecode base
	drop bool
}

func newTimecoder(rate float64) timecoder {
	fps := int(math.Round(rate))
	if fps <= 0 {
		rate, fps = defaultEDLFrameRate, int(defaultEDLFrameRate)
	}
	drop := math.Abs(rate-29.97) < 0.01 || math.Abs(rate-59.94) < 0.01
	return timecoder{rate: rate, fps: fps, drop: drop}
}

// frames converts seconds to a frame count at the actual rate.
func (t timecoder) frames(seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int(math.Round(seconds * t.rate))
}

// format renders a frame count as HH:MM:SS:FF, or HH:MM:SS;FF with
// SMPTE drop-frame numbering at 29.97 and 59.94.
func (t timecoder) format(frame int) string {
	sep := ":"
	if t.drop {
		sep = ";"
		dropped := t.fps / 15 // 2 at 30, 4 at 60
		perTenMin := int(math.Round(t.rate * 600))
		perMin := t.fps*60 - dropped
		tens, rem := frame/perTenMin, frame%perTenMin
		frame += 9 * dropped * tens
		if rem > dropped {
			frame += dropped * ((rem - dropped) / perMin)
		}
	}
	ff := frame % t.fps
	secs := frame / t.fps
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", secs/3600, secs/60%60, secs%60, sep, ff)
}
