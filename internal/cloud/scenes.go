package cloud

import (
	"fmt"
	"math"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

// SceneIngestPayload is the request body sent to POST /api/ingest/scenes.
type SceneIngestPayload struct {
	RunID           string           `json:"run_id"`
	VideoID         string           `json:"video_id"`
	VideoName       string           `json:"video_name,omitempty"`
	LibraryID       string           `json:"library_id"`
	Detector        string           `json:"detector,omitempty"`
	FellBack        bool             `json:"fell_back,omitempty"`
	Transcriber     string           `json:"transcriber,omitempty"`
	TotalDurationMs int              `json:"total_duration_ms,omitempty"`
	Scenes          []SceneIngestDoc `json:"scenes"`
}

type SceneIngestDoc struct {
	SceneID             string `json:"scene_id"`
	Index               int    `json:"index"`
	StartMs             int    `json:"start_ms"`
	EndMs               int    `json:"end_ms"`
	KeyframeTimestampMs int    `json:"keyframe_timestamp_ms,omitempty"`
	Timestamp           string `json:"timestamp"`
	TranscriptRaw       string `json:"transcript_raw,omitempty"`
	SpeechSegmentCount  int    `json:"speech_segment_count,omitempty"`
	HasKeyframe         bool   `json:"has_keyframe"`
}

// SceneIngestResponse is the response from POST /api/ingest/scenes.
type SceneIngestResponse struct {
	IndexedCount int    `json:"indexed_count"`
	VideoID      string `json:"video_id"`
	SkippedCount int    `json:"skipped_count"`
}

func toMs(s float64) int { return int(math.Round(s * 1000)) }

// NewSceneIngestPayload converts a finished storyboard. Scene IDs are
// stable per video and index.
func NewSceneIngestPayload(result *storyboard.Result, libraryID string) SceneIngestPayload {
	p := SceneIngestPayload{
		RunID:           result.RunID,
		VideoID:         result.Video.ID,
		VideoName:       result.Video.Name,
		LibraryID:       libraryID,
		Detector:        result.Detector,
		FellBack:        result.FellBack,
		Transcriber:     result.Transcriber,
		TotalDurationMs: toMs(result.Video.Duration),
		Scenes:          make([]SceneIngestDoc, len(result.Scenes)),
	}
	for i, s := range result.Scenes {
		p.Scenes[i] = SceneIngestDoc{
			SceneID:             fmt.Sprintf("%s_scene_%d", result.Video.ID, s.Index),
			Index:               s.Index,
			StartMs:             toMs(s.Start),
			EndMs:               toMs(s.End),
			KeyframeTimestampMs: toMs(s.CaptureAt),
			Timestamp:           s.Timestamp,
			TranscriptRaw:       s.DisplayText,
			SpeechSegmentCount:  len(s.Text),
			HasKeyframe:         s.ImageRef != "",
		}
	}
	return p
}
