package api

import (
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string                  `json:"state"`
	Paused       bool                    `json:"paused"`
	CurrentRun   string                  `json:"current_run,omitempty"`
	LastError    string                  `json:"last_error,omitempty"`
	Runs         map[string]int          `json:"runs"`
	EventClients int                     `json:"event_clients"`
	Pipelines    *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type PipelineStatusResponse struct {
	HasScenes   bool   `json:"has_scenes"`
	HasSpeech   bool   `json:"has_speech"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type RunnerResponse struct {
	Paused bool `json:"paused"`
}

// SubmitRunRequest is the JSON form of POST /runs for a video already on
// this machine.
type SubmitRunRequest struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
}

type SubmitRunResponse struct {
	RunID string `json:"run_id"`
}

type RunResponse struct {
	ID        string `json:"id"`
	VideoName string `json:"video_name"`
	VideoPath string `json:"video_path"`
	Language  string `json:"language,omitempty"`
	Source    string `json:"source"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type RunDetailResponse struct {
	RunResponse
	Result *storyboard.Result `json:"result,omitempty"`
}

type ScenesResponse struct {
	RunID  string                   `json:"run_id"`
	Scenes []storyboard.SceneResult `json:"scenes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *catalog.Run) RunResponse {
	return RunResponse{
		ID:        r.ID,
		VideoName: r.VideoName,
		VideoPath: r.VideoPath,
		Language:  r.Language,
		Source:    r.Source,
		Status:    r.Status,
		Stage:     r.Stage,
		Progress:  r.Progress,
		Error:     r.Error,
		ErrorCode: r.ErrorCode,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}
