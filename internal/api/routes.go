package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

const listRunsLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))

		r.Post("/runs", submitRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/scenes", scenesHandler(cfg))
		r.Get("/runs/{id}/export/{format}", exportRunHandler(cfg))
		r.Get("/runs/{id}/gallery", galleryHandler(cfg))
		r.Get("/runs/{id}/events", eventsHandler(cfg))
		r.Post("/export/edl", exportEDLHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/runs/{id}/frames/{index}", frameHandler(cfg))
			r.Head("/runs/{id}/frames/{index}", frameHandler(cfg))
			r.Get("/runs/{id}/video", videoHandler(cfg))
			r.Head("/runs/{id}/video", videoHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := cfg.Service.CountRuns(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count runs", "INTERNAL_ERROR")
			return
		}
		for _, s := range []string{catalog.RunStatusPending, catalog.RunStatusRunning, catalog.RunStatusCompleted, catalog.RunStatusFailed} {
			if _, ok := counts[s]; !ok {
				counts[s] = 0
			}
		}

		resp := StatusResponse{State: "idle", Runs: counts}
		if cfg.Runner != nil {
			resp.Paused = cfg.Runner.IsPaused()
			resp.CurrentRun = cfg.Runner.CurrentRun()
		}
		switch {
		case resp.Paused:
			resp.State = "paused"
		case resp.CurrentRun != "" || counts[catalog.RunStatusRunning] > 0:
			resp.State = "processing"
		}

		if recent, err := cfg.Service.ListRuns(ctx, 1); err == nil && len(recent) > 0 {
			if latest := recent[0]; latest.Status == catalog.RunStatusFailed {
				resp.LastError = latest.Error
				if resp.State == "idle" {
					resp.State = "error"
				}
			}
		}

		if cfg.Events != nil {
			resp.EventClients = cfg.Events.ClientCount()
		}

		// Peek only; probing can take seconds and belongs to startup.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipelines = &PipelineStatusResponse{
					HasScenes:   caps.HasScenes,
					HasSpeech:   caps.HasSpeech,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
					DepsAvail:   caps.Summary.Available,
					DepsTotal:   caps.Summary.Total,
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: true})
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: false})
	}
}

// submitRunHandler accepts either a multipart upload (field "video") or a
// JSON body naming a local path.
func submitRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var (
			run *catalog.Run
			err error
		)
		if mediaType == "multipart/form-data" {
			if cfg.MaxUploadBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
			}
			file, header, ferr := r.FormFile("video")
			if ferr != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(ferr, &tooLarge) {
					WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
					return
				}
				WriteError(w, http.StatusBadRequest, "multipart field \"video\" is required", "BAD_REQUEST")
				return
			}
			defer file.Close()
			run, err = cfg.Service.SaveUpload(r.Context(), header.Filename, file, r.FormValue("language"))
		} else {
			var req SubmitRunRequest
			if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
			if req.Path == "" {
				WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
				return
			}
			run, err = cfg.Service.Submit(r.Context(), req.Path, req.Language, catalog.RunSourceAPI)
		}

		if err != nil {
			writeSubmitError(w, err)
			return
		}
		w.Header().Set("Location", "/runs/"+run.ID)
		WriteJSON(w, http.StatusAccepted, SubmitRunResponse{RunID: run.ID})
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrVideoNotFound):
		WriteError(w, http.StatusBadRequest, err.Error(), "VIDEO_NOT_FOUND")
	case errors.Is(err, catalog.ErrNotAFile):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, catalog.ErrUnsupportedVideo):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_VIDEO")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := listRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}

		runs, err := cfg.Service.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// lookupRun writes the error response itself and returns nil when the run
// cannot be served.
func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) *catalog.Run {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
		return nil
	}
	run, err := cfg.Service.GetRun(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil
	}
	if run == nil {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil
	}
	return run
}

// lookupResult is lookupRun for routes that need a finished storyboard.
func lookupResult(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Run, *storyboard.Result) {
	run := lookupRun(cfg, w, r)
	if run == nil {
		return nil, nil
	}
	if run.Status != catalog.RunStatusCompleted {
		WriteError(w, http.StatusConflict, "run is "+run.Status, "RUN_NOT_COMPLETED")
		return nil, nil
	}
	result, err := cfg.Service.GetResult(r.Context(), run.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, nil
	}
	if result == nil {
		WriteError(w, http.StatusNotFound, "result not found", "NOT_FOUND")
		return nil, nil
	}
	return run, result
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := lookupRun(cfg, w, r)
		if run == nil {
			return
		}
		resp := RunDetailResponse{RunResponse: RunToResponse(run)}
		if run.Status == catalog.RunStatusCompleted {
			result, err := cfg.Service.GetResult(r.Context(), run.ID)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			resp.Result = result
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func scenesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := lookupRun(cfg, w, r)
		if run == nil {
			return
		}
		if run.Status != catalog.RunStatusCompleted {
			WriteError(w, http.StatusConflict, "run is "+run.Status, "RUN_NOT_COMPLETED")
			return
		}
		scenes, err := cfg.Service.GetScenes(r.Context(), run.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if scenes == nil {
			scenes = []storyboard.SceneResult{}
		}
		WriteJSON(w, http.StatusOK, ScenesResponse{RunID: run.ID, Scenes: scenes})
	}
}

func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			WriteError(w, http.StatusBadRequest, "scene index must be a non-negative integer", "BAD_REQUEST")
			return
		}
		run, result := lookupResult(cfg, w, r)
		if result == nil {
			return
		}

		var ref string
		for _, s := range result.Scenes {
			if s.Index == index {
				ref = s.ImageRef
				break
			}
		}
		if ref == "" {
			WriteError(w, http.StatusNotFound, "no keyframe for scene", "NOT_FOUND")
			return
		}

		if err := cfg.PlaybackServer.ServeRef(w, r, run.Workspace, ref); err != nil {
			cfg.Logger.Error("frame serve error", "error", err, "run_id", run.ID, "index", index)
		}
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := lookupRun(cfg, w, r)
		if run == nil {
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, run.VideoPath); err != nil {
			cfg.Logger.Error("playback error", "error", err, "run_id", run.ID)
		}
	}
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Events == nil {
			WriteError(w, http.StatusServiceUnavailable, "event stream not available", "UNAVAILABLE")
			return
		}
		run := lookupRun(cfg, w, r)
		if run == nil {
			return
		}
		cfg.Events.ServeWS(w, r, run.ID)
	}
}
