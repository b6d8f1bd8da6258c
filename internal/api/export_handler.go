package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-storyboard/internal/export"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

// exportRunHandler streams a finished storyboard in the requested format.
// Output is rendered into memory first so a failure still yields a proper
// error status.
func exportRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(strings.ToLower(chi.URLParam(r, "format")))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		run, result := lookupResult(cfg, w, r)
		if result == nil {
			return
		}

		var buf bytes.Buffer
		switch format {
		case export.FormatTSV:
			err = export.WriteTSV(&buf, result.Scenes)
		case export.FormatCSV:
			err = export.WriteCSV(&buf, result.Scenes)
		case export.FormatZIP:
			err = export.WriteZIP(&buf, result, run.Workspace)
		case export.FormatEDL:
			_, err = export.WriteEDL(&buf, result, export.EDLOptions{
				Title:     exportTitle(result),
				MediaPath: run.VideoPath,
			})
		}
		if err != nil {
			cfg.Logger.Error("export failed", "run_id", run.ID, "format", format, "error", err)
			WriteError(w, http.StatusInternalServerError, "export failed", "EXPORT_FAILED")
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.ExportName(result.Video.Name, result.RunID, string(format))))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func galleryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, result := lookupResult(cfg, w, r)
		if result == nil {
			return
		}

		var buf bytes.Buffer
		if err := export.WriteGallery(&buf, result, run.Workspace, cfg.Logger); err != nil {
			cfg.Logger.Error("gallery render failed", "run_id", run.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "gallery render failed", "EXPORT_FAILED")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func exportTitle(result *storyboard.Result) string {
	return export.Stem(result.Video.Name, "heimdex_storyboard")
}

// exportEDLHandler writes a run's scene cuts as an EDL file into a local
// directory, for import into an editor.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.EDLRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.RunID == "" {
			WriteError(w, http.StatusBadRequest, "run_id is required", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if req.FrameRate < 0 {
			WriteError(w, http.StatusBadRequest, "frame_rate must not be negative", "BAD_REQUEST")
			return
		}

		run, err := cfg.Service.GetRun(r.Context(), req.RunID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}
		result, err := cfg.Service.GetResult(r.Context(), run.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if result == nil {
			WriteError(w, http.StatusConflict, "run is "+run.Status, "RUN_NOT_COMPLETED")
			return
		}

		projectName := export.CleanName(req.ProjectName, 120)
		if projectName == "" {
			projectName = exportTitle(result)
		}

		var edl bytes.Buffer
		events, err := export.WriteEDL(&edl, result, export.EDLOptions{
			Title:     projectName,
			FrameRate: req.FrameRate,
			MediaPath: run.VideoPath,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to render EDL", "INTERNAL_ERROR")
			return
		}
		if events == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "run has no scenes with a known length", "UNRESOLVABLE_CLIPS")
			return
		}

		outputPath := filepath.Join(req.OutputDir, projectName+".edl")
		if err := os.WriteFile(outputPath, edl.Bytes(), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, export.EDLResponse{
			Status:     "ok",
			Format:     "edl",
			OutputPath: outputPath,
			EventCount: events,
		})
	}
}
