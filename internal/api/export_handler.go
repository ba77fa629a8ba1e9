package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reelcraft/reelcraft-engine/internal/export"
)

// exportHandler writes the project's timeline as a CMX3600 EDL into a
// caller-chosen directory so the cut can be finished in a desktop NLE.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		var req ExportRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Format != "edl" {
			WriteError(w, http.StatusBadRequest, `format must be "edl"`, "UNSUPPORTED_FORMAT")
			return
		}
		if req.OutputDir == "" {
			WriteError(w, http.StatusBadRequest, "output_dir is required", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		p, err := cfg.Store.GetProject(projectID)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if len(p.Clips) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "timeline has no clips", "EMPTY_TIMELINE")
			return
		}

		edl := export.EDL(p.Clips, export.Options{
			Title:     p.Name,
			FrameRate: req.FrameRate,
		})
		path, err := export.WriteFile(req.OutputDir, p.Name, edl)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		cfg.Logger.Info("timeline exported",
			"project_id", projectID,
			"output_path", path,
			"clip_count", len(p.Clips),
		)
		WriteJSON(w, http.StatusOK, ExportResponse{
			Format:     "edl",
			OutputPath: path,
			ClipCount:  len(p.Clips),
		})
	}
}
