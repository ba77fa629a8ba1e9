package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Clip edits schedule a debounced preview re-render on success, so a burst
// of edits settles into one compositor run.

func refreshTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		var req RefreshTimelineRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.Store.RefreshTimeline(r.Context(), projectID, req.Force); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		cfg.Renderer.SchedulePreview(projectID)
		writeProject(w, cfg, projectID)
	}
}

func splitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		clipID := chi.URLParam(r, "clipID")

		var req SplitClipRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.Store.SplitClip(r.Context(), projectID, clipID, req.AtTime); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		cfg.Renderer.SchedulePreview(projectID)
		writeProject(w, cfg, projectID)
	}
}

func cropClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		clipID := chi.URLParam(r, "clipID")

		var req CropClipRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.TrimStart < 0 || req.TrimEnd < 0 {
			WriteError(w, http.StatusBadRequest, "trims must not be negative", "BAD_REQUEST")
			return
		}

		if err := cfg.Store.CropClip(r.Context(), projectID, clipID, req.TrimStart, req.TrimEnd); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		cfg.Renderer.SchedulePreview(projectID)
		writeProject(w, cfg, projectID)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		clipID := chi.URLParam(r, "clipID")

		if err := cfg.Store.DeleteClip(r.Context(), projectID, clipID); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		cfg.Renderer.SchedulePreview(projectID)
		writeProject(w, cfg, projectID)
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		if _, err := cfg.Store.GetProject(projectID); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		cfg.Renderer.SchedulePreview(projectID)
		WriteJSON(w, http.StatusAccepted, PreviewScheduledResponse{Status: "scheduled"})
	}
}

// stitchHandler blocks until the final render completes. Stitching is the
// last action on a project and the UI shows a blocking progress state.
func stitchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		url, err := cfg.Renderer.Stitch(r.Context(), projectID)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, StitchResponse{FinalVideoURL: url})
	}
}
