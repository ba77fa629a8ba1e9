package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

func updateSceneSpecHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req UpdateSceneSpecRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.SuggestedDuration < 0 {
			WriteError(w, http.StatusBadRequest, "suggested_duration must not be negative", "BAD_REQUEST")
			return
		}

		spec := project.SceneSpec{
			Title:             req.Title,
			Description:       req.Description,
			ImagePrompt:       req.ImagePrompt,
			VideoPrompt:       req.VideoPrompt,
			SuggestedDuration: req.SuggestedDuration,
		}
		if err := cfg.Store.ReplaceSceneSpec(r.Context(), projectID, index, spec); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		writeProject(w, cfg, projectID)
	}
}

func updateContinuityHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req ContinuityRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.SelectedSeedFrame != nil && *req.SelectedSeedFrame < 0 {
			WriteError(w, http.StatusBadRequest, "selected_seed_frame must not be negative", "BAD_REQUEST")
			return
		}
		if req.ReferenceImageURLs != nil && len(*req.ReferenceImageURLs) > project.MaxReferenceImages {
			msg := fmt.Sprintf("a scene carries at most %d reference images", project.MaxReferenceImages)
			WriteError(w, http.StatusBadRequest, msg, "BAD_REQUEST")
			return
		}

		upd := project.ContinuityUpdate{
			SeedImageID:        req.SeedImageID,
			CustomImageInput:   req.CustomImageInput,
			UseSeedFrame:       req.UseSeedFrame,
			SelectedSeedFrame:  req.SelectedSeedFrame,
			ReferenceImageURLs: req.ReferenceImageURLs,
			ReferenceImageID:   req.ReferenceImageID,
		}
		if err := cfg.Store.UpdateContinuity(r.Context(), projectID, index, upd); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		writeProject(w, cfg, projectID)
	}
}

// generateImagesHandler kicks off an image batch and returns 202. The
// cheap checks run here so a bad request fails with a status code; the
// authoritative checks run again inside the pipeline. The caller polls the
// project for the outcome, including per-scene last_error.
func generateImagesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req GenerateImagesRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Count != 0 && req.Count != 3 && req.Count != 5 {
			WriteError(w, http.StatusBadRequest, "count must be 3 or 5", "BAD_REQUEST")
			return
		}

		sc, err := sceneAt(cfg, projectID, index)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if !project.CanTransition(sc.Status, project.StatusGeneratingImage) {
			err := fmt.Errorf("scene %d %s -> %s: %w", index, sc.Status, project.StatusGeneratingImage, project.ErrIllegalTransition)
			writeDomainError(w, cfg.Logger, err)
			return
		}

		go func() {
			if _, err := cfg.Pipeline.GenerateImages(context.Background(), projectID, index, req.Count); err != nil {
				cfg.Logger.Warn("image generation failed",
					"project_id", projectID,
					"scene_index", index,
					"error", err,
				)
			}
		}()

		WriteJSON(w, http.StatusAccepted, GenerationStartedResponse{
			Status:     "started",
			SceneIndex: index,
			Kind:       string(project.KindImage),
		})
	}
}

func selectImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req SelectImageRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.ImageID == "" {
			WriteError(w, http.StatusBadRequest, "image_id is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Store.SelectImage(r.Context(), projectID, index, req.ImageID); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		writeProject(w, cfg, projectID)
	}
}

func generateVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		sc, err := sceneAt(cfg, projectID, index)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if !project.CanTransition(sc.Status, project.StatusGeneratingVideo) {
			err := fmt.Errorf("scene %d %s -> %s: %w", index, sc.Status, project.StatusGeneratingVideo, project.ErrIllegalTransition)
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if sc.SelectedImageID == "" {
			WriteError(w, http.StatusConflict, "scene has no selected image to animate", "CONFLICT")
			return
		}

		go func() {
			if _, err := cfg.Pipeline.GenerateVideo(context.Background(), projectID, index); err != nil {
				cfg.Logger.Warn("video generation failed",
					"project_id", projectID,
					"scene_index", index,
					"error", err,
				)
			}
		}()

		WriteJSON(w, http.StatusAccepted, GenerationStartedResponse{
			Status:     "started",
			SceneIndex: index,
			Kind:       string(project.KindVideo),
		})
	}
}

func selectVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req SelectVideoRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Store.SelectVideo(r.Context(), projectID, index, req.VideoID); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		writeProject(w, cfg, projectID)
	}
}

// approveSceneHandler runs synchronously: approval extracts seed frames
// for the next scene, and an extraction failure must fail the request, not
// a log line.
func approveSceneHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		if err := cfg.Pipeline.Approve(r.Context(), projectID, index); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		writeProject(w, cfg, projectID)
	}
}

func regenerateSceneHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		index, err := sceneIndexParam(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid scene index", "BAD_REQUEST")
			return
		}

		var req RegenerateRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		var kind project.GenerationKind
		switch req.Kind {
		case string(project.KindImage):
			kind = project.KindImage
		case string(project.KindVideo):
			kind = project.KindVideo
		default:
			WriteError(w, http.StatusBadRequest, `kind must be "image" or "video"`, "BAD_REQUEST")
			return
		}
		if kind == project.KindImage && req.Count != 0 && req.Count != 3 && req.Count != 5 {
			WriteError(w, http.StatusBadRequest, "count must be 3 or 5", "BAD_REQUEST")
			return
		}

		sc, err := sceneAt(cfg, projectID, index)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		if sc.Status == project.StatusCompleted {
			writeDomainError(w, cfg.Logger, fmt.Errorf("scene %d: %w", index, project.ErrSceneCompleted))
			return
		}
		if kind == project.KindVideo && sc.SelectedImageID == "" {
			WriteError(w, http.StatusConflict, "scene has no selected image to animate", "CONFLICT")
			return
		}

		go func() {
			if _, err := cfg.Pipeline.Regenerate(context.Background(), projectID, index, kind, req.Count); err != nil {
				cfg.Logger.Warn("regeneration failed",
					"project_id", projectID,
					"scene_index", index,
					"kind", string(kind),
					"error", err,
				)
			}
		}()

		WriteJSON(w, http.StatusAccepted, GenerationStartedResponse{
			Status:     "started",
			SceneIndex: index,
			Kind:       string(kind),
		})
	}
}

// sceneAt fetches one scene from the store's current snapshot.
func sceneAt(cfg ServerConfig, projectID string, index int) (*project.SceneState, error) {
	p, err := cfg.Store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.Scenes) {
		return nil, fmt.Errorf("scene %d: %w", index, project.ErrSceneOutOfRange)
	}
	return p.Scenes[index], nil
}
