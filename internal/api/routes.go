package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

// NewRouter builds the engine's route tree. Health stays open for liveness
// probes and media stays open for browser <video> tags, which cannot attach
// an Authorization header; artifact keys are unguessable UUIDs and the
// server only listens on loopback. Everything else requires the bearer
// token.
func NewRouter(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/media/*", mediaHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Repo, cfg.Logger))

			r.Get("/status", statusHandler(cfg))

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", createProjectHandler(cfg))
				r.Get("/", listProjectsHandler(cfg))

				r.Route("/{projectID}", func(r chi.Router) {
					r.Get("/", getProjectHandler(cfg))
					r.Delete("/", deleteProjectHandler(cfg))
					r.Post("/references", addReferenceImageHandler(cfg))

					r.Route("/scenes/{sceneIndex}", func(r chi.Router) {
						r.Patch("/", updateSceneSpecHandler(cfg))
						r.Patch("/continuity", updateContinuityHandler(cfg))
						r.Post("/images", generateImagesHandler(cfg))
						r.Post("/images/select", selectImageHandler(cfg))
						r.Post("/video", generateVideoHandler(cfg))
						r.Post("/video/select", selectVideoHandler(cfg))
						r.Post("/approve", approveSceneHandler(cfg))
						r.Post("/regenerate", regenerateSceneHandler(cfg))
					})

					r.Route("/timeline", func(r chi.Router) {
						r.Post("/refresh", refreshTimelineHandler(cfg))
						r.Post("/clips/{clipID}/split", splitClipHandler(cfg))
						r.Post("/clips/{clipID}/crop", cropClipHandler(cfg))
						r.Delete("/clips/{clipID}", deleteClipHandler(cfg))
					})

					r.Post("/preview", previewHandler(cfg))
					r.Post("/stitch", stitchHandler(cfg))
					r.Post("/export", exportHandler(cfg))
				})
			})
		})
	})

	return r
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := cfg.Store.ListProjects()
		active := 0
		for _, p := range projects {
			for _, sc := range p.Scenes {
				if sc.Status == project.StatusGeneratingImage || sc.Status == project.StatusGeneratingVideo {
					active++
				}
			}
		}
		state := "idle"
		if active > 0 {
			state = "generating"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			Status:        state,
			Version:       cfg.Version,
			UptimeSeconds: int64(time.Since(cfg.StartTime).Seconds()),
			Projects:      len(projects),
			ActiveScenes:  active,
		})
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Playback.ServeKey(w, r, chi.URLParam(r, "*"))
	}
}

// decodeBody decodes a JSON request body into dst. An empty body leaves
// dst at its zero value; any other decode failure is the caller's 400.
func decodeBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func sceneIndexParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "sceneIndex"))
}

// writeProject responds with the project's fresh state. State-changing
// endpoints all end here so the UI re-renders from one shape.
func writeProject(w http.ResponseWriter, cfg ServerConfig, projectID string) {
	p, err := cfg.Store.GetProject(projectID)
	if err != nil {
		writeDomainError(w, cfg.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}
