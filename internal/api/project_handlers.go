package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

// createProjectHandler plans a storyboard for the idea and creates the
// project in one call. Planning is synchronous: it is a single text-model
// round trip, and the UI cannot render anything useful without the board.
func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Idea) == "" {
			WriteError(w, http.StatusBadRequest, "idea is required", "BAD_REQUEST")
			return
		}

		aspect := req.AspectRatio
		if aspect == "" {
			aspect = "9:16"
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = projectNameFromIdea(req.Idea)
		}

		specs, err := cfg.Planner.Plan(r.Context(), req.Idea, req.DurationSeconds, aspect)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		p := project.NewProject(name, req.Idea, aspect, req.DurationSeconds)
		p.ApplyStoryboard(specs)
		if err := cfg.Store.CreateProject(r.Context(), p); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}

		created, err := cfg.Store.GetProject(p.ID)
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := cfg.Store.ListProjects()
		summaries := make([]ProjectSummary, 0, len(projects))
		for _, p := range projects {
			summaries = append(summaries, ProjectToSummary(p))
		}
		WriteJSON(w, http.StatusOK, summaries)
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.Store.GetProject(chi.URLParam(r, "projectID"))
		if err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		if err := cfg.Store.DeleteProject(r.Context(), projectID); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		cfg.Renderer.Cancel(projectID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func addReferenceImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddReferenceImageRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}

		ref := &project.ReferenceImage{
			ID:   project.NewID(),
			URL:  req.URL,
			Name: req.Name,
		}
		if err := cfg.Store.AddReferenceImage(r.Context(), chi.URLParam(r, "projectID"), ref); err != nil {
			writeDomainError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ref)
	}
}

// projectNameFromIdea derives a display name from the first words of the
// idea when the caller did not name the project.
func projectNameFromIdea(idea string) string {
	runes := []rune(strings.TrimSpace(idea))
	if len(runes) > 48 {
		runes = runes[:48]
	}
	name := strings.TrimSpace(string(runes))
	if name == "" {
		return "Untitled Project"
	}
	return name
}
