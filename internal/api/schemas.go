package api

import (
	"time"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

// Request payloads.
//
// Project detail responses serialize the project aggregate directly: its
// types are wire-shaped already (they persist as JSON documents) and the
// store hands out deep clones, so there is nothing to hide or copy.

type CreateProjectRequest struct {
	Name            string `json:"name,omitempty"`
	Idea            string `json:"idea"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

// UpdateSceneSpecRequest replaces the storyboard entry at an index. The
// scene's identity and order are preserved; everything else is overwritten.
type UpdateSceneSpecRequest struct {
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	ImagePrompt       string  `json:"image_prompt"`
	VideoPrompt       string  `json:"video_prompt"`
	SuggestedDuration float64 `json:"suggested_duration"`
}

type GenerateImagesRequest struct {
	Count int `json:"count,omitempty"`
}

type SelectImageRequest struct {
	ImageID string `json:"image_id"`
}

type SelectVideoRequest struct {
	VideoID string `json:"video_id"`
}

type RegenerateRequest struct {
	Kind  string `json:"kind"`
	Count int    `json:"count,omitempty"`
}

// ContinuityRequest patches a scene's continuity inputs. Nil fields are
// left untouched; sending a zero value clears the field.
type ContinuityRequest struct {
	SeedImageID        *string   `json:"seed_image_id,omitempty"`
	CustomImageInput   *string   `json:"custom_image_input,omitempty"`
	UseSeedFrame       *bool     `json:"use_seed_frame,omitempty"`
	SelectedSeedFrame  *int      `json:"selected_seed_frame,omitempty"`
	ReferenceImageURLs *[]string `json:"reference_image_urls,omitempty"`
	ReferenceImageID   *string   `json:"reference_image_id,omitempty"`
}

type AddReferenceImageRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type RefreshTimelineRequest struct {
	Force bool `json:"force,omitempty"`
}

type SplitClipRequest struct {
	AtTime float64 `json:"at_time"`
}

type CropClipRequest struct {
	TrimStart float64 `json:"trim_start"`
	TrimEnd   float64 `json:"trim_end"`
}

type ExportRequest struct {
	Format    string  `json:"format"`
	OutputDir string  `json:"output_dir"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

// Response payloads.

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Retryable is set for generation failures the UI should offer a
	// retry for. Validation and conflict errors are never retryable.
	Retryable bool `json:"retryable"`
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Projects      int    `json:"projects"`
	ActiveScenes  int    `json:"active_scenes"`
}

// ProjectSummary is the list-endpoint shape: enough to render a project
// picker without shipping every scene's candidate drawers.
type ProjectSummary struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Idea              string `json:"idea"`
	AspectRatio       string `json:"aspect_ratio"`
	TargetDuration    int    `json:"target_duration"`
	SceneCount        int    `json:"scene_count"`
	CompletedScenes   int    `json:"completed_scenes"`
	CurrentSceneIndex int    `json:"current_scene_index"`
	PreviewURL        string `json:"preview_url,omitempty"`
	FinalVideoURL     string `json:"final_video_url,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func ProjectToSummary(p *project.Project) ProjectSummary {
	completed := 0
	for _, sc := range p.Scenes {
		if sc.Status == project.StatusCompleted {
			completed++
		}
	}
	return ProjectSummary{
		ID:                p.ID,
		Name:              p.Name,
		Idea:              p.Idea,
		AspectRatio:       p.AspectRatio,
		TargetDuration:    p.TargetDuration,
		SceneCount:        len(p.Scenes),
		CompletedScenes:   completed,
		CurrentSceneIndex: p.CurrentSceneIndex,
		PreviewURL:        p.PreviewURL,
		FinalVideoURL:     p.FinalVideoURL,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.Format(time.RFC3339),
	}
}

// GenerationStartedResponse acknowledges an accepted generation request.
// The caller polls the project for the outcome.
type GenerationStartedResponse struct {
	Status     string `json:"status"`
	SceneIndex int    `json:"scene_index"`
	Kind       string `json:"kind"`
}

type PreviewScheduledResponse struct {
	Status string `json:"status"`
}

type StitchResponse struct {
	FinalVideoURL string `json:"final_video_url"`
}

type ExportResponse struct {
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count"`
}
