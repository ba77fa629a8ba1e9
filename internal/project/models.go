// Package project owns the root aggregate: the storyboard, per-scene runtime
// state, and the named store actions that are the only way to mutate any of it.
package project

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelcraft/reelcraft-engine/internal/timeline"
)

// SceneStatus is the closed set of scene lifecycle states.
type SceneStatus string

const (
	StatusPending         SceneStatus = "pending"
	StatusGeneratingImage SceneStatus = "generating_image"
	StatusImageReady      SceneStatus = "image_ready"
	StatusGeneratingVideo SceneStatus = "generating_video"
	StatusVideoReady      SceneStatus = "video_ready"
	StatusCompleted       SceneStatus = "completed"
)

// GenerationKind distinguishes the two candidate kinds a scene produces.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// MaxReferenceImages caps the consistency set a scene can carry.
const MaxReferenceImages = 3

// The generating states carry a self edge: a fresh request of the same
// kind supersedes the running batch instead of being rejected.
var transitions = map[SceneStatus][]SceneStatus{
	StatusPending:         {StatusGeneratingImage},
	StatusGeneratingImage: {StatusImageReady, StatusPending, StatusGeneratingImage},
	StatusImageReady:      {StatusGeneratingVideo, StatusGeneratingImage},
	StatusGeneratingVideo: {StatusVideoReady, StatusImageReady, StatusGeneratingVideo},
	StatusVideoReady:      {StatusCompleted, StatusGeneratingImage, StatusGeneratingVideo},
	StatusCompleted:       {},
}

// CanTransition reports whether moving from one status to another is a legal
// edge of the scene state machine.
func CanTransition(from, to SceneStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Generating reports whether the status has an in-flight generation.
func (s SceneStatus) Generating() bool {
	return s == StatusGeneratingImage || s == StatusGeneratingVideo
}

// SceneSpec is one immutable storyboard entry. Edits replace the whole value
// at the same index; specs are never mutated in place.
type SceneSpec struct {
	ID                string  `json:"id"`
	Order             int     `json:"order"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	ImagePrompt       string  `json:"image_prompt"`
	VideoPrompt       string  `json:"video_prompt"`
	SuggestedDuration float64 `json:"suggested_duration"`
}

// SceneState is the runtime state paired with the SceneSpec at the same index.
type SceneState struct {
	Status          SceneStatus       `json:"status"`
	GeneratedImages []*GeneratedImage `json:"generated_images"`
	SelectedImageID string            `json:"selected_image_id,omitempty"`
	GeneratedVideos []*GeneratedVideo `json:"generated_videos"`
	SelectedVideoID string            `json:"selected_video_id,omitempty"`

	// SeedFrames are stills extracted from the previous scene's approved
	// video, attached here for this scene's continuity use.
	SeedFrames        []*SeedFrame `json:"seed_frames"`
	SelectedSeedFrame int          `json:"selected_seed_frame"`

	SeedImageID      string `json:"seed_image_id,omitempty"`
	CustomImageInput string `json:"custom_image_input,omitempty"`
	UseSeedFrame     bool   `json:"use_seed_frame"`

	ReferenceImageURLs []string `json:"reference_image_urls,omitempty"`
	ReferenceImageID   string   `json:"reference_image_id,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

func NewSceneState() *SceneState {
	return &SceneState{
		Status:          StatusPending,
		GeneratedImages: []*GeneratedImage{},
		GeneratedVideos: []*GeneratedVideo{},
		SeedFrames:      []*SeedFrame{},
		UseSeedFrame:    true,
	}
}

func (s *SceneState) FindImage(id string) *GeneratedImage {
	for _, img := range s.GeneratedImages {
		if img.ID == id {
			return img
		}
	}
	return nil
}

func (s *SceneState) FindVideo(id string) *GeneratedVideo {
	for _, v := range s.GeneratedVideos {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// SelectedVideo returns the currently selected video, or nil.
func (s *SceneState) SelectedVideo() *GeneratedVideo {
	if s.SelectedVideoID == "" {
		return nil
	}
	return s.FindVideo(s.SelectedVideoID)
}

func (s *SceneState) Clone() *SceneState {
	dup := *s
	dup.GeneratedImages = make([]*GeneratedImage, len(s.GeneratedImages))
	for i, img := range s.GeneratedImages {
		c := *img
		dup.GeneratedImages[i] = &c
	}
	dup.GeneratedVideos = make([]*GeneratedVideo, len(s.GeneratedVideos))
	for i, v := range s.GeneratedVideos {
		c := *v
		dup.GeneratedVideos[i] = &c
	}
	dup.SeedFrames = make([]*SeedFrame, len(s.SeedFrames))
	for i, f := range s.SeedFrames {
		c := *f
		dup.SeedFrames[i] = &c
	}
	dup.ReferenceImageURLs = append([]string(nil), s.ReferenceImageURLs...)
	return &dup
}

type GeneratedImage struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	LocalPath  string    `json:"local_path,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	Prompt     string    `json:"prompt"`
	CreatedAt  time.Time `json:"created_at"`
}

type GeneratedVideo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	LocalPath  string    `json:"local_path,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	Prompt     string    `json:"prompt"`
	IsSelected bool      `json:"is_selected"`
	Duration   float64   `json:"duration"`
	CreatedAt  time.Time `json:"created_at"`
}

// SeedFrame is a still extracted from an approved video, used to seed the
// consuming scene's generation for visual continuity.
type SeedFrame struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	LocalPath string  `json:"local_path,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// ReferenceImage is a project-level upload used for style/object consistency.
type ReferenceImage struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Project is the root aggregate. finalVideoUrl is set once and terminal.
type Project struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Idea              string            `json:"idea"`
	AspectRatio       string            `json:"aspect_ratio"`
	TargetDuration    int               `json:"target_duration"`
	Storyboard        []SceneSpec       `json:"storyboard"`
	Scenes            []*SceneState     `json:"scenes"`
	ReferenceImages   []*ReferenceImage `json:"reference_images,omitempty"`
	Clips             []*timeline.Clip  `json:"clips,omitempty"`
	TimelineEdited    bool              `json:"timeline_edited"`
	CurrentSceneIndex int               `json:"current_scene_index"`
	PreviewURL        string            `json:"preview_url,omitempty"`
	FinalVideoURL     string            `json:"final_video_url,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func NewProject(name, idea, aspectRatio string, targetDuration int) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:             NewID(),
		Name:           name,
		Idea:           idea,
		AspectRatio:    aspectRatio,
		TargetDuration: targetDuration,
		Storyboard:     []SceneSpec{},
		Scenes:         []*SceneState{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ApplyStoryboard installs the planned scenes. Each spec gets a fresh
// scene state; any previous board is replaced.
func (p *Project) ApplyStoryboard(specs []SceneSpec) {
	p.Storyboard = make([]SceneSpec, len(specs))
	p.Scenes = make([]*SceneState, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			spec.ID = NewID()
		}
		spec.Order = i
		p.Storyboard[i] = spec
		p.Scenes[i] = NewSceneState()
	}
	p.CurrentSceneIndex = 0
}

// ValidScene reports whether i addresses an existing scene.
func (p *Project) ValidScene(i int) bool {
	return i >= 0 && i < len(p.Scenes) && i < len(p.Storyboard)
}

// MediaURL resolves a media drawer id across generated images, seed frames
// and project reference images. Returns the servable URL.
func (p *Project) MediaURL(id string) (string, bool) {
	for _, scene := range p.Scenes {
		for _, img := range scene.GeneratedImages {
			if img.ID == id {
				return img.URL, true
			}
		}
		for _, f := range scene.SeedFrames {
			if f.ID == id {
				return f.URL, true
			}
		}
	}
	for _, ref := range p.ReferenceImages {
		if ref.ID == id {
			return ref.URL, true
		}
	}
	return "", false
}

func (p *Project) Clone() *Project {
	dup := *p
	dup.Storyboard = append([]SceneSpec(nil), p.Storyboard...)
	dup.Scenes = make([]*SceneState, len(p.Scenes))
	for i, s := range p.Scenes {
		dup.Scenes[i] = s.Clone()
	}
	dup.ReferenceImages = make([]*ReferenceImage, len(p.ReferenceImages))
	for i, r := range p.ReferenceImages {
		c := *r
		dup.ReferenceImages[i] = &c
	}
	dup.Clips = timeline.CloneClips(p.Clips)
	return &dup
}

func NewID() string {
	return uuid.NewString()
}
