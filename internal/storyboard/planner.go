// Package storyboard turns a one-line video idea into an ordered list of
// scene specs. A language model writes the creative fields; the scene count
// and per-scene durations are fixed by the target length so the timeline
// math never depends on model output.
package storyboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/project"
)

// sceneCounts maps a supported target duration to the number of scenes the
// storyboard carries. Durations outside this table are rejected up front.
var sceneCounts = map[int]int{
	15: 2,
	30: 3,
	45: 5,
	60: 7,
}

// SceneCount returns the scene count for a target duration in seconds.
func SceneCount(durationSeconds int) (int, error) {
	n, ok := sceneCounts[durationSeconds]
	if !ok {
		return 0, generation.NewError(generation.KindValidation, "plan storyboard",
			fmt.Sprintf("unsupported target duration %ds (supported: 15, 30, 45, 60)", durationSeconds))
	}
	return n, nil
}

// PlanRequest is one storyboard drafting call. SceneCount is authoritative:
// the client must return exactly that many scenes.
type PlanRequest struct {
	Idea            string
	SceneCount      int
	DurationSeconds int
	AspectRatio     string
}

// ScenePlan is the creative portion of one scene as drafted by the text
// client. Identity, order and duration are assigned by the planner.
type ScenePlan struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt"`
	VideoPrompt string `json:"video_prompt"`
}

// TextClient drafts scene content for a video idea.
type TextClient interface {
	PlanScenes(ctx context.Context, req PlanRequest) ([]ScenePlan, error)
}

// Planner produces complete scene specs ready to install on a project.
type Planner struct {
	client TextClient
	logger *slog.Logger
}

func NewPlanner(client TextClient, logger *slog.Logger) *Planner {
	return &Planner{client: client, logger: logger}
}

// Plan drafts a storyboard for the idea. The returned specs carry fresh ids,
// ascending order and suggested durations that sum to the target exactly.
func (p *Planner) Plan(ctx context.Context, idea string, durationSeconds int, aspectRatio string) ([]project.SceneSpec, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return nil, generation.NewError(generation.KindValidation, "plan storyboard", "video idea must not be empty")
	}
	count, err := SceneCount(durationSeconds)
	if err != nil {
		return nil, err
	}

	plans, err := p.client.PlanScenes(ctx, PlanRequest{
		Idea:            idea,
		SceneCount:      count,
		DurationSeconds: durationSeconds,
		AspectRatio:     aspectRatio,
	})
	if err != nil {
		return nil, generation.WrapError(generation.KindExternal, "plan storyboard", err)
	}
	if len(plans) != count {
		return nil, generation.NewError(generation.KindExternal, "plan storyboard",
			fmt.Sprintf("text client returned %d scenes, want %d", len(plans), count))
	}

	durations := distributeDurations(durationSeconds, count)
	specs := make([]project.SceneSpec, count)
	for i, plan := range plans {
		spec, err := buildSpec(i, plan, durations[i])
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	p.logger.Info("storyboard planned",
		"scene_count", count,
		"target_duration", durationSeconds,
	)
	return specs, nil
}

func buildSpec(i int, plan ScenePlan, duration float64) (project.SceneSpec, error) {
	title := strings.TrimSpace(plan.Title)
	description := strings.TrimSpace(plan.Description)
	imagePrompt := strings.TrimSpace(plan.ImagePrompt)
	videoPrompt := strings.TrimSpace(plan.VideoPrompt)

	if title == "" {
		title = fmt.Sprintf("Scene %d", i+1)
	}
	if imagePrompt == "" {
		imagePrompt = description
	}
	if videoPrompt == "" {
		videoPrompt = description
	}
	if imagePrompt == "" {
		return project.SceneSpec{}, generation.NewError(generation.KindExternal, "plan storyboard",
			fmt.Sprintf("scene %d has neither an image prompt nor a description", i+1))
	}

	return project.SceneSpec{
		ID:                project.NewID(),
		Order:             i,
		Title:             title,
		Description:       description,
		ImagePrompt:       imagePrompt,
		VideoPrompt:       videoPrompt,
		SuggestedDuration: duration,
	}, nil
}

// distributeDurations splits the target across count scenes in whole
// seconds. Earlier scenes absorb the remainder, so the sum is exact.
func distributeDurations(target, count int) []float64 {
	base := target / count
	rem := target % count
	out := make([]float64, count)
	for i := range out {
		d := base
		if i < rem {
			d++
		}
		out[i] = float64(d)
	}
	return out
}

// stubCameraMoves gives the stub some variety across scenes.
var stubCameraMoves = []string{
	"slow push-in toward the subject",
	"tracking shot drifting right",
	"handheld close-up with shallow focus",
	"wide establishing shot, gentle pan left",
	"tilt-down reveal from above",
}

// StubTextClient fabricates a deterministic storyboard without calling a
// language model, which keeps the engine exercisable without credentials.
type StubTextClient struct {
	logger *slog.Logger
}

func NewStubTextClient(logger *slog.Logger) *StubTextClient {
	return &StubTextClient{logger: logger}
}

func (c *StubTextClient) PlanScenes(ctx context.Context, req PlanRequest) ([]ScenePlan, error) {
	c.logger.Info("storyboard stub: drafting without a language model",
		"scene_count", req.SceneCount,
	)
	plans := make([]ScenePlan, req.SceneCount)
	for i := range plans {
		n := i + 1
		plans[i] = ScenePlan{
			Title:       fmt.Sprintf("Scene %d", n),
			Description: fmt.Sprintf("Beat %d of %d for: %s", n, req.SceneCount, req.Idea),
			ImagePrompt: fmt.Sprintf("%s, key visual %d of %d, cinematic lighting, %s frame", req.Idea, n, req.SceneCount, req.AspectRatio),
			VideoPrompt: stubCameraMoves[i%len(stubCameraMoves)],
		}
	}
	return plans, nil
}
