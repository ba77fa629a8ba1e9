// Package scene drives generation for a single scene: fanning out image
// candidates, animating the selected image, and carrying continuity frames
// forward on approval. All state changes go through the project store; the
// pipeline only talks to providers and the filesystem.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/reelcraft/reelcraft-engine/internal/continuity"
	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/media"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/storage"
)

// DefaultCandidateCount is the image fan-out when the caller does not ask
// for a specific batch size.
const DefaultCandidateCount = 3

// Config tunes one pipeline instance. Zero values fall back to safe
// defaults in NewPipeline.
type Config struct {
	ImageModel     string
	VideoModel     string
	PollOptions    generation.PollOptions
	VideoPoll      generation.PollOptions
	Retry          generation.RetryPolicy
	Concurrency    int
	SeedFrameCount int
	ScratchDir     string
}

type Pipeline struct {
	cfg    Config
	store  *project.Store
	client generation.Client
	media  media.Tool
	remote storage.Store
	local  *storage.LocalStore
	retry  generation.RetryPolicy
	logger *slog.Logger
}

// NewPipeline wires the generation driver. remote may be nil; artifacts
// then stay on the local store only.
func NewPipeline(cfg Config, store *project.Store, client generation.Client, tool media.Tool, remote storage.Store, local *storage.LocalStore, logger *slog.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.SeedFrameCount < 1 {
		cfg.SeedFrameCount = 3
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "reelcraft-scratch")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = generation.DefaultRetryPolicy(logger)
	}
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		client: client,
		media:  tool,
		remote: remote,
		local:  local,
		retry:  cfg.Retry,
		logger: logger,
	}
}

// GenerateImages runs an image batch for the scene and returns the status
// the scene settled at. count is the candidate fan-out; 0 means the
// default. The call blocks until every task in the batch resolves.
func (p *Pipeline) GenerateImages(ctx context.Context, projectID string, sceneIndex, count int) (project.SceneStatus, error) {
	if count == 0 {
		count = DefaultCandidateCount
	}
	if count != 3 && count != 5 {
		return "", generation.NewError(generation.KindValidation, "generate images", "candidate count must be 3 or 5")
	}
	if _, err := p.imagePrompt(projectID, sceneIndex); err != nil {
		return "", err
	}

	ticket, err := p.store.BeginImageGeneration(ctx, projectID, sceneIndex)
	if err != nil {
		return "", err
	}
	return p.runImageBatch(ctx, ticket, count)
}

// GenerateVideo animates the scene's selected image and returns the status
// the scene settled at.
func (p *Pipeline) GenerateVideo(ctx context.Context, projectID string, sceneIndex int) (project.SceneStatus, error) {
	if _, err := p.videoPrompt(projectID, sceneIndex); err != nil {
		return "", err
	}

	ticket, err := p.store.BeginVideoGeneration(ctx, projectID, sceneIndex)
	if err != nil {
		return "", err
	}
	return p.runVideoTask(ctx, ticket)
}

// Regenerate discards the named kind's candidates and runs a fresh batch.
func (p *Pipeline) Regenerate(ctx context.Context, projectID string, sceneIndex int, kind project.GenerationKind, count int) (project.SceneStatus, error) {
	switch kind {
	case project.KindImage:
		if count == 0 {
			count = DefaultCandidateCount
		}
		if count != 3 && count != 5 {
			return "", generation.NewError(generation.KindValidation, "regenerate images", "candidate count must be 3 or 5")
		}
		if _, err := p.imagePrompt(projectID, sceneIndex); err != nil {
			return "", err
		}
		ticket, err := p.store.RegenerateScene(ctx, projectID, sceneIndex, kind)
		if err != nil {
			return "", err
		}
		return p.runImageBatch(ctx, ticket, count)
	case project.KindVideo:
		if _, err := p.videoPrompt(projectID, sceneIndex); err != nil {
			return "", err
		}
		ticket, err := p.store.RegenerateScene(ctx, projectID, sceneIndex, kind)
		if err != nil {
			return "", err
		}
		return p.runVideoTask(ctx, ticket)
	default:
		return "", generation.NewError(generation.KindValidation, "regenerate", fmt.Sprintf("unknown generation kind %q", kind))
	}
}

// Approve locks the scene in and prepares continuity for its successor:
// tail frames are extracted from the approved video and attached to the
// next scene before the scene is marked completed. Extraction failure
// fails the approval and leaves the scene untouched.
func (p *Pipeline) Approve(ctx context.Context, projectID string, sceneIndex int) error {
	snap, err := p.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if !snap.ValidScene(sceneIndex) {
		return fmt.Errorf("scene %d: %w", sceneIndex, project.ErrSceneOutOfRange)
	}
	scene := snap.Scenes[sceneIndex]
	if scene.Status != project.StatusVideoReady && scene.Status != project.StatusCompleted {
		return fmt.Errorf("scene %d %s -> %s: %w", sceneIndex, scene.Status, project.StatusCompleted, project.ErrIllegalTransition)
	}

	next := sceneIndex + 1
	if next < len(snap.Scenes) && len(snap.Scenes[next].SeedFrames) == 0 {
		frames, err := p.extractSeedFrames(ctx, scene)
		if err != nil {
			return generation.WrapError(generation.KindExternal, "approve scene", err)
		}
		if err := p.store.AttachSeedFrames(ctx, projectID, next, frames); err != nil {
			return err
		}
		p.logger.Info("seed frames attached",
			"project_id", projectID,
			"scene", sceneIndex,
			"consumer", next,
			"frames", len(frames),
		)
	}

	return p.store.CompleteScene(ctx, projectID, sceneIndex)
}

func (p *Pipeline) runImageBatch(ctx context.Context, ticket project.Ticket, count int) (project.SceneStatus, error) {
	snap, err := p.store.GetProject(ticket.ProjectID)
	if err != nil {
		return "", err
	}
	spec := snap.Storyboard[ticket.Scene]

	res, err := continuity.Resolve(snap, ticket.Scene)
	if err != nil {
		return "", err
	}
	for _, brk := range res.Breaks {
		p.logger.Warn("continuity break",
			"project_id", ticket.ProjectID,
			"scene", ticket.Scene,
			"break", brk,
		)
	}

	req := generation.ImageRequest{
		Model:         p.cfg.ImageModel,
		Prompt:        spec.ImagePrompt,
		SeedImageURL:  res.SeedURL,
		ReferenceURLs: res.ReferenceURLs,
		AspectRatio:   snap.AspectRatio,
	}

	p.logger.Info("image batch started",
		"project_id", ticket.ProjectID,
		"scene", ticket.Scene,
		"count", count,
		"seed_source", string(res.SeedSource),
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		firstErr  error
		failures  int
	)
	sem := make(chan struct{}, p.cfg.Concurrency)

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(task int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			img, err := p.generateOneImage(ticket.Ctx, req)
			if err != nil {
				mu.Lock()
				failures++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				p.logger.Warn("image task failed",
					"project_id", ticket.ProjectID,
					"scene", ticket.Scene,
					"task", task,
					"error", err,
				)
				return
			}

			if err := p.store.AppendGeneratedImage(ctx, ticket, img); err != nil {
				if !errors.Is(err, project.ErrStaleTicket) {
					p.logger.Error("cannot record image candidate", "error", err)
				}
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	failMsg := ""
	if succeeded == 0 && firstErr != nil {
		failMsg = firstErr.Error()
		if failures > 1 {
			failMsg = fmt.Sprintf("%s (and %d more task failures)", failMsg, failures-1)
		}
	}

	status, err := p.store.FinishImageGeneration(ctx, ticket, failMsg)
	if err != nil {
		return "", err
	}
	p.logger.Info("image batch settled",
		"project_id", ticket.ProjectID,
		"scene", ticket.Scene,
		"status", string(status),
		"succeeded", succeeded,
		"failed", failures,
	)

	if succeeded == 0 && firstErr != nil {
		// The whole batch is not retried: per-task retries already ran, so
		// the aggregate is terminal even when the first failure was not.
		return status, &generation.Error{
			Kind:    generation.KindBatch,
			Op:      "generate images",
			Message: fmt.Sprintf("all %d tasks failed", count),
			Err:     firstErr,
		}
	}
	return status, nil
}

func (p *Pipeline) generateOneImage(ctx context.Context, req generation.ImageRequest) (*project.GeneratedImage, error) {
	var pred generation.Prediction
	err := p.retry.Do(ctx, "generate image", func(ctx context.Context) error {
		var runErr error
		pred, runErr = generation.RunImage(ctx, p.client, req, p.cfg.PollOptions)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	outputURL := pred.Output[0]
	scratch, err := p.fetch(ctx, outputURL, ".png")
	if err != nil {
		return nil, fmt.Errorf("fetch image output: %w", err)
	}
	defer os.Remove(scratch)

	publicURL, key, localPath, err := p.publish(ctx, scratch, "image/png")
	if err != nil {
		return nil, err
	}
	return &project.GeneratedImage{
		URL:        publicURL,
		LocalPath:  localPath,
		StorageKey: key,
		Prompt:     req.Prompt,
	}, nil
}

func (p *Pipeline) runVideoTask(ctx context.Context, ticket project.Ticket) (project.SceneStatus, error) {
	snap, err := p.store.GetProject(ticket.ProjectID)
	if err != nil {
		return "", err
	}
	spec := snap.Storyboard[ticket.Scene]
	scene := snap.Scenes[ticket.Scene]
	selected := scene.FindImage(scene.SelectedImageID)
	if selected == nil {
		return "", generation.NewError(generation.KindValidation, "generate video", "scene has no selected image to animate")
	}

	req := generation.VideoRequest{
		Model:         p.cfg.VideoModel,
		Prompt:        spec.VideoPrompt,
		StartImageURL: selected.URL,
		AspectRatio:   snap.AspectRatio,
		Duration:      spec.SuggestedDuration,
	}

	p.logger.Info("video generation started",
		"project_id", ticket.ProjectID,
		"scene", ticket.Scene,
		"duration", req.Duration,
	)

	video, genErr := p.generateOneVideo(ticket.Ctx, ctx, req)
	if genErr != nil {
		status, err := p.store.FinishVideoGeneration(ctx, ticket, genErr.Error())
		if err != nil {
			return "", err
		}
		return status, genErr
	}

	if err := p.store.AppendGeneratedVideo(ctx, ticket, video); err != nil {
		return "", err
	}
	status, err := p.store.FinishVideoGeneration(ctx, ticket, "")
	if err != nil {
		return "", err
	}
	p.logger.Info("video generation settled",
		"project_id", ticket.ProjectID,
		"scene", ticket.Scene,
		"status", string(status),
	)
	return status, nil
}

// generateOneVideo runs under the ticket context for provider work but
// probes and publishes under the caller's context: once the provider has
// delivered, a supersede should not waste the artifact.
func (p *Pipeline) generateOneVideo(genCtx, ctx context.Context, req generation.VideoRequest) (*project.GeneratedVideo, error) {
	var pred generation.Prediction
	err := p.retry.Do(genCtx, "generate video", func(ctx context.Context) error {
		var runErr error
		pred, runErr = generation.RunVideo(ctx, p.client, req, p.cfg.VideoPoll)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	scratch, err := p.fetch(ctx, pred.Output[0], ".mp4")
	if err != nil {
		return nil, fmt.Errorf("fetch video output: %w", err)
	}
	defer os.Remove(scratch)

	duration := req.Duration
	if probe, err := p.media.Probe(ctx, scratch); err != nil {
		p.logger.Warn("cannot probe generated video, using requested duration", "error", err)
	} else {
		duration = probe.Duration
	}

	publicURL, key, localPath, err := p.publish(ctx, scratch, "video/mp4")
	if err != nil {
		return nil, err
	}
	return &project.GeneratedVideo{
		URL:        publicURL,
		LocalPath:  localPath,
		StorageKey: key,
		Prompt:     req.Prompt,
		Duration:   duration,
	}, nil
}

// extractSeedFrames pulls tail frames from the approved video for the next
// scene's seed. The approved video must be reachable locally; a missing
// local copy is re-fetched from its URL first.
func (p *Pipeline) extractSeedFrames(ctx context.Context, scene *project.SceneState) ([]*project.SeedFrame, error) {
	video := scene.SelectedVideo()
	if video == nil {
		return nil, fmt.Errorf("approved scene has no selected video")
	}

	videoPath := video.LocalPath
	if videoPath == "" || !fileExists(videoPath) {
		fetched, err := p.fetch(ctx, video.URL, ".mp4")
		if err != nil {
			return nil, fmt.Errorf("fetch approved video: %w", err)
		}
		defer os.Remove(fetched)
		videoPath = fetched
	}

	outDir := filepath.Join(p.cfg.ScratchDir, "frames-"+uuid.NewString())
	defer os.RemoveAll(outDir)

	extracted, err := p.media.ExtractFrames(ctx, videoPath, outDir, p.cfg.SeedFrameCount)
	if err != nil {
		return nil, fmt.Errorf("extract seed frames: %w", err)
	}

	frames := make([]*project.SeedFrame, 0, len(extracted))
	for _, f := range extracted {
		publicURL, _, localPath, err := p.publish(ctx, f.Path, "image/jpeg")
		if err != nil {
			return nil, err
		}
		frames = append(frames, &project.SeedFrame{
			URL:       publicURL,
			LocalPath: localPath,
			Timestamp: f.Timestamp,
		})
	}
	return frames, nil
}

// publish ingests a scratch artifact into the local store and, when a
// durable store is configured, uploads it there. A failed upload degrades
// to the local URL instead of failing the generation.
func (p *Pipeline) publish(ctx context.Context, scratch, contentType string) (publicURL, storageKey, localPath string, err error) {
	obj, err := p.local.Upload(ctx, scratch, contentType)
	if err != nil {
		return "", "", "", fmt.Errorf("store artifact locally: %w", err)
	}
	localPath, err = p.local.Resolve(obj.URL)
	if err != nil {
		return "", "", "", err
	}
	publicURL = obj.URL

	if p.remote != nil {
		remote, rerr := p.remote.Upload(ctx, localPath, contentType)
		if rerr != nil {
			p.logger.Warn("durable upload failed, serving local copy",
				"path", localPath,
				"error", rerr,
			)
		} else {
			publicURL = remote.URL
			storageKey = remote.Key
		}
	}
	return publicURL, storageKey, localPath, nil
}

// fetch downloads a provider output into the scratch dir.
func (p *Pipeline) fetch(ctx context.Context, rawURL, fallbackExt string) (string, error) {
	if err := os.MkdirAll(p.cfg.ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	dest := filepath.Join(p.cfg.ScratchDir, uuid.NewString()+outputExt(rawURL, fallbackExt))
	if err := storage.Download(ctx, rawURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (p *Pipeline) imagePrompt(projectID string, sceneIndex int) (string, error) {
	snap, err := p.store.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if !snap.ValidScene(sceneIndex) {
		return "", fmt.Errorf("scene %d: %w", sceneIndex, project.ErrSceneOutOfRange)
	}
	prompt := snap.Storyboard[sceneIndex].ImagePrompt
	if prompt == "" {
		return "", generation.NewError(generation.KindValidation, "generate images", "scene has no image prompt")
	}
	return prompt, nil
}

func (p *Pipeline) videoPrompt(projectID string, sceneIndex int) (string, error) {
	snap, err := p.store.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if !snap.ValidScene(sceneIndex) {
		return "", fmt.Errorf("scene %d: %w", sceneIndex, project.ErrSceneOutOfRange)
	}
	prompt := snap.Storyboard[sceneIndex].VideoPrompt
	if prompt == "" {
		return "", generation.NewError(generation.KindValidation, "generate video", "scene has no video prompt")
	}
	return prompt, nil
}

func outputExt(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
		return ext
	}
	return fallback
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
