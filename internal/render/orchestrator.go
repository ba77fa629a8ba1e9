// Package render turns a project's clip timeline into watchable video: a
// debounced low-res preview after every edit, and a one-shot final stitch.
// Renders run against a snapshot; a result only commits if no newer edit
// superseded it while the compositor was working.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/media"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/storage"
	"github.com/reelcraft/reelcraft-engine/internal/timeline"
)

const (
	// DefaultDebounce is how long the orchestrator waits after the last
	// edit before rendering a preview. Rapid edits collapse into one render.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultTrimConcurrency bounds parallel trim materializations.
	DefaultTrimConcurrency = 2
)

// Config holds the orchestrator's tunables.
type Config struct {
	Debounce        time.Duration
	TrimConcurrency int
	ScratchDir      string
}

// Orchestrator owns preview scheduling and final stitching for all projects.
type Orchestrator struct {
	cfg    Config
	store  *project.Store
	tool   media.Tool
	remote storage.Store // optional durable store for final renders
	local  *storage.LocalStore
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPreview
}

// pendingPreview tracks the newest preview request for one project. The
// token decides staleness: a render only commits if its token is still the
// latest when it finishes, regardless of completion order.
type pendingPreview struct {
	token  uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

func NewOrchestrator(cfg Config, store *project.Store, tool media.Tool, remote storage.Store, local *storage.LocalStore, logger *slog.Logger) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.TrimConcurrency <= 0 {
		cfg.TrimConcurrency = DefaultTrimConcurrency
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "reelcraft-scratch")
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		tool:    tool,
		remote:  remote,
		local:   local,
		logger:  logger,
		pending: make(map[string]*pendingPreview),
	}
}

// SchedulePreview requests a preview render after the debounce window.
// Every call bumps the project's token and cancels any render already in
// flight, so only the newest timeline state ever reaches the preview URL.
func (o *Orchestrator) SchedulePreview(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.pending[projectID]
	if p == nil {
		p = &pendingPreview{}
		o.pending[projectID] = p
	}
	p.token++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	token := p.token
	p.timer = time.AfterFunc(o.cfg.Debounce, func() {
		o.firePreview(projectID, token)
	})

	o.logger.Debug("preview scheduled",
		"project_id", projectID,
		"token", token,
	)
}

// Cancel drops any pending or in-flight preview work for the project.
func (o *Orchestrator) Cancel(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropLocked(projectID)
}

// Close stops all timers and cancels all in-flight renders.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.pending {
		o.dropLocked(id)
	}
}

func (o *Orchestrator) dropLocked(projectID string) {
	p := o.pending[projectID]
	if p == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	delete(o.pending, projectID)
}

func (o *Orchestrator) firePreview(projectID string, token uint64) {
	o.mu.Lock()
	p := o.pending[projectID]
	if p == nil || p.token != token {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	o.mu.Unlock()

	start := time.Now()
	url, err := o.renderPreview(ctx, projectID)

	o.mu.Lock()
	defer o.mu.Unlock()
	cur := o.pending[projectID]
	if cur == nil || cur.token != token {
		o.logger.Debug("stale preview discarded",
			"project_id", projectID,
			"token", token,
		)
		return
	}
	// This render is the newest; the entry has served its purpose.
	if cur.cancel != nil {
		cur.cancel()
	}
	delete(o.pending, projectID)
	if err != nil {
		o.logger.Warn("preview render failed",
			"project_id", projectID,
			"error", err,
		)
		return
	}
	// Commit detached from the render context: the render itself is done
	// and the write must not be torn by a late cancel.
	if err := o.store.SetPreview(context.Background(), projectID, url); err != nil {
		o.logger.Warn("cannot record preview", "project_id", projectID, "error", err)
		return
	}
	o.logger.Info("preview rendered",
		"project_id", projectID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (o *Orchestrator) renderPreview(ctx context.Context, projectID string) (string, error) {
	snapshot, err := o.store.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if len(snapshot.Clips) == 0 {
		return "", generation.NewError(generation.KindValidation, "render preview", "timeline has no clips")
	}

	inputs, cleanup, err := o.materializeTrims(ctx, snapshot.Clips)
	if err != nil {
		return "", err
	}
	defer cleanup()

	outPath, err := o.scratchFile("preview")
	if err != nil {
		return "", err
	}
	defer os.Remove(outPath)
	if err := o.tool.Preview(ctx, inputs, outPath); err != nil {
		return "", generation.WrapError(generation.KindExternal, "render preview", err)
	}

	// Previews are throwaway; they never go to the durable store.
	obj, err := o.local.Upload(ctx, outPath, "video/mp4")
	if err != nil {
		return "", generation.WrapError(generation.KindExternal, "render preview", err)
	}
	return obj.URL, nil
}

// Stitch renders the final video. Trimmed clips are materialized first so
// the concat step only ever sees whole files; any trim failure aborts the
// stitch. The result sets the project's final video URL exactly once.
func (o *Orchestrator) Stitch(ctx context.Context, projectID string) (string, error) {
	snapshot, err := o.store.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if snapshot.FinalVideoURL != "" {
		return "", project.ErrFinalRendered
	}
	if len(snapshot.Clips) == 0 {
		return "", generation.NewError(generation.KindValidation, "stitch timeline", "timeline has no clips")
	}

	trimmed := 0
	for _, clip := range snapshot.Clips {
		if clip.Trimmed() {
			trimmed++
		}
	}
	o.logger.Info("stitch started",
		"project_id", projectID,
		"clip_count", len(snapshot.Clips),
		"trimmed_count", trimmed,
	)

	inputs, cleanup, err := o.materializeTrims(ctx, snapshot.Clips)
	if err != nil {
		return "", err
	}
	defer cleanup()

	outPath, err := o.scratchFile("final")
	if err != nil {
		return "", err
	}
	defer os.Remove(outPath)
	if err := o.tool.Stitch(ctx, inputs, outPath); err != nil {
		return "", generation.WrapError(generation.KindExternal, "stitch timeline", err)
	}

	url, err := o.publishFinal(ctx, outPath)
	if err != nil {
		return "", err
	}
	if err := o.store.SetFinalVideo(ctx, projectID, url); err != nil {
		return "", err
	}
	o.logger.Info("final video rendered",
		"project_id", projectID,
		"url", url,
	)
	return url, nil
}

// materializeTrims returns one playable input path per clip. Untrimmed
// clips pass through as their source file; trimmed clips are cut into the
// scratch dir in parallel, all-or-nothing.
func (o *Orchestrator) materializeTrims(ctx context.Context, clips []*timeline.Clip) ([]string, func(), error) {
	inputs := make([]string, len(clips))
	anyTrim := false
	for i, clip := range clips {
		inputs[i] = clip.VideoLocalPath
		if clip.Trimmed() {
			anyTrim = true
		}
	}
	if !anyTrim {
		return inputs, func() {}, nil
	}

	tmpDir := filepath.Join(o.cfg.ScratchDir, "trims-"+uuid.NewString())
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create trim dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.TrimConcurrency)
	for i, clip := range clips {
		if !clip.Trimmed() {
			continue
		}
		g.Go(func() error {
			out := filepath.Join(tmpDir, fmt.Sprintf("clip-%02d.mp4", i))
			if err := o.tool.MaterializeTrim(ctx, clip.VideoLocalPath, out, clip.TrimStart, clip.TrimEnd); err != nil {
				return fmt.Errorf("materialize trim for clip %s: %w", clip.ID, err)
			}
			inputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup()
		return nil, nil, generation.WrapError(generation.KindExternal, "materialize trims", err)
	}
	return inputs, cleanup, nil
}

// publishFinal stores the stitched file locally and attempts the durable
// store when one is configured. A failed durable upload degrades to the
// local copy instead of failing the stitch.
func (o *Orchestrator) publishFinal(ctx context.Context, outPath string) (string, error) {
	obj, err := o.local.Upload(ctx, outPath, "video/mp4")
	if err != nil {
		return "", generation.WrapError(generation.KindExternal, "publish final video", err)
	}
	if o.remote == nil {
		return obj.URL, nil
	}
	remoteObj, err := o.remote.Upload(ctx, outPath, "video/mp4")
	if err != nil {
		o.logger.Warn("durable upload failed, serving local copy", "error", err)
		return obj.URL, nil
	}
	return remoteObj.URL, nil
}

func (o *Orchestrator) scratchFile(prefix string) (string, error) {
	if err := os.MkdirAll(o.cfg.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return filepath.Join(o.cfg.ScratchDir, prefix+"-"+uuid.NewString()+".mp4"), nil
}

// PreviewPending reports whether a preview is scheduled or rendering.
func (o *Orchestrator) PreviewPending(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[projectID]
	return ok
}
