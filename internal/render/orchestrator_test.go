package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/media"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memRepo is a throwaway project.Repository for store construction.
type memRepo struct {
	mu       sync.Mutex
	projects map[string]*project.Project
	config   map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{projects: make(map[string]*project.Project), config: make(map[string]string)}
}

func (r *memRepo) Save(_ context.Context, p *project.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p.Clone()
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *memRepo) List(_ context.Context) ([]*project.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*project.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, id)
	return nil
}

func (r *memRepo) GetConfig(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config[key], nil
}

func (r *memRepo) SetConfig(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config[key] = value
	return nil
}

type trimCall struct {
	src       string
	out       string
	trimStart float64
	trimEnd   float64
}

// fakeTool records compositor calls and writes marker files so tests can
// tell which render a committed URL came from. Preview calls can be gated
// to hold a render in flight; gated calls ignore context cancellation so
// staleness is decided by token alone.
type fakeTool struct {
	mu            sync.Mutex
	trims         []trimCall
	trimErr       error
	stitchInputs  [][]string
	previewInputs [][]string
	previewGates  []chan struct{}
	started       chan int
}

func newFakeTool() *fakeTool {
	return &fakeTool{started: make(chan int, 16)}
}

func (t *fakeTool) Probe(_ context.Context, _ string) (media.ProbeResult, error) {
	return media.ProbeResult{Duration: 5}, nil
}

func (t *fakeTool) ExtractFrames(_ context.Context, _, _ string, _ int) ([]media.Frame, error) {
	return nil, errors.New("not used by the orchestrator")
}

func (t *fakeTool) MaterializeTrim(_ context.Context, src, out string, trimStart, trimEnd float64) error {
	t.mu.Lock()
	t.trims = append(t.trims, trimCall{src: src, out: out, trimStart: trimStart, trimEnd: trimEnd})
	err := t.trimErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte("trimmed"), 0o644)
}

func (t *fakeTool) Stitch(_ context.Context, inputs []string, outPath string) error {
	t.mu.Lock()
	t.stitchInputs = append(t.stitchInputs, append([]string(nil), inputs...))
	t.mu.Unlock()
	return os.WriteFile(outPath, []byte("stitched"), 0o644)
}

func (t *fakeTool) Preview(_ context.Context, inputs []string, outPath string) error {
	t.mu.Lock()
	t.previewInputs = append(t.previewInputs, append([]string(nil), inputs...))
	n := len(t.previewInputs)
	var gate chan struct{}
	if n-1 < len(t.previewGates) {
		gate = t.previewGates[n-1]
	}
	t.mu.Unlock()

	t.started <- n
	if gate != nil {
		<-gate
	}
	return os.WriteFile(outPath, []byte(fmt.Sprintf("preview-%d", n)), 0o644)
}

func (t *fakeTool) previewCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.previewInputs)
}

func (t *fakeTool) stitchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stitchInputs)
}

func newTestOrchestrator(t *testing.T, tool *fakeTool, debounce time.Duration) (*Orchestrator, *project.Store, *storage.LocalStore) {
	t.Helper()
	store, err := project.NewStore(context.Background(), newMemRepo(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	local, err := storage.NewLocalStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	o := NewOrchestrator(Config{Debounce: debounce, ScratchDir: t.TempDir()}, store, tool, nil, local, testLogger())
	t.Cleanup(o.Close)
	return o, store, local
}

// newClipProject seeds a project whose scenes all have selected videos, so
// the store builds one clip per duration.
func newClipProject(t *testing.T, store *project.Store, durations ...float64) *project.Project {
	t.Helper()
	p := project.NewProject("Summer Launch", "30 second spot for a citrus soda", "9:16", 30)
	specs := make([]project.SceneSpec, len(durations))
	for i := range durations {
		specs[i] = project.SceneSpec{
			Title:             fmt.Sprintf("Scene %d", i+1),
			ImagePrompt:       fmt.Sprintf("citrus soda can, shot %d", i+1),
			VideoPrompt:       "slow push-in",
			SuggestedDuration: durations[i],
		}
	}
	p.ApplyStoryboard(specs)
	for i, d := range durations {
		video := &project.GeneratedVideo{
			ID:         project.NewID(),
			URL:        fmt.Sprintf("/api/v1/media/scene-%d.mp4", i),
			LocalPath:  fmt.Sprintf("/video/scene-%d.mp4", i),
			Duration:   d,
			IsSelected: true,
		}
		p.Scenes[i].GeneratedVideos = []*project.GeneratedVideo{video}
		p.Scenes[i].SelectedVideoID = video.ID
		p.Scenes[i].Status = project.StatusVideoReady
	}
	if err := store.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := store.RefreshTimeline(context.Background(), p.ID, true); err != nil {
		t.Fatalf("RefreshTimeline: %v", err)
	}
	got, err := store.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(got.Clips) != len(durations) {
		t.Fatalf("seeded %d clips, want %d", len(got.Clips), len(durations))
	}
	return got
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readMedia(t *testing.T, local *storage.LocalStore, url string) string {
	t.Helper()
	path, err := local.Resolve(url)
	if err != nil {
		t.Fatalf("resolve %s: %v", url, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func previewURL(t *testing.T, store *project.Store, projectID string) string {
	t.Helper()
	got, err := store.GetProject(projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	return got.PreviewURL
}

func TestSchedulePreview_CoalescesRapidEdits(t *testing.T) {
	tool := newFakeTool()
	o, store, local := newTestOrchestrator(t, tool, 20*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	for i := 0; i < 5; i++ {
		o.SchedulePreview(p.ID)
	}

	waitUntil(t, time.Second, "preview commit", func() bool {
		return previewURL(t, store, p.ID) != ""
	})

	if got := tool.previewCount(); got != 1 {
		t.Errorf("rendered %d previews for 5 rapid schedules, want 1", got)
	}
	if content := readMedia(t, local, previewURL(t, store, p.ID)); content != "preview-1" {
		t.Errorf("preview content = %q, want preview-1", content)
	}
	if o.PreviewPending(p.ID) {
		t.Error("preview still pending after commit")
	}
}

func TestSchedulePreview_StaleRenderNeverCommits(t *testing.T) {
	tool := newFakeTool()
	gate := make(chan struct{})
	tool.previewGates = []chan struct{}{gate}
	o, store, local := newTestOrchestrator(t, tool, 5*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	// First render starts and parks inside the compositor.
	o.SchedulePreview(p.ID)
	if n := <-tool.started; n != 1 {
		t.Fatalf("first started render = %d, want 1", n)
	}

	// A newer edit supersedes it while it is still in flight. The second
	// render completes first and commits.
	o.SchedulePreview(p.ID)
	waitUntil(t, time.Second, "second preview commit", func() bool {
		return previewURL(t, store, p.ID) != ""
	})
	if content := readMedia(t, local, previewURL(t, store, p.ID)); content != "preview-2" {
		t.Fatalf("preview content = %q, want preview-2", content)
	}

	// Now the first render finishes late. Its token is stale, so the
	// committed preview must not change.
	close(gate)
	time.Sleep(30 * time.Millisecond)
	if content := readMedia(t, local, previewURL(t, store, p.ID)); content != "preview-2" {
		t.Errorf("stale render overwrote the preview: got %q", content)
	}
	if got := tool.previewCount(); got != 2 {
		t.Errorf("rendered %d previews, want 2", got)
	}
}

func TestSchedulePreview_UsesMaterializedTrims(t *testing.T) {
	tool := newFakeTool()
	o, store, _ := newTestOrchestrator(t, tool, 5*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	if err := store.CropClip(context.Background(), p.ID, p.Clips[0].ID, 1, 0.5); err != nil {
		t.Fatalf("CropClip: %v", err)
	}
	o.SchedulePreview(p.ID)

	waitUntil(t, time.Second, "preview commit", func() bool {
		return previewURL(t, store, p.ID) != ""
	})

	tool.mu.Lock()
	defer tool.mu.Unlock()
	if len(tool.trims) != 1 {
		t.Fatalf("materialized %d trims, want 1", len(tool.trims))
	}
	if tool.trims[0].src != "/video/scene-0.mp4" {
		t.Errorf("trimmed %s, want /video/scene-0.mp4", tool.trims[0].src)
	}
	inputs := tool.previewInputs[0]
	if inputs[0] != tool.trims[0].out {
		t.Errorf("preview input[0] = %s, want the materialized trim %s", inputs[0], tool.trims[0].out)
	}
	if inputs[1] != "/video/scene-1.mp4" || inputs[2] != "/video/scene-2.mp4" {
		t.Errorf("untrimmed inputs = %v, want original source paths", inputs[1:])
	}
}

func TestStitch_MaterializesTrimsFirst(t *testing.T) {
	tool := newFakeTool()
	o, store, local := newTestOrchestrator(t, tool, 5*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	if err := store.CropClip(context.Background(), p.ID, p.Clips[1].ID, 1, 0.5); err != nil {
		t.Fatalf("CropClip: %v", err)
	}

	url, err := o.Stitch(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if url == "" {
		t.Fatal("Stitch returned an empty URL")
	}

	tool.mu.Lock()
	if len(tool.trims) != 1 {
		t.Fatalf("materialized %d trims, want 1", len(tool.trims))
	}
	trim := tool.trims[0]
	if trim.src != "/video/scene-1.mp4" || trim.trimStart != 1 || trim.trimEnd != 0.5 {
		t.Errorf("trim call = %+v, want scene-1 cut by 1s head, 0.5s tail", trim)
	}
	inputs := tool.stitchInputs[0]
	tool.mu.Unlock()

	want := []string{"/video/scene-0.mp4", trim.out, "/video/scene-2.mp4"}
	for i := range want {
		if inputs[i] != want[i] {
			t.Errorf("stitch input[%d] = %s, want %s", i, inputs[i], want[i])
		}
	}

	got, err := store.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.FinalVideoURL != url {
		t.Errorf("final video URL = %q, want %q", got.FinalVideoURL, url)
	}
	if content := readMedia(t, local, url); content != "stitched" {
		t.Errorf("final video content = %q, want stitched", content)
	}
}

func TestStitch_SecondStitchRejected(t *testing.T) {
	tool := newFakeTool()
	o, store, _ := newTestOrchestrator(t, tool, 5*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	if _, err := o.Stitch(context.Background(), p.ID); err != nil {
		t.Fatalf("first Stitch: %v", err)
	}
	_, err := o.Stitch(context.Background(), p.ID)
	if !errors.Is(err, project.ErrFinalRendered) {
		t.Fatalf("second Stitch error = %v, want ErrFinalRendered", err)
	}
	if got := tool.stitchCount(); got != 1 {
		t.Errorf("compositor stitched %d times, want 1", got)
	}
}

func TestStitch_TrimFailureAbortsStitch(t *testing.T) {
	tool := newFakeTool()
	tool.trimErr = errors.New("corrupt source file")
	o, store, _ := newTestOrchestrator(t, tool, 5*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	if err := store.CropClip(context.Background(), p.ID, p.Clips[0].ID, 1, 0); err != nil {
		t.Fatalf("CropClip: %v", err)
	}

	_, err := o.Stitch(context.Background(), p.ID)
	if err == nil {
		t.Fatal("Stitch succeeded despite trim failure")
	}
	if !strings.Contains(err.Error(), "corrupt source file") {
		t.Errorf("error = %v, want trim failure detail", err)
	}
	if got := tool.stitchCount(); got != 0 {
		t.Errorf("compositor stitched %d times after trim failure, want 0", got)
	}
	got, err := store.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.FinalVideoURL != "" {
		t.Errorf("final video URL = %q after aborted stitch, want empty", got.FinalVideoURL)
	}
}

func TestStitch_EmptyTimelineRejected(t *testing.T) {
	tool := newFakeTool()
	o, store, _ := newTestOrchestrator(t, tool, 5*time.Millisecond)

	p := project.NewProject("Empty", "no videos yet", "9:16", 30)
	p.ApplyStoryboard([]project.SceneSpec{
		{Title: "Scene 1", ImagePrompt: "citrus soda can", VideoPrompt: "pan", SuggestedDuration: 5},
	})
	if err := store.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	_, err := o.Stitch(context.Background(), p.ID)
	if err == nil {
		t.Fatal("Stitch succeeded on an empty timeline")
	}
	var genErr *generation.Error
	if !errors.As(err, &genErr) || genErr.Kind != generation.KindValidation {
		t.Errorf("error kind = %v, want validation", err)
	}
}

func TestCancel_DropsScheduledPreview(t *testing.T) {
	tool := newFakeTool()
	o, store, _ := newTestOrchestrator(t, tool, 10*time.Millisecond)
	p := newClipProject(t, store, 5, 7, 8)

	o.SchedulePreview(p.ID)
	o.Cancel(p.ID)

	time.Sleep(50 * time.Millisecond)
	if got := tool.previewCount(); got != 0 {
		t.Errorf("rendered %d previews after cancel, want 0", got)
	}
	if url := previewURL(t, store, p.ID); url != "" {
		t.Errorf("preview URL = %q after cancel, want empty", url)
	}
	if o.PreviewPending(p.ID) {
		t.Error("preview still pending after cancel")
	}
}
