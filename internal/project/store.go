package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelcraft/reelcraft-engine/internal/timeline"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrSceneOutOfRange   = errors.New("scene index out of range")
	ErrStaleTicket       = errors.New("generation superseded by a newer request")
	ErrIllegalTransition = errors.New("illegal scene transition")
	ErrSceneCompleted    = errors.New("completed scenes cannot be regenerated")
	ErrFinalRendered     = errors.New("final video already rendered")
	ErrCandidateNotFound = errors.New("candidate not found")
)

// Ticket identifies one in-flight generation batch. Every result commit
// re-checks the ticket against the store; results carried by a superseded
// ticket are discarded, no matter when they resolve.
type Ticket struct {
	ProjectID string
	Scene     int
	Kind      GenerationKind
	Token     uint64

	// Ctx is cancelled when the ticket is superseded or its project is
	// deleted. Provider calls for this batch must run under it.
	Ctx context.Context
}

type inflightKey struct {
	projectID string
	scene     int
	kind      GenerationKind
}

type inflightOp struct {
	token  uint64
	cancel context.CancelFunc
}

// Store owns every loaded project aggregate. All mutations go through its
// named actions under one lock; readers only ever receive clones.
type Store struct {
	mu        sync.Mutex
	repo      Repository
	logger    *slog.Logger
	projects  map[string]*Project
	inflight  map[inflightKey]*inflightOp
	nextToken atomic.Uint64
}

// NewStore loads persisted projects and reverts any generation state that
// did not survive the previous run.
func NewStore(ctx context.Context, repo Repository, logger *slog.Logger) (*Store, error) {
	s := &Store{
		repo:     repo,
		logger:   logger,
		projects: make(map[string]*Project),
		inflight: make(map[inflightKey]*inflightOp),
	}

	loaded, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	for _, p := range loaded {
		if swept := markInterruptedGenerations(p); swept > 0 {
			s.logger.Info("reverted interrupted generations",
				"project_id", p.ID,
				"scenes", swept,
			)
			if err := repo.Save(ctx, p); err != nil {
				return nil, fmt.Errorf("persist recovery sweep: %w", err)
			}
		}
		s.projects[p.ID] = p
	}

	s.logger.Info("project store ready", "projects", len(s.projects))
	return s, nil
}

// markInterruptedGenerations reverts scenes stuck in a generating status to
// their prior stable state. In-flight work does not survive a restart.
func markInterruptedGenerations(p *Project) int {
	swept := 0
	for _, scene := range p.Scenes {
		switch scene.Status {
		case StatusGeneratingImage:
			if len(scene.GeneratedImages) > 0 {
				scene.Status = StatusImageReady
			} else {
				scene.Status = StatusPending
			}
			scene.LastError = "generation interrupted by engine restart"
			swept++
		case StatusGeneratingVideo:
			scene.Status = StatusImageReady
			scene.LastError = "generation interrupted by engine restart"
			swept++
		}
	}
	return swept
}

func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, p); err != nil {
		return fmt.Errorf("persist project: %w", err)
	}
	s.projects[p.ID] = p

	s.logger.Info("project created", "project_id", p.ID, "scenes", len(p.Scenes))
	return nil
}

// GetProject returns a clone; the live aggregate never leaves the store.
func (s *Store) GetProject(id string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (s *Store) ListProjects() []*Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.project(id); err != nil {
		return err
	}
	for key, op := range s.inflight {
		if key.projectID == id {
			op.cancel()
			delete(s.inflight, key)
		}
	}
	delete(s.projects, id)

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project deleted", "project_id", id)
	return nil
}

// ReplaceSceneSpec swaps the storyboard entry at index for the edited one.
// Identity and order are stable across edits.
func (s *Store) ReplaceSceneSpec(ctx context.Context, projectID string, index int, spec SceneSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(p.Storyboard) {
		return fmt.Errorf("scene %d: %w", index, ErrSceneOutOfRange)
	}

	spec.ID = p.Storyboard[index].ID
	spec.Order = p.Storyboard[index].Order
	p.Storyboard[index] = spec
	return s.persist(ctx, p)
}

// ContinuityUpdate patches a scene's continuity inputs. Nil fields are
// left untouched; clearing a field means setting it to its zero value.
type ContinuityUpdate struct {
	SeedImageID        *string
	CustomImageInput   *string
	UseSeedFrame       *bool
	SelectedSeedFrame  *int
	ReferenceImageURLs *[]string
	ReferenceImageID   *string
}

func (s *Store) UpdateContinuity(ctx context.Context, projectID string, index int, upd ContinuityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return err
	}

	if upd.SelectedSeedFrame != nil && *upd.SelectedSeedFrame < 0 {
		return fmt.Errorf("selected seed frame must not be negative")
	}
	if upd.ReferenceImageURLs != nil && len(*upd.ReferenceImageURLs) > MaxReferenceImages {
		return fmt.Errorf("a scene carries at most %d reference images", MaxReferenceImages)
	}

	if upd.SeedImageID != nil {
		scene.SeedImageID = *upd.SeedImageID
	}
	if upd.CustomImageInput != nil {
		scene.CustomImageInput = *upd.CustomImageInput
	}
	if upd.UseSeedFrame != nil {
		scene.UseSeedFrame = *upd.UseSeedFrame
	}
	if upd.SelectedSeedFrame != nil {
		scene.SelectedSeedFrame = *upd.SelectedSeedFrame
	}
	if upd.ReferenceImageURLs != nil {
		scene.ReferenceImageURLs = append([]string(nil), (*upd.ReferenceImageURLs)...)
	}
	if upd.ReferenceImageID != nil {
		scene.ReferenceImageID = *upd.ReferenceImageID
	}
	return s.persist(ctx, p)
}

func (s *Store) AddReferenceImage(ctx context.Context, projectID string, ref *ReferenceImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	if ref.ID == "" {
		ref.ID = NewID()
	}
	p.ReferenceImages = append(p.ReferenceImages, ref)
	return s.persist(ctx, p)
}

// BeginImageGeneration moves the scene into generating_image and issues a
// ticket. The batch replaces the drawer for its kind, so current image
// candidates are discarded up front; a still-running batch for the same
// scene and kind is cancelled and superseded.
func (s *Store) BeginImageGeneration(ctx context.Context, projectID string, index int) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return Ticket{}, err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return Ticket{}, err
	}
	return s.beginImageLocked(ctx, p, scene, index)
}

func (s *Store) beginImageLocked(ctx context.Context, p *Project, scene *SceneState, index int) (Ticket, error) {
	if !CanTransition(scene.Status, StatusGeneratingImage) {
		return Ticket{}, fmt.Errorf("scene %d %s -> %s: %w", index, scene.Status, StatusGeneratingImage, ErrIllegalTransition)
	}

	scene.GeneratedImages = []*GeneratedImage{}
	scene.SelectedImageID = ""
	scene.Status = StatusGeneratingImage
	scene.LastError = ""
	t := s.issueTicket(p.ID, index, KindImage)
	if err := s.persist(ctx, p); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// AppendGeneratedImage commits one resolved candidate to the drawer.
func (s *Store) AppendGeneratedImage(ctx context.Context, t Ticket, img *GeneratedImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(t) {
		return ErrStaleTicket
	}
	p, err := s.project(t.ProjectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, t.Scene)
	if err != nil {
		return err
	}
	if scene.Status != StatusGeneratingImage {
		return ErrStaleTicket
	}

	if img.ID == "" {
		img.ID = NewID()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	scene.GeneratedImages = append(scene.GeneratedImages, img)
	return s.persist(ctx, p)
}

// FinishImageGeneration closes the batch. A scene holding at least one
// candidate settles at image_ready with the first auto-selected when none
// is; a scene holding none reverts to pending and records the failure.
func (s *Store) FinishImageGeneration(ctx context.Context, t Ticket, failure string) (SceneStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(t) {
		return "", ErrStaleTicket
	}

	p, err := s.project(t.ProjectID)
	if err != nil {
		return "", err
	}
	scene, err := s.scene(p, t.Scene)
	if err != nil {
		return "", err
	}

	if len(scene.GeneratedImages) > 0 {
		scene.Status = StatusImageReady
		scene.LastError = ""
		if scene.SelectedImageID == "" {
			scene.SelectedImageID = scene.GeneratedImages[0].ID
		}
	} else {
		scene.Status = StatusPending
		scene.LastError = failure
		if scene.LastError == "" {
			scene.LastError = "image generation produced no candidates"
		}
	}

	if err := s.persist(ctx, p); err != nil {
		return scene.Status, err
	}
	s.clearInflight(t)
	return scene.Status, nil
}

// BeginVideoGeneration moves the scene into generating_video, discarding
// current video candidates. The selected image is the motion source, so
// one must exist.
func (s *Store) BeginVideoGeneration(ctx context.Context, projectID string, index int) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return Ticket{}, err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return Ticket{}, err
	}
	return s.beginVideoLocked(ctx, p, scene, index)
}

func (s *Store) beginVideoLocked(ctx context.Context, p *Project, scene *SceneState, index int) (Ticket, error) {
	if !CanTransition(scene.Status, StatusGeneratingVideo) {
		return Ticket{}, fmt.Errorf("scene %d %s -> %s: %w", index, scene.Status, StatusGeneratingVideo, ErrIllegalTransition)
	}
	if scene.SelectedImageID == "" || scene.FindImage(scene.SelectedImageID) == nil {
		return Ticket{}, fmt.Errorf("scene %d has no selected image to animate", index)
	}

	scene.GeneratedVideos = []*GeneratedVideo{}
	scene.SelectedVideoID = ""
	scene.Status = StatusGeneratingVideo
	scene.LastError = ""
	s.rebuildClipsLocked(p)
	t := s.issueTicket(p.ID, index, KindVideo)
	if err := s.persist(ctx, p); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

func (s *Store) AppendGeneratedVideo(ctx context.Context, t Ticket, video *GeneratedVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(t) {
		return ErrStaleTicket
	}
	p, err := s.project(t.ProjectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, t.Scene)
	if err != nil {
		return err
	}
	if scene.Status != StatusGeneratingVideo {
		return ErrStaleTicket
	}

	if video.ID == "" {
		video.ID = NewID()
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	video.IsSelected = false
	scene.GeneratedVideos = append(scene.GeneratedVideos, video)
	return s.persist(ctx, p)
}

// FinishVideoGeneration closes the batch. Success settles at video_ready
// and refreshes the timeline; failure falls back to image_ready with the
// image candidates intact.
func (s *Store) FinishVideoGeneration(ctx context.Context, t Ticket, failure string) (SceneStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(t) {
		return "", ErrStaleTicket
	}

	p, err := s.project(t.ProjectID)
	if err != nil {
		return "", err
	}
	scene, err := s.scene(p, t.Scene)
	if err != nil {
		return "", err
	}

	if len(scene.GeneratedVideos) > 0 {
		scene.Status = StatusVideoReady
		scene.LastError = ""
		if scene.SelectedVideoID == "" {
			selectVideo(scene, scene.GeneratedVideos[0].ID)
		}
		s.rebuildClipsLocked(p)
	} else {
		scene.Status = StatusImageReady
		scene.LastError = failure
		if scene.LastError == "" {
			scene.LastError = "video generation produced no candidates"
		}
	}

	if err := s.persist(ctx, p); err != nil {
		return scene.Status, err
	}
	s.clearInflight(t)
	return scene.Status, nil
}

func (s *Store) SelectImage(ctx context.Context, projectID string, index int, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return err
	}
	if scene.FindImage(imageID) == nil {
		return fmt.Errorf("image %s on scene %d: %w", imageID, index, ErrCandidateNotFound)
	}

	scene.SelectedImageID = imageID
	return s.persist(ctx, p)
}

func (s *Store) SelectVideo(ctx context.Context, projectID string, index int, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return err
	}
	if scene.FindVideo(videoID) == nil {
		return fmt.Errorf("video %s on scene %d: %w", videoID, index, ErrCandidateNotFound)
	}

	selectVideo(scene, videoID)
	s.rebuildClipsLocked(p)
	return s.persist(ctx, p)
}

// CompleteScene marks an approved scene completed and advances the working
// index. Completing an already-completed scene is a no-op.
func (s *Store) CompleteScene(ctx context.Context, projectID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return err
	}
	if scene.Status == StatusCompleted {
		return nil
	}
	if !CanTransition(scene.Status, StatusCompleted) {
		return fmt.Errorf("scene %d %s -> %s: %w", index, scene.Status, StatusCompleted, ErrIllegalTransition)
	}

	scene.Status = StatusCompleted
	scene.LastError = ""
	if index+1 < len(p.Scenes) && p.CurrentSceneIndex <= index {
		p.CurrentSceneIndex = index + 1
	}
	return s.persist(ctx, p)
}

// AttachSeedFrames hands extracted frames to the consuming scene. The
// presence check runs here, under the lock, immediately before the write,
// so frames attach exactly once no matter how many approvals race.
func (s *Store) AttachSeedFrames(ctx context.Context, projectID string, consumerIndex int, frames []*SeedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	scene, err := s.scene(p, consumerIndex)
	if err != nil {
		return err
	}
	if len(scene.SeedFrames) > 0 {
		return nil
	}

	for _, f := range frames {
		if f.ID == "" {
			f.ID = NewID()
		}
	}
	scene.SeedFrames = frames
	scene.SelectedSeedFrame = 0
	return s.persist(ctx, p)
}

// RegenerateScene discards the named kind's candidates and issues a fresh
// generation ticket. The other kind's candidates are untouched. Completed
// scenes are immutable.
func (s *Store) RegenerateScene(ctx context.Context, projectID string, index int, kind GenerationKind) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return Ticket{}, err
	}
	scene, err := s.scene(p, index)
	if err != nil {
		return Ticket{}, err
	}
	if scene.Status == StatusCompleted {
		return Ticket{}, fmt.Errorf("scene %d: %w", index, ErrSceneCompleted)
	}

	switch kind {
	case KindImage:
		return s.beginImageLocked(ctx, p, scene, index)
	case KindVideo:
		return s.beginVideoLocked(ctx, p, scene, index)
	default:
		return Ticket{}, fmt.Errorf("unknown generation kind %q", kind)
	}
}

// RefreshTimeline rebuilds clips from the currently selected videos. A
// timeline carrying manual edits is left alone unless force is set, which
// discards those edits.
func (s *Store) RefreshTimeline(ctx context.Context, projectID string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	if p.TimelineEdited && !force {
		return nil
	}

	p.TimelineEdited = false
	p.Clips = buildClips(p)
	p.PreviewURL = ""
	return s.persist(ctx, p)
}

func (s *Store) SplitClip(ctx context.Context, projectID, clipID string, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	clips, err := timeline.Split(p.Clips, clipID, at)
	if err != nil {
		return err
	}
	p.Clips = clips
	p.TimelineEdited = true
	p.PreviewURL = ""
	return s.persist(ctx, p)
}

func (s *Store) CropClip(ctx context.Context, projectID, clipID string, trimStart, trimEnd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	clips, err := timeline.Crop(p.Clips, clipID, trimStart, trimEnd)
	if err != nil {
		return err
	}
	p.Clips = clips
	p.TimelineEdited = true
	p.PreviewURL = ""
	return s.persist(ctx, p)
}

func (s *Store) DeleteClip(ctx context.Context, projectID, clipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	clips, err := timeline.Delete(p.Clips, clipID)
	if err != nil {
		return err
	}
	p.Clips = clips
	p.TimelineEdited = true
	p.PreviewURL = ""
	return s.persist(ctx, p)
}

func (s *Store) SetPreview(ctx context.Context, projectID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	p.PreviewURL = url
	return s.persist(ctx, p)
}

// SetFinalVideo records the stitched render. The final video is terminal:
// once set, later stitches are rejected.
func (s *Store) SetFinalVideo(ctx context.Context, projectID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	if p.FinalVideoURL != "" {
		return fmt.Errorf("project %s: %w", projectID, ErrFinalRendered)
	}
	p.FinalVideoURL = url
	return s.persist(ctx, p)
}

// --- internals; callers hold s.mu ---

func (s *Store) project(id string) (*Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrProjectNotFound)
	}
	return p, nil
}

func (s *Store) scene(p *Project, index int) (*SceneState, error) {
	if !p.ValidScene(index) {
		return nil, fmt.Errorf("scene %d: %w", index, ErrSceneOutOfRange)
	}
	return p.Scenes[index], nil
}

func (s *Store) persist(ctx context.Context, p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.Error("cannot persist project", "project_id", p.ID, "error", err)
		return fmt.Errorf("persist project: %w", err)
	}
	return nil
}

func (s *Store) issueTicket(projectID string, index int, kind GenerationKind) Ticket {
	key := inflightKey{projectID: projectID, scene: index, kind: kind}
	if op, ok := s.inflight[key]; ok {
		op.cancel()
	}

	genCtx, cancel := context.WithCancel(context.Background())
	token := s.nextToken.Add(1)
	s.inflight[key] = &inflightOp{token: token, cancel: cancel}

	return Ticket{
		ProjectID: projectID,
		Scene:     index,
		Kind:      kind,
		Token:     token,
		Ctx:       genCtx,
	}
}

func (s *Store) current(t Ticket) bool {
	op, ok := s.inflight[inflightKey{projectID: t.ProjectID, scene: t.Scene, kind: t.Kind}]
	return ok && op.token == t.Token
}

func (s *Store) clearInflight(t Ticket) {
	key := inflightKey{projectID: t.ProjectID, scene: t.Scene, kind: t.Kind}
	if op, ok := s.inflight[key]; ok && op.token == t.Token {
		op.cancel()
		delete(s.inflight, key)
	}
}

func selectVideo(scene *SceneState, id string) {
	scene.SelectedVideoID = id
	for _, v := range scene.GeneratedVideos {
		v.IsSelected = v.ID == id
	}
}

// rebuildClipsLocked derives the timeline from scenes holding a selected
// video. Manual edits pin the timeline until an explicit forced refresh.
func (s *Store) rebuildClipsLocked(p *Project) {
	if p.TimelineEdited {
		return
	}
	p.Clips = buildClips(p)
	p.PreviewURL = ""
}

func buildClips(p *Project) []*timeline.Clip {
	sources := make([]timeline.SourceVideo, 0, len(p.Scenes))
	for i, scene := range p.Scenes {
		video := scene.SelectedVideo()
		if video == nil {
			continue
		}
		sources = append(sources, timeline.SourceVideo{
			SceneID:   p.Storyboard[i].ID,
			LocalPath: video.LocalPath,
			Title:     p.Storyboard[i].Title,
			Duration:  video.Duration,
		})
	}
	return timeline.Initialize(sources)
}
