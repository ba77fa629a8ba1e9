package continuity

import (
	"reflect"
	"testing"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

func twoSceneProject() *project.Project {
	p := project.NewProject("Demo", "a citrus soda ad", "9:16", 30)
	p.Storyboard = []project.SceneSpec{
		{ID: "spec-0", Order: 0, ImagePrompt: "opening shot"},
		{ID: "spec-1", Order: 1, ImagePrompt: "product close-up"},
	}
	p.Scenes = []*project.SceneState{project.NewSceneState(), project.NewSceneState()}
	return p
}

func TestResolve_CustomInputWins(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[1].CustomImageInput = "https://cdn.example.com/custom.png"
	p.Scenes[1].SeedImageID = "some-image"
	p.Scenes[1].SeedFrames = []*project.SeedFrame{{ID: "f1", URL: "https://cdn.example.com/frame.png"}}

	res, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedURL != "https://cdn.example.com/custom.png" {
		t.Errorf("SeedURL = %q, want custom input", res.SeedURL)
	}
	if res.SeedSource != SeedCustomInput {
		t.Errorf("SeedSource = %q, want %q", res.SeedSource, SeedCustomInput)
	}
	if len(res.Breaks) != 0 {
		t.Errorf("Breaks = %v, want none", res.Breaks)
	}
}

func TestResolve_ExplicitMediaSelection(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[0].GeneratedImages = []*project.GeneratedImage{
		{ID: "img-1", URL: "https://cdn.example.com/img1.png"},
	}
	p.Scenes[1].SeedImageID = "img-1"

	res, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedURL != "https://cdn.example.com/img1.png" {
		t.Errorf("SeedURL = %q, want drawer image", res.SeedURL)
	}
	if res.SeedSource != SeedMediaImage {
		t.Errorf("SeedSource = %q, want %q", res.SeedSource, SeedMediaImage)
	}
}

func TestResolve_DanglingExplicitSelection(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[1].SeedImageID = "gone"
	p.Scenes[1].SeedFrames = []*project.SeedFrame{{ID: "f1", URL: "https://cdn.example.com/frame.png"}}

	res, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	// An explicit choice that dangles must not silently fall through to the
	// seed frame chain.
	if res.SeedURL != "" || res.SeedSource != SeedNone {
		t.Errorf("seed = (%q, %q), want none", res.SeedURL, res.SeedSource)
	}
	if len(res.Breaks) != 1 {
		t.Fatalf("Breaks = %v, want exactly one", res.Breaks)
	}
}

func TestResolve_SeedFrameChain(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[1].SeedFrames = []*project.SeedFrame{
		{ID: "f1", URL: "https://cdn.example.com/f1.png", Timestamp: 4.5},
		{ID: "f2", URL: "https://cdn.example.com/f2.png", Timestamp: 4.8},
	}

	tests := []struct {
		name     string
		selected int
		want     string
	}{
		{"default index", 0, "https://cdn.example.com/f1.png"},
		{"explicit index", 1, "https://cdn.example.com/f2.png"},
		{"out of range clamps to first", 7, "https://cdn.example.com/f1.png"},
		{"negative clamps to first", -2, "https://cdn.example.com/f1.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Scenes[1].SelectedSeedFrame = tt.selected
			res, err := Resolve(p, 1)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.SeedURL != tt.want {
				t.Errorf("SeedURL = %q, want %q", res.SeedURL, tt.want)
			}
			if res.SeedSource != SeedFrame {
				t.Errorf("SeedSource = %q, want %q", res.SeedSource, SeedFrame)
			}
		})
	}
}

func TestResolve_SeedFrameMissingRecordsBreak(t *testing.T) {
	p := twoSceneProject()

	res, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedURL != "" {
		t.Errorf("SeedURL = %q, want empty", res.SeedURL)
	}
	if len(res.Breaks) != 1 {
		t.Errorf("Breaks = %v, want one entry", res.Breaks)
	}
}

func TestResolve_OptedOutSkipsSeedFrames(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[1].UseSeedFrame = false
	p.Scenes[1].SeedFrames = []*project.SeedFrame{{ID: "f1", URL: "https://cdn.example.com/f1.png"}}

	res, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedURL != "" || res.SeedSource != SeedNone {
		t.Errorf("seed = (%q, %q), want none", res.SeedURL, res.SeedSource)
	}
	if len(res.Breaks) != 0 {
		t.Errorf("Breaks = %v, want none when continuity is opted out", res.Breaks)
	}
}

func TestResolve_FirstSceneUsesProjectReference(t *testing.T) {
	p := twoSceneProject()
	p.ReferenceImages = []*project.ReferenceImage{
		{ID: "ref-1", URL: "https://cdn.example.com/ref1.png"},
		{ID: "ref-2", URL: "https://cdn.example.com/ref2.png"},
	}

	res, err := Resolve(p, 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedURL != "https://cdn.example.com/ref1.png" {
		t.Errorf("SeedURL = %q, want first project reference", res.SeedURL)
	}
	if res.SeedSource != SeedReference {
		t.Errorf("SeedSource = %q, want %q", res.SeedSource, SeedReference)
	}

	// Later scenes never inherit the project reference seed.
	res, err = Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SeedSource == SeedReference {
		t.Error("scene 1 must not seed from project reference images")
	}
}

func TestResolve_ReferencePriority(t *testing.T) {
	p := twoSceneProject()
	p.Scenes[0].GeneratedImages = []*project.GeneratedImage{
		{ID: "img-1", URL: "https://cdn.example.com/img1.png"},
	}

	tests := []struct {
		name   string
		mutate func(s *project.SceneState)
		want   []string
		breaks int
	}{
		{
			name: "per-scene urls win",
			mutate: func(s *project.SceneState) {
				s.ReferenceImageURLs = []string{"u1", "u2"}
				s.ReferenceImageID = "img-1"
			},
			want: []string{"u1", "u2"},
		},
		{
			name: "per-scene urls capped at three",
			mutate: func(s *project.SceneState) {
				s.ReferenceImageURLs = []string{"u1", "u2", "u3", "u4", "u5"}
			},
			want: []string{"u1", "u2", "u3"},
		},
		{
			name: "composition box id resolves",
			mutate: func(s *project.SceneState) {
				s.ReferenceImageID = "img-1"
			},
			want: []string{"https://cdn.example.com/img1.png"},
		},
		{
			name: "dangling composition id yields empty with break",
			mutate: func(s *project.SceneState) {
				s.ReferenceImageID = "gone"
			},
			want:   nil,
			breaks: 1,
		},
		{
			name:   "no references at all",
			mutate: func(s *project.SceneState) {},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scene := project.NewSceneState()
			scene.UseSeedFrame = false
			tt.mutate(scene)
			p.Scenes[1] = scene

			res, err := Resolve(p, 1)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(res.ReferenceURLs, tt.want) {
				t.Errorf("ReferenceURLs = %v, want %v", res.ReferenceURLs, tt.want)
			}
			if len(res.Breaks) != tt.breaks {
				t.Errorf("Breaks = %v, want %d entries", res.Breaks, tt.breaks)
			}
		})
	}
}

func TestResolve_PureAndDeterministic(t *testing.T) {
	p := twoSceneProject()
	p.ReferenceImages = []*project.ReferenceImage{{ID: "ref-1", URL: "https://cdn.example.com/ref1.png"}}
	p.Scenes[1].SeedFrames = []*project.SeedFrame{{ID: "f1", URL: "https://cdn.example.com/f1.png"}}
	p.Scenes[1].ReferenceImageURLs = []string{"u1"}

	snapshot := p.Clone()

	first, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := Resolve(p, 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("two resolutions differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(p, snapshot) {
		t.Error("Resolve mutated the project")
	}
}

func TestResolve_IndexOutOfRange(t *testing.T) {
	p := twoSceneProject()
	if _, err := Resolve(p, 5); err == nil {
		t.Fatal("expected error for out-of-range scene index")
	}
}
