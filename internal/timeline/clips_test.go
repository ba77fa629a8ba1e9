package timeline

import (
	"errors"
	"math"
	"testing"
)

func checkContiguous(t *testing.T, clips []*Clip) {
	t.Helper()
	if len(clips) == 0 {
		return
	}
	if clips[0].StartTime != 0 {
		t.Fatalf("clips[0].StartTime = %v, want 0", clips[0].StartTime)
	}
	for i := 0; i < len(clips)-1; i++ {
		if clips[i].EndTime != clips[i+1].StartTime {
			t.Fatalf("clips[%d].EndTime = %v, clips[%d].StartTime = %v, want equal",
				i, clips[i].EndTime, i+1, clips[i+1].StartTime)
		}
	}
}

func threeClipTimeline() []*Clip {
	return Initialize([]SourceVideo{
		{SceneID: "scene-1", LocalPath: "/tmp/a.mp4", Title: "Opening", Duration: 5},
		{SceneID: "scene-2", LocalPath: "/tmp/b.mp4", Title: "Product", Duration: 8},
		{SceneID: "scene-3", LocalPath: "/tmp/c.mp4", Title: "Call to action", Duration: 7},
	})
}

func TestInitialize(t *testing.T) {
	clips := threeClipTimeline()

	if len(clips) != 3 {
		t.Fatalf("len(clips) = %d, want 3", len(clips))
	}
	checkContiguous(t, clips)

	if clips[0].StartTime != 0 || clips[0].EndTime != 5 {
		t.Errorf("clip 0 span = [%v, %v], want [0, 5]", clips[0].StartTime, clips[0].EndTime)
	}
	if clips[1].StartTime != 5 || clips[1].EndTime != 13 {
		t.Errorf("clip 1 span = [%v, %v], want [5, 13]", clips[1].StartTime, clips[1].EndTime)
	}
	if clips[2].EndTime != 20 {
		t.Errorf("clip 2 EndTime = %v, want 20", clips[2].EndTime)
	}
	if got := TotalDuration(clips); got != 20 {
		t.Errorf("TotalDuration = %v, want 20", got)
	}
	for i, c := range clips {
		if c.TrimStart != 0 || c.TrimEnd != 0 {
			t.Errorf("clip %d trims = (%v, %v), want (0, 0)", i, c.TrimStart, c.TrimEnd)
		}
	}
}

func TestSplit_ConservesDuration(t *testing.T) {
	clips := threeClipTimeline()
	before := TotalDuration(clips)

	out, err := Split(clips, clips[1].ID, 8) // 3s into the middle clip
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(out) != 4 {
		t.Fatalf("len after split = %d, want 4", len(out))
	}
	checkContiguous(t, out)

	if got := TotalDuration(out); math.Abs(got-before) > 1e-9 {
		t.Errorf("TotalDuration after split = %v, want %v", got, before)
	}

	// First half keeps the original id, second half is new.
	if out[1].ID != clips[1].ID {
		t.Errorf("first half id = %q, want original %q", out[1].ID, clips[1].ID)
	}
	if out[2].ID == clips[1].ID {
		t.Error("second half must get a fresh id")
	}
	if out[1].Duration != 3 || out[2].Duration != 5 {
		t.Errorf("split durations = (%v, %v), want (3, 5)", out[1].Duration, out[2].Duration)
	}

	// Trim ranges partition the source.
	if out[1].TrimStart != 0 || out[1].TrimEnd != 5 {
		t.Errorf("first half trims = (%v, %v), want (0, 5)", out[1].TrimStart, out[1].TrimEnd)
	}
	if out[2].TrimStart != 3 || out[2].TrimEnd != 0 {
		t.Errorf("second half trims = (%v, %v), want (3, 0)", out[2].TrimStart, out[2].TrimEnd)
	}
}

func TestSplit_RejectsBoundaries(t *testing.T) {
	clips := threeClipTimeline()

	tests := []struct {
		name string
		at   float64
	}{
		{"at clip start", 5},
		{"at clip end", 13},
		{"before clip", 2},
		{"after clip", 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(clips, clips[1].ID, tt.at)
			if !errors.Is(err, ErrSplitOutOfRange) {
				t.Errorf("Split(at=%v) error = %v, want ErrSplitOutOfRange", tt.at, err)
			}
		})
	}
}

func TestSplit_UnknownClip(t *testing.T) {
	clips := threeClipTimeline()
	if _, err := Split(clips, "nope", 1); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("error = %v, want ErrClipNotFound", err)
	}
}

func TestCrop(t *testing.T) {
	clips := threeClipTimeline()

	out, err := Crop(clips, clips[0].ID, 1, 1.5)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	checkContiguous(t, out)

	if out[0].Duration != 2.5 {
		t.Errorf("cropped duration = %v, want 2.5", out[0].Duration)
	}
	if out[1].StartTime != 2.5 {
		t.Errorf("next clip shifted to %v, want 2.5", out[1].StartTime)
	}
}

func TestCrop_Rejected(t *testing.T) {
	clips := threeClipTimeline()

	tests := []struct {
		name      string
		trimStart float64
		trimEnd   float64
	}{
		{"negative trim start", -1, 0},
		{"negative trim end", 0, -0.5},
		{"consumes whole clip", 3, 2},
		{"exceeds source", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Crop(clips, clips[0].ID, tt.trimStart, tt.trimEnd)
			if !errors.Is(err, ErrCropInvalid) {
				t.Errorf("Crop(%v, %v) error = %v, want ErrCropInvalid", tt.trimStart, tt.trimEnd, err)
			}
		})
	}
}

func TestDelete_ShiftsFollowingClips(t *testing.T) {
	// Deleting a 5s clip from a 3-clip 20s timeline leaves 2 clips and 15s.
	clips := threeClipTimeline()

	out, err := Delete(clips, clips[0].ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("len after delete = %d, want 2", len(out))
	}
	checkContiguous(t, out)

	if got := TotalDuration(out); got != 15 {
		t.Errorf("TotalDuration = %v, want 15", got)
	}
	if out[0].StartTime != 0 || out[0].EndTime != 8 {
		t.Errorf("clip 0 span = [%v, %v], want [0, 8]", out[0].StartTime, out[0].EndTime)
	}
	if out[1].StartTime != 8 || out[1].EndTime != 15 {
		t.Errorf("clip 1 span = [%v, %v], want [8, 15]", out[1].StartTime, out[1].EndTime)
	}
}

func TestDelete_UnknownClip(t *testing.T) {
	clips := threeClipTimeline()
	if _, err := Delete(clips, "nope"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("error = %v, want ErrClipNotFound", err)
	}
}

func TestOperations_DoNotMutateInput(t *testing.T) {
	clips := threeClipTimeline()
	id := clips[1].ID

	if _, err := Split(clips, id, 8); err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if _, err := Crop(clips, id, 1, 1); err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if _, err := Delete(clips, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(clips) != 3 {
		t.Fatalf("input length changed to %d", len(clips))
	}
	if clips[1].TrimStart != 0 || clips[1].TrimEnd != 0 {
		t.Errorf("input clip trims changed to (%v, %v)", clips[1].TrimStart, clips[1].TrimEnd)
	}
	if got := TotalDuration(clips); got != 20 {
		t.Errorf("input TotalDuration changed to %v", got)
	}
}

func TestEditSequence_KeepsInvariant(t *testing.T) {
	clips := threeClipTimeline()

	var err error
	clips, err = Split(clips, clips[1].ID, 9)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	clips, err = Crop(clips, clips[0].ID, 0.5, 0)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	clips, err = Delete(clips, clips[2].ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	checkContiguous(t, clips)
	if len(clips) != 3 {
		t.Fatalf("len = %d, want 3", len(clips))
	}
	// 20 - 0.5 (crop) - 4 (deleted second half of the split) = 15.5
	if got := TotalDuration(clips); math.Abs(got-15.5) > 1e-9 {
		t.Errorf("TotalDuration = %v, want 15.5", got)
	}
}
