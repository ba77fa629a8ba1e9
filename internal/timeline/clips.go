// Package timeline owns the editable clip list derived from approved scene
// videos. Every operation is pure: it returns a fresh clip slice with
// positions recomputed and never mutates its input.
package timeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrClipNotFound    = errors.New("clip not found")
	ErrSplitOutOfRange = errors.New("split point must be strictly inside the clip")
	ErrCropInvalid     = errors.New("crop must leave a positive duration")
)

// Clip is one editable unit on the timeline. All times are seconds.
// TrimStart/TrimEnd are offsets into the source video; StartTime/EndTime are
// timeline positions and are only ever written by Recompute.
type Clip struct {
	ID             string  `json:"id"`
	SceneID        string  `json:"scene_id"`
	VideoLocalPath string  `json:"video_local_path"`
	Title          string  `json:"title"`
	SourceDuration float64 `json:"source_duration"`
	TrimStart      float64 `json:"trim_start"`
	TrimEnd        float64 `json:"trim_end"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	Duration       float64 `json:"duration"`
}

// Trimmed reports whether the clip plays anything less than its full source.
func (c *Clip) Trimmed() bool {
	return c.TrimStart != 0 || c.TrimEnd != 0
}

func (c *Clip) Clone() *Clip {
	dup := *c
	return &dup
}

func CloneClips(clips []*Clip) []*Clip {
	out := make([]*Clip, len(clips))
	for i, c := range clips {
		out[i] = c.Clone()
	}
	return out
}

// SourceVideo describes one approved scene video the timeline is built from.
type SourceVideo struct {
	SceneID   string
	LocalPath string
	Title     string
	Duration  float64
}

// Initialize builds one untrimmed clip per source video, in order.
func Initialize(sources []SourceVideo) []*Clip {
	clips := make([]*Clip, 0, len(sources))
	for _, src := range sources {
		clips = append(clips, &Clip{
			ID:             uuid.NewString(),
			SceneID:        src.SceneID,
			VideoLocalPath: src.LocalPath,
			Title:          src.Title,
			SourceDuration: src.Duration,
			TrimStart:      0,
			TrimEnd:        0,
		})
	}
	Recompute(clips)
	return clips
}

// Recompute rewrites Duration, StartTime and EndTime for every clip by
// cumulative sum in order. It is the single source of truth for timeline
// positions; nothing else may write them.
func Recompute(clips []*Clip) {
	at := 0.0
	for _, c := range clips {
		c.Duration = c.SourceDuration - c.TrimStart - c.TrimEnd
		c.StartTime = at
		c.EndTime = at + c.Duration
		at = c.EndTime
	}
}

// TotalDuration returns the playable length of the timeline.
func TotalDuration(clips []*Clip) float64 {
	total := 0.0
	for _, c := range clips {
		total += c.SourceDuration - c.TrimStart - c.TrimEnd
	}
	return total
}

// Split replaces the clip with two clips whose trim ranges partition the
// original. The split point is a timeline position and must fall strictly
// inside the clip's span. Returns a new slice; the input is not mutated.
func Split(clips []*Clip, clipID string, at float64) ([]*Clip, error) {
	idx := indexOf(clips, clipID)
	if idx < 0 {
		return nil, fmt.Errorf("split %s: %w", clipID, ErrClipNotFound)
	}

	target := clips[idx]
	if at <= target.StartTime || at >= target.EndTime {
		return nil, fmt.Errorf("split %s at %.3f: %w", clipID, at, ErrSplitOutOfRange)
	}
	offset := at - target.StartTime

	first := target.Clone()
	first.TrimEnd = target.SourceDuration - target.TrimStart - offset

	second := target.Clone()
	second.ID = uuid.NewString()
	second.TrimStart = target.TrimStart + offset

	out := make([]*Clip, 0, len(clips)+1)
	out = append(out, CloneClips(clips[:idx])...)
	out = append(out, first, second)
	out = append(out, CloneClips(clips[idx+1:])...)
	Recompute(out)
	return out, nil
}

// Crop adjusts a clip's playable range. The resulting duration must stay
// positive. Returns a new slice; the input is not mutated.
func Crop(clips []*Clip, clipID string, trimStart, trimEnd float64) ([]*Clip, error) {
	idx := indexOf(clips, clipID)
	if idx < 0 {
		return nil, fmt.Errorf("crop %s: %w", clipID, ErrClipNotFound)
	}

	target := clips[idx]
	if trimStart < 0 || trimEnd < 0 || target.SourceDuration-trimStart-trimEnd <= 0 {
		return nil, fmt.Errorf("crop %s (start=%.3f end=%.3f): %w", clipID, trimStart, trimEnd, ErrCropInvalid)
	}

	out := CloneClips(clips)
	out[idx].TrimStart = trimStart
	out[idx].TrimEnd = trimEnd
	Recompute(out)
	return out, nil
}

// Delete removes the clip; subsequent clips shift left by its duration.
// Returns a new slice; the input is not mutated.
func Delete(clips []*Clip, clipID string) ([]*Clip, error) {
	idx := indexOf(clips, clipID)
	if idx < 0 {
		return nil, fmt.Errorf("delete %s: %w", clipID, ErrClipNotFound)
	}

	out := make([]*Clip, 0, len(clips)-1)
	out = append(out, CloneClips(clips[:idx])...)
	out = append(out, CloneClips(clips[idx+1:])...)
	Recompute(out)
	return out, nil
}

func indexOf(clips []*Clip, clipID string) int {
	for i, c := range clips {
		if c.ID == clipID {
			return i
		}
	}
	return -1
}
