// Package continuity computes which seed image and reference images apply to
// a scene's generation. Resolution is pure: it reads project state, mutates
// nothing, and is re-run on every generation call because upstream selections
// can change between calls.
package continuity

import (
	"fmt"

	"github.com/reelcraft/reelcraft-engine/internal/project"
)

// SeedSource identifies which rung of the priority chain produced the seed.
type SeedSource string

const (
	SeedNone        SeedSource = "none"
	SeedCustomInput SeedSource = "custom_input"
	SeedMediaImage  SeedSource = "media_image"
	SeedFrame       SeedSource = "seed_frame"
	SeedReference   SeedSource = "reference_image"
)

// Resolution is the resolver's answer for one scene. Breaks lists continuity
// problems encountered on the way; callers log them and proceed. A missing
// seed is never silently fabricated.
type Resolution struct {
	SeedURL       string
	SeedSource    SeedSource
	ReferenceURLs []string
	Breaks        []string
}

// Resolve computes the seed image and reference set for scene i.
//
// Seed priority: the scene's own custom input; an explicit media drawer
// selection (a dangling id records a break and does not fall through, since
// an explicit choice is never silently replaced); the scene's seed frames
// from the previous scene's approved video, when the scene opts into
// continuity; for the first scene only, the first project reference image.
func Resolve(p *project.Project, i int) (Resolution, error) {
	if !p.ValidScene(i) {
		return Resolution{}, fmt.Errorf("continuity: scene index %d out of range", i)
	}
	scene := p.Scenes[i]

	res := Resolution{SeedSource: SeedNone}
	res.SeedURL, res.SeedSource, res.Breaks = resolveSeed(p, scene, i)
	res.ReferenceURLs, res.Breaks = resolveReferences(p, scene, res.Breaks)
	return res, nil
}

func resolveSeed(p *project.Project, scene *project.SceneState, i int) (string, SeedSource, []string) {
	var breaks []string

	if scene.CustomImageInput != "" {
		return scene.CustomImageInput, SeedCustomInput, breaks
	}

	if scene.SeedImageID != "" {
		url, ok := p.MediaURL(scene.SeedImageID)
		if ok {
			return url, SeedMediaImage, breaks
		}
		breaks = append(breaks, fmt.Sprintf("seed image %s not found in media drawer", scene.SeedImageID))
		return "", SeedNone, breaks
	}

	if scene.UseSeedFrame && i > 0 {
		if len(scene.SeedFrames) == 0 {
			breaks = append(breaks, "continuity requested but no seed frames available from previous scene")
			return "", SeedNone, breaks
		}
		idx := scene.SelectedSeedFrame
		if idx < 0 || idx >= len(scene.SeedFrames) {
			idx = 0
		}
		return scene.SeedFrames[idx].URL, SeedFrame, breaks
	}

	if i == 0 && len(p.ReferenceImages) > 0 {
		return p.ReferenceImages[0].URL, SeedReference, breaks
	}

	return "", SeedNone, breaks
}

func resolveReferences(p *project.Project, scene *project.SceneState, breaks []string) ([]string, []string) {
	if len(scene.ReferenceImageURLs) > 0 {
		urls := append([]string(nil), scene.ReferenceImageURLs...)
		if len(urls) > project.MaxReferenceImages {
			urls = urls[:project.MaxReferenceImages]
		}
		return urls, breaks
	}

	if scene.ReferenceImageID != "" {
		url, ok := p.MediaURL(scene.ReferenceImageID)
		if ok {
			return []string{url}, breaks
		}
		breaks = append(breaks, fmt.Sprintf("reference image %s not found in media drawer", scene.ReferenceImageID))
	}

	// Project-level references only ever act as the first scene's seed;
	// they are not a reference fallback.
	return nil, breaks
}
