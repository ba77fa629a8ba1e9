// Package export renders a project's clip timeline as a CMX3600 edit
// decision list so the cut can be finished in a desktop NLE.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/reelcraft/reelcraft-engine/internal/timeline"
)

// Options configures one EDL render.
type Options struct {
	Title     string
	FrameRate float64 // 0 means 30 fps
}

// EDL builds a CMX3600 edit list from the timeline. Source timecodes honor
// each clip's trims against its own source file; record timecodes restate
// the clip's position in the stitched output.
func EDL(clips []*timeline.Clip, opts Options) string {
	fps := int(math.Round(opts.FrameRate))
	if fps <= 0 {
		fps = 30
	}
	title := SanitizeName(opts.Title, 70)
	if title == "" {
		title = "Untitled Timeline"
	}

	isDropFrame := math.Abs(opts.FrameRate-29.97) < 0.01 || math.Abs(opts.FrameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordMs := 0
	for i, clip := range clips {
		srcInMs := toMs(clip.TrimStart)
		srcOutMs := toMs(clip.SourceDuration - clip.TrimEnd)
		durationMs := srcOutMs - srcInMs

		name := SanitizeName(clip.Title, 70)
		if name == "" {
			name = fmt.Sprintf("Clip %03d", i+1)
		}

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				msToTimecode(srcInMs, fps), msToTimecode(srcOutMs, fps),
				msToTimecode(recordMs, fps), msToTimecode(recordMs+durationMs, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", name),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.VideoLocalPath),
		)

		recordMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func toMs(seconds float64) int {
	return int(math.Round(seconds * 1000))
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
