package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// StubTool is a no-ffmpeg stand-in. It writes placeholder artifacts so
// the engine stays exercisable on machines without ffmpeg installed.
type StubTool struct {
	logger *slog.Logger
}

func NewStubTool(logger *slog.Logger) *StubTool {
	return &StubTool{logger: logger}
}

func (t *StubTool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	t.logger.Debug("media stub: probe", "path", filepath.Base(path))
	return ProbeResult{Duration: 5, Width: 1280, Height: 720}, nil
}

func (t *StubTool) ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]Frame, error) {
	if count <= 0 {
		count = 1
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create frames dir: %w", err)
	}

	t.logger.Debug("media stub: extract frames", "video", filepath.Base(videoPath), "count", count)

	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		outPath := filepath.Join(outDir, fmt.Sprintf("frame_%02d.jpg", i+1))
		if err := t.writePlaceholder(outPath); err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Path: outPath, Timestamp: 5 - frameStep*float64(count-i)})
	}
	return frames, nil
}

func (t *StubTool) MaterializeTrim(ctx context.Context, srcPath, outPath string, trimStart, trimEnd float64) error {
	t.logger.Debug("media stub: materialize trim",
		"src", filepath.Base(srcPath),
		"trim_start", trimStart,
		"trim_end", trimEnd,
	)
	return t.writePlaceholder(outPath)
}

func (t *StubTool) Stitch(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to stitch")
	}
	t.logger.Debug("media stub: stitch", "inputs", len(inputs))
	return t.writePlaceholder(outPath)
}

func (t *StubTool) Preview(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to preview")
	}
	t.logger.Debug("media stub: preview", "inputs", len(inputs))
	return t.writePlaceholder(outPath)
}

func (t *StubTool) writePlaceholder(outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}
	return os.WriteFile(outPath, []byte("reelcraft stub artifact\n"), 0644)
}
