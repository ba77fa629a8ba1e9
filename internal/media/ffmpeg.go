// Package media wraps ffmpeg/ffprobe as the engine's compositing and
// frame-extraction collaborator.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// frameStep is the spacing between tail-frame candidates, counted
	// back from the end of the video.
	frameStep = 0.25
)

// ProbeResult holds the metadata the engine needs from a media file.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
}

// Frame is one extracted still.
type Frame struct {
	Path      string
	Timestamp float64 // seconds from the start of the source video
}

// RunResult captures the outcome of one ffmpeg invocation.
type RunResult struct {
	ExitCode   int
	OutputPath string
	StderrTail string
	Duration   time.Duration
}

func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}

// Tool is the compositing contract used throughout the engine.
type Tool interface {
	// Probe reads duration and dimensions from a media file.
	Probe(ctx context.Context, path string) (ProbeResult, error)

	// ExtractFrames pulls count stills from the tail of videoPath into
	// outDir, oldest candidate first.
	ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]Frame, error)

	// MaterializeTrim cuts trimStart seconds off the head and trimEnd
	// seconds off the tail of srcPath, writing the result to outPath.
	MaterializeTrim(ctx context.Context, srcPath, outPath string, trimStart, trimEnd float64) error

	// Stitch concatenates the inputs into outPath without re-encoding.
	Stitch(ctx context.Context, inputs []string, outPath string) error

	// Preview concatenates the inputs into a downscaled render suitable
	// for quick playback.
	Preview(ctx context.Context, inputs []string, outPath string) error
}

// Config holds the tool's configuration.
type Config struct {
	FFmpegPath     string        // path to ffmpeg binary; empty = auto-detect
	FFprobePath    string        // path to ffprobe binary; empty = auto-detect
	ProbeTimeout   time.Duration // timeout for metadata probes
	ExtractTimeout time.Duration // timeout for frame extraction
	TrimTimeout    time.Duration // timeout for trim materialization
	StitchTimeout  time.Duration // timeout for lossless stitching
	PreviewTimeout time.Duration // timeout for preview renders
	Logger         *slog.Logger
	DebugPaths     bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:     "", // auto-detect
		FFprobePath:    "", // auto-detect
		ProbeTimeout:   30 * time.Second,
		ExtractTimeout: 2 * time.Minute,
		TrimTimeout:    10 * time.Minute,
		StitchTimeout:  10 * time.Minute,
		PreviewTimeout: 5 * time.Minute,
		Logger:         logger,
		DebugPaths:     false,
	}
}

// FFmpegTool is the production implementation of Tool.
type FFmpegTool struct {
	cfg     Config
	ffmpeg  string // resolved ffmpeg path
	ffprobe string // resolved ffprobe path
}

// NewTool creates an FFmpegTool, resolving both binaries.
func NewTool(cfg Config) (*FFmpegTool, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("media tool initialised",
		"ffmpeg", ffmpeg,
		"ffprobe", ffprobe,
	)

	return &FFmpegTool{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// Probe reads format and stream metadata via ffprobe.
func (t *FFmpegTool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	type probeStream struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	}
	type probeFormat struct {
		Duration string `json:"duration"`
	}
	type probeOutput struct {
		Streams []probeStream `json:"streams"`
		Format  probeFormat   `json:"format"`
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %s", t.safePath(path), detail)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	var probe ProbeResult
	if v, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil && v > 0 {
		probe.Duration = v
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			probe.Width = s.Width
			probe.Height = s.Height
			break
		}
	}

	if probe.Duration <= 0 {
		return probe, fmt.Errorf("ffprobe reported no duration for %s", t.safePath(path))
	}
	return probe, nil
}

// ExtractFrames pulls stills from the last second of the video, stepping
// back from the final frame. The tail is where the approved motion has
// settled, so those frames make the best continuity seeds.
func (t *FFmpegTool) ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]Frame, error) {
	if count <= 0 {
		count = 1
	}

	probe, err := t.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create frames dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ExtractTimeout)
	defer cancel()

	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		offset := frameStep * float64(count-i)
		outPath := filepath.Join(outDir, fmt.Sprintf("frame_%02d.jpg", i+1))

		result := t.exec(ctx, outPath,
			"-sseof", fmt.Sprintf("-%.2f", offset),
			"-i", videoPath,
			"-update", "1",
			"-q:v", "2",
			"-frames:v", "1",
			"-y", outPath,
		)
		if !result.IsSuccess() {
			return nil, fmt.Errorf("extract frame %d exited %d: %s", i+1, result.ExitCode, result.StderrTail)
		}

		ts := probe.Duration - offset
		if ts < 0 {
			ts = 0
		}
		frames = append(frames, Frame{Path: outPath, Timestamp: ts})
	}

	return frames, nil
}

// MaterializeTrim cuts the trimmed span out of srcPath with a stream copy.
func (t *FFmpegTool) MaterializeTrim(ctx context.Context, srcPath, outPath string, trimStart, trimEnd float64) error {
	probe, err := t.Probe(ctx, srcPath)
	if err != nil {
		return err
	}

	end := probe.Duration - trimEnd
	if trimStart < 0 || trimEnd < 0 || end <= trimStart {
		return fmt.Errorf("trim %.3f..%.3f leaves nothing of a %.3fs source", trimStart, end, probe.Duration)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.TrimTimeout)
	defer cancel()

	result := t.exec(ctx, outPath,
		"-i", srcPath,
		"-ss", fmt.Sprintf("%.3f", trimStart),
		"-to", fmt.Sprintf("%.3f", end),
		"-c", "copy",
		"-y", outPath,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("trim exited %d: %s", result.ExitCode, result.StderrTail)
	}
	return nil
}

// Stitch concatenates inputs with the concat demuxer, stream-copied.
func (t *FFmpegTool) Stitch(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to stitch")
	}

	listPath, err := writeConcatList(inputs, outPath)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.StitchTimeout)
	defer cancel()

	result := t.exec(ctx, outPath,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", outPath,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("stitch exited %d: %s", result.ExitCode, result.StderrTail)
	}
	return nil
}

// Preview concatenates inputs into a downscaled fast-start render.
func (t *FFmpegTool) Preview(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to preview")
	}

	listPath, err := writeConcatList(inputs, outPath)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.PreviewTimeout)
	defer cancel()

	result := t.exec(ctx, outPath,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", "scale='min(640,iw)':-2",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "30",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-y", outPath,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("preview exited %d: %s", result.ExitCode, result.StderrTail)
	}
	return nil
}

// exec is the core ffmpeg execution helper.
func (t *FFmpegTool) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			t.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	t.cfg.Logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		t.cfg.Logger.Warn("ffmpeg command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		t.cfg.Logger.Info("ffmpeg command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", t.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (t *FFmpegTool) safePath(path string) string {
	if t.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// writeConcatList writes a concat-demuxer list next to the output file.
func writeConcatList(inputs []string, outPath string) (string, error) {
	listPath := filepath.Join(filepath.Dir(outPath), "concat_list.txt")

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create output dir: %w", err)
	}

	var buf bytes.Buffer
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return "", fmt.Errorf("cannot resolve input path %s: %w", input, err)
		}
		fmt.Fprintf(&buf, "file '%s'\n", abs)
	}

	if err := os.WriteFile(listPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("cannot write concat list: %w", err)
	}
	return listPath, nil
}

// resolveBinary finds a usable binary on PATH.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
