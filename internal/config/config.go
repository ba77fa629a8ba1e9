// Package config provides configuration management for the Reelcraft Engine.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8686
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reelcraft"

	// Environment variable names
	EnvPort     = "REELCRAFT_PORT"
	EnvLogLevel = "REELCRAFT_LOG_LEVEL"
	EnvDataDir  = "REELCRAFT_DATA_DIR"

	// Generation provider environment variable names
	EnvProviderURL       = "REELCRAFT_PROVIDER_URL"
	EnvProviderToken     = "REELCRAFT_PROVIDER_TOKEN"
	EnvImageModel        = "REELCRAFT_IMAGE_MODEL"
	EnvVideoModel        = "REELCRAFT_VIDEO_MODEL"
	EnvPollIntervalMs    = "REELCRAFT_POLL_INTERVAL_MS"
	EnvGenConcurrency    = "REELCRAFT_GEN_CONCURRENCY"
	EnvSeedFrameCount    = "REELCRAFT_SEED_FRAME_COUNT"
	EnvPreviewDebounceMs = "REELCRAFT_PREVIEW_DEBOUNCE_MS"

	// Storage environment variable names
	EnvStorageURL   = "REELCRAFT_STORAGE_URL"
	EnvStorageToken = "REELCRAFT_STORAGE_TOKEN"

	// Text generation environment variable names
	EnvOpenAIKey     = "REELCRAFT_OPENAI_API_KEY"
	EnvOpenAIBaseURL = "REELCRAFT_OPENAI_BASE_URL"
	EnvOpenAIModel   = "REELCRAFT_OPENAI_MODEL"

	// Media tool environment variable names
	EnvFFmpegPath  = "REELCRAFT_FFMPEG"
	EnvFFprobePath = "REELCRAFT_FFPROBE"

	// Database filename
	DBFilename = "reelcraft.db"

	// Generation defaults
	DefaultImageModel        = "black-forest-labs/flux-1.1-pro"
	DefaultVideoModel        = "kwaivgi/kling-v2.1"
	DefaultPollIntervalMs    = 2000
	DefaultImagePollTimeout  = 300  // seconds
	DefaultVideoPollTimeout  = 900  // seconds
	DefaultGenConcurrency    = 3
	DefaultSeedFrameCount    = 3
	DefaultPreviewDebounceMs = 500

	// Text generation defaults
	DefaultOpenAIModel = "gpt-4o"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	AssetsDir() string

	ProviderURL() string
	ProviderToken() string
	ImageModel() string
	VideoModel() string
	PollInterval() time.Duration
	ImagePollTimeout() time.Duration
	VideoPollTimeout() time.Duration
	GenConcurrency() int
	SeedFrameCount() int
	PreviewDebounce() time.Duration

	StorageURL() string
	StorageToken() string

	OpenAIKey() string
	OpenAIBaseURL() string
	OpenAIModel() string

	FFmpegPath() string
	FFprobePath() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	providerURL       string
	providerToken     string
	imageModel        string
	videoModel        string
	pollIntervalMs    int
	genConcurrency    int
	seedFrameCount    int
	previewDebounceMs int

	storageURL   string
	storageToken string

	openAIKey     string
	openAIBaseURL string
	openAIModel   string

	ffmpegPath  string
	ffprobePath string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		imageModel:        DefaultImageModel,
		videoModel:        DefaultVideoModel,
		pollIntervalMs:    DefaultPollIntervalMs,
		genConcurrency:    DefaultGenConcurrency,
		seedFrameCount:    DefaultSeedFrameCount,
		previewDebounceMs: DefaultPreviewDebounceMs,
		openAIModel:       DefaultOpenAIModel,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.providerURL = os.Getenv(EnvProviderURL)
	cfg.providerToken = os.Getenv(EnvProviderToken)

	if m := os.Getenv(EnvImageModel); m != "" {
		cfg.imageModel = m
	}
	if m := os.Getenv(EnvVideoModel); m != "" {
		cfg.videoModel = m
	}

	if err := intFromEnv(EnvPollIntervalMs, &cfg.pollIntervalMs, 100); err != nil {
		return nil, err
	}
	if err := intFromEnv(EnvGenConcurrency, &cfg.genConcurrency, 1); err != nil {
		return nil, err
	}
	if err := intFromEnv(EnvSeedFrameCount, &cfg.seedFrameCount, 1); err != nil {
		return nil, err
	}
	if err := intFromEnv(EnvPreviewDebounceMs, &cfg.previewDebounceMs, 0); err != nil {
		return nil, err
	}

	cfg.storageURL = os.Getenv(EnvStorageURL)
	cfg.storageToken = os.Getenv(EnvStorageToken)

	cfg.openAIKey = os.Getenv(EnvOpenAIKey)
	if cfg.openAIKey == "" {
		cfg.openAIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.openAIBaseURL = os.Getenv(EnvOpenAIBaseURL)
	if m := os.Getenv(EnvOpenAIModel); m != "" {
		cfg.openAIModel = m
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)

	return cfg, nil
}

// intFromEnv overrides *dst with a positive integer from the environment.
func intFromEnv(name string, dst *int, min int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < min {
		return fmt.Errorf("invalid %s: must be >= %d", name, min)
	}
	*dst = n
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AssetsDir returns the directory generated artifacts are written to
func (c *EnvConfig) AssetsDir() string {
	return filepath.Join(c.dataDir, "assets")
}

// ProviderURL returns the generation provider base URL.
// Empty means the provider is not configured and a stub client is used.
func (c *EnvConfig) ProviderURL() string {
	return c.providerURL
}

// ProviderToken returns the generation provider API token
func (c *EnvConfig) ProviderToken() string {
	return c.providerToken
}

// ImageModel returns the image generation model identifier
func (c *EnvConfig) ImageModel() string {
	return c.imageModel
}

// VideoModel returns the video generation model identifier
func (c *EnvConfig) VideoModel() string {
	return c.videoModel
}

// PollInterval returns the delay between prediction status polls
func (c *EnvConfig) PollInterval() time.Duration {
	return time.Duration(c.pollIntervalMs) * time.Millisecond
}

// ImagePollTimeout returns the total poll budget for one image prediction
func (c *EnvConfig) ImagePollTimeout() time.Duration {
	return time.Duration(DefaultImagePollTimeout) * time.Second
}

// VideoPollTimeout returns the total poll budget for one video prediction
func (c *EnvConfig) VideoPollTimeout() time.Duration {
	return time.Duration(DefaultVideoPollTimeout) * time.Second
}

// GenConcurrency returns the provider call concurrency bound
func (c *EnvConfig) GenConcurrency() int {
	return c.genConcurrency
}

// SeedFrameCount returns how many continuity frames are extracted per approval
func (c *EnvConfig) SeedFrameCount() int {
	return c.seedFrameCount
}

// PreviewDebounce returns the preview regeneration debounce window
func (c *EnvConfig) PreviewDebounce() time.Duration {
	return time.Duration(c.previewDebounceMs) * time.Millisecond
}

// StorageURL returns the durable asset store base URL.
// Empty means uploads stay on the local filesystem.
func (c *EnvConfig) StorageURL() string {
	return c.storageURL
}

// StorageToken returns the asset store bearer token
func (c *EnvConfig) StorageToken() string {
	return c.storageToken
}

// OpenAIKey returns the text generation API key
func (c *EnvConfig) OpenAIKey() string {
	return c.openAIKey
}

// OpenAIBaseURL returns an optional OpenAI-compatible gateway URL
func (c *EnvConfig) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

// OpenAIModel returns the storyboard text model
func (c *EnvConfig) OpenAIModel() string {
	return c.openAIModel
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
