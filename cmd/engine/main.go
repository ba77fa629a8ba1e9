package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reelcraft/reelcraft-engine/internal/api"
	"github.com/reelcraft/reelcraft-engine/internal/config"
	"github.com/reelcraft/reelcraft-engine/internal/db"
	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/logging"
	"github.com/reelcraft/reelcraft-engine/internal/media"
	"github.com/reelcraft/reelcraft-engine/internal/playback"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/render"
	"github.com/reelcraft/reelcraft-engine/internal/scene"
	"github.com/reelcraft/reelcraft-engine/internal/storage"
	"github.com/reelcraft/reelcraft-engine/internal/storyboard"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// A .env next to the binary is the no-fuss local setup; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.AssetsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create assets dir: %w", err)
	}
	scratchDir := filepath.Join(cfg.DataDir(), "scratch")

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelcraft engine", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logging.WithComponent(logger, "db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║              REELCRAFT ENGINE v%-10s                 ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-44s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	store, err := project.NewStore(context.Background(), repo, logging.WithComponent(logger, "store"))
	if err != nil {
		return fmt.Errorf("failed to load project store: %w", err)
	}

	storageLogger := logging.WithComponent(logger, "storage")
	local, err := storage.NewLocalStore(cfg.AssetsDir(), storageLogger)
	if err != nil {
		return fmt.Errorf("failed to open local asset store: %w", err)
	}

	var remote storage.Store
	if cfg.StorageURL() != "" {
		remote = storage.NewHTTPStore(cfg.StorageURL(), cfg.StorageToken(), storageLogger)
		logger.Info("durable storage enabled", "base_url", cfg.StorageURL())
	} else {
		logger.Info("durable storage not configured, artifacts stay local")
	}

	var genClient generation.Client
	genLogger := logging.WithComponent(logger, "generation")
	if cfg.ProviderURL() != "" {
		genClient = generation.NewHTTPClient(cfg.ProviderURL(), cfg.ProviderToken(), genLogger)
		logger.Info("generation provider configured", "base_url", cfg.ProviderURL())
	} else {
		genClient = generation.NewStubClient(genLogger)
		logger.Warn("generation provider not configured, using stub outputs")
	}

	var tool media.Tool
	mediaCfg := media.DefaultConfig(logging.WithComponent(logger, "media"))
	mediaCfg.FFmpegPath = cfg.FFmpegPath()
	mediaCfg.FFprobePath = cfg.FFprobePath()
	ffmpeg, err := media.NewTool(mediaCfg)
	if err != nil {
		logger.Warn("ffmpeg unavailable, media operations produce placeholders", "error", err)
		tool = media.NewStubTool(mediaCfg.Logger)
	} else {
		tool = ffmpeg
	}

	var textClient storyboard.TextClient
	storyLogger := logging.WithComponent(logger, "storyboard")
	if cfg.OpenAIKey() != "" {
		textClient = storyboard.NewOpenAIClient(cfg.OpenAIKey(), cfg.OpenAIBaseURL(), cfg.OpenAIModel(), storyLogger)
		logger.Info("storyboard model configured", "model", cfg.OpenAIModel())
	} else {
		textClient = storyboard.NewStubTextClient(storyLogger)
		logger.Warn("storyboard model not configured, using deterministic stub plans")
	}
	planner := storyboard.NewPlanner(textClient, storyLogger)

	pipeline := scene.NewPipeline(scene.Config{
		ImageModel: cfg.ImageModel(),
		VideoModel: cfg.VideoModel(),
		PollOptions: generation.PollOptions{
			Interval: cfg.PollInterval(),
			Timeout:  cfg.ImagePollTimeout(),
		},
		VideoPoll: generation.PollOptions{
			Interval: cfg.PollInterval(),
			Timeout:  cfg.VideoPollTimeout(),
		},
		Concurrency:    cfg.GenConcurrency(),
		SeedFrameCount: cfg.SeedFrameCount(),
		ScratchDir:     scratchDir,
	}, store, genClient, tool, remote, local, logging.WithComponent(logger, "scene"))

	renderer := render.NewOrchestrator(render.Config{
		Debounce:   cfg.PreviewDebounce(),
		ScratchDir: scratchDir,
	}, store, tool, remote, local, logging.WithComponent(logger, "render"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Store:     store,
		Repo:      repo,
		Planner:   planner,
		Pipeline:  pipeline,
		Renderer:  renderer,
		Playback:  playback.NewServer(cfg.AssetsDir(), logging.WithComponent(logger, "playback")),
		Version:   config.Version,
		StartTime: startTime,
		Logger:    logging.WithComponent(logger, "api"),
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	renderer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureAuthToken mints the bearer token the UI pairs with on first run
// and keeps it stable across restarts.
func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 16)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
