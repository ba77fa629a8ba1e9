// Package api exposes the engine over a local HTTP API: project and
// storyboard CRUD, scene generation, timeline edits, preview/stitch and
// media playback. The server binds loopback only; the browser UI is the
// sole intended client.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelcraft/reelcraft-engine/internal/playback"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/render"
	"github.com/reelcraft/reelcraft-engine/internal/scene"
	"github.com/reelcraft/reelcraft-engine/internal/storyboard"
)

// ServerConfig carries everything the handlers need. All collaborators are
// constructed in cmd/engine and handed in; handlers never build their own.
type ServerConfig struct {
	Port int

	Store    *project.Store
	Repo     project.Repository
	Planner  *storyboard.Planner
	Pipeline *scene.Pipeline
	Renderer *render.Orchestrator
	Playback *playback.Server

	Version   string
	StartTime time.Time
	Logger    *slog.Logger
}

// Server wraps http.Server with lifecycle management.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the engine's HTTP server. It binds to localhost only;
// the engine is a local companion process, not a network service.
func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: media playback streams whole video files and
		// stitch requests block until the render finishes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		logger:     cfg.Logger,
	}
}

// Start begins listening. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
