package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reelcraft/reelcraft-engine/internal/generation"
	"github.com/reelcraft/reelcraft-engine/internal/logging"
	"github.com/reelcraft/reelcraft-engine/internal/project"
	"github.com/reelcraft/reelcraft-engine/internal/timeline"
)

type contextKey string

// RequestIDKey is the context key under which the request ID is stored.
const RequestIDKey contextKey = "request_id"

// authTokenKey is the repository config key holding the bearer token the
// engine was bootstrapped with.
const authTokenKey = "auth_token"

// RequestIDMiddleware assigns each request a short ID and echoes it in the
// X-Request-ID header so UI bug reports can be matched to log lines.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := project.NewID()[:8]
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs one line per request with method, path, status and
// duration.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			logging.WithRequestID(logger, requestID).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RecoveryMiddleware converts handler panics into 500 responses instead of
// killing the process.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
					)
					WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires a bearer token matching the one stored in the
// repository config. With no token configured every request is rejected;
// the engine refuses to run open rather than failing open.
func AuthMiddleware(repo project.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization header", "UNAUTHORIZED")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, "invalid authorization header", "UNAUTHORIZED")
				return
			}

			expected, err := repo.GetConfig(r.Context(), authTokenKey)
			if err != nil {
				logger.Error("cannot load auth token", "error", err)
				WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				return
			}
			if expected == "" || token != expected {
				logger.Warn("rejected request with bad token", "token", logging.SanitizeToken(token))
				WriteError(w, http.StatusUnauthorized, "invalid token", "UNAUTHORIZED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response. Use writeDomainError for errors
// coming out of the store or the pipelines.
func WriteError(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeDomainError maps store sentinels and taxonomy errors onto HTTP
// status codes. Taxonomy errors carry their retryability into the response
// so the UI can offer a retry without guessing.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var genErr *generation.Error
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
	case errors.Is(err, project.ErrSceneOutOfRange):
		WriteError(w, http.StatusNotFound, "scene not found", "NOT_FOUND")
	case errors.Is(err, project.ErrCandidateNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, timeline.ErrClipNotFound):
		WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
	case errors.Is(err, timeline.ErrSplitOutOfRange), errors.Is(err, timeline.ErrCropInvalid):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_EDIT")
	case errors.Is(err, project.ErrSceneCompleted):
		WriteError(w, http.StatusConflict, err.Error(), "SCENE_LOCKED")
	case errors.Is(err, project.ErrFinalRendered):
		WriteError(w, http.StatusConflict, err.Error(), "ALREADY_RENDERED")
	case errors.Is(err, project.ErrIllegalTransition):
		WriteError(w, http.StatusConflict, err.Error(), "ILLEGAL_TRANSITION")
	case errors.Is(err, project.ErrStaleTicket):
		WriteError(w, http.StatusConflict, err.Error(), "SUPERSEDED")
	case errors.As(err, &genErr):
		status := http.StatusBadGateway
		code := "GENERATION_FAILED"
		switch genErr.Kind {
		case generation.KindValidation:
			status = http.StatusBadRequest
			code = "VALIDATION_FAILED"
		case generation.KindContinuity:
			status = http.StatusUnprocessableEntity
			code = "CONTINUITY_BREAK"
		case generation.KindTransient:
			code = "PROVIDER_UNAVAILABLE"
		case generation.KindBatch:
			code = "BATCH_FAILED"
		}
		WriteJSON(w, status, ErrorResponse{
			Error:     genErr.Error(),
			Code:      code,
			Retryable: genErr.Retryable(),
		})
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
