// Package storage persists generated artifacts and hands back URLs the
// rest of the engine (and the UI) can reference.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Object identifies one stored artifact.
type Object struct {
	URL string // URL callers can reference
	Key string // store-side identifier
}

// Store is the artifact persistence contract.
type Store interface {
	// Upload stores the file at localPath and returns its addressable object.
	Upload(ctx context.Context, localPath, contentType string) (Object, error)
}

// UploadError represents an error from the asset upload endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("asset upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPStore uploads artifacts to a remote asset service.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPStore(baseURL, token string, logger *slog.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

func (s *HTTPStore) Upload(ctx context.Context, localPath, contentType string) (Object, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat artifact: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/v1/assets?name=%s", s.baseURL, url.QueryEscape(filepath.Base(localPath)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return Object{}, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-Request-Id", newRequestID())

	s.logger.Info("uploading artifact",
		"name", filepath.Base(localPath),
		"content_type", contentType,
		"body_bytes", info.Size(),
	)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Object{}, &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		URL string `json:"url"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Object{}, fmt.Errorf("parse upload response: %w", err)
	}
	if result.URL == "" {
		return Object{}, fmt.Errorf("upload response missing url")
	}

	s.logger.Info("artifact upload succeeded", "key", result.Key)
	return Object{URL: result.URL, Key: result.Key}, nil
}

func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
