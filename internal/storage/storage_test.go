package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var (
	_ Store = (*HTTPStore)(nil)
	_ Store = (*LocalStore)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTempArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidate.png")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("cannot write temp artifact: %v", err)
	}
	return path
}

func TestHTTPStore_Upload(t *testing.T) {
	var gotMethod, gotPath, gotName, gotAuth, gotRequestID, gotContentType, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotName = r.URL.Query().Get("name")
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url": "https://cdn.example.com/a/candidate.png", "key": "a/candidate.png"}`))
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "test-token", testLogger())
	path := writeTempArtifact(t, "png-bytes")

	obj, err := store.Upload(context.Background(), path, "image/png")
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}

	if obj.URL != "https://cdn.example.com/a/candidate.png" {
		t.Errorf("url = %q", obj.URL)
	}
	if obj.Key != "a/candidate.png" {
		t.Errorf("key = %q", obj.Key)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/v1/assets" {
		t.Errorf("path = %q, want /v1/assets", gotPath)
	}
	if gotName != "candidate.png" {
		t.Errorf("name = %q, want candidate.png", gotName)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Error("expected an X-Request-Id header")
	}
	if gotContentType != "image/png" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotBody != "png-bytes" {
		t.Errorf("body = %q, want file content", gotBody)
	}
}

func TestHTTPStore_Upload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "test-token", testLogger())
	path := writeTempArtifact(t, "png-bytes")

	_, err := store.Upload(context.Background(), path, "image/png")
	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if upErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", upErr.StatusCode)
	}
	if !upErr.IsRetryable() {
		t.Error("502 should be retryable")
	}
}

func TestHTTPStore_Upload_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, "test-token", testLogger())
	path := writeTempArtifact(t, "png-bytes")

	if _, err := store.Upload(context.Background(), path, "image/png"); err == nil {
		t.Fatal("expected error for response without url")
	}
}

func TestUploadError_IsRetryable(t *testing.T) {
	if (&UploadError{StatusCode: 401}).IsRetryable() {
		t.Error("401 should be permanent")
	}
	if (&UploadError{StatusCode: 413}).IsRetryable() {
		t.Error("413 should be permanent")
	}
	if !(&UploadError{StatusCode: 503}).IsRetryable() {
		t.Error("503 should be retryable")
	}
}

func TestLocalStore_UploadAndResolve(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewLocalStore error: %v", err)
	}

	path := writeTempArtifact(t, "seed-frame-bytes")
	obj, err := store.Upload(context.Background(), path, "image/jpeg")
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}

	if !strings.HasPrefix(obj.URL, MediaURLPrefix+"/") {
		t.Errorf("url = %q, want %s prefix", obj.URL, MediaURLPrefix)
	}
	if filepath.Ext(obj.Key) != ".png" {
		t.Errorf("key = %q, want source extension preserved", obj.Key)
	}

	resolved, err := store.Resolve(obj.URL)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("cannot read stored artifact: %v", err)
	}
	if string(data) != "seed-frame-bytes" {
		t.Errorf("stored content = %q", string(data))
	}
}

func TestLocalStore_ResolveNeutralisesTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewLocalStore error: %v", err)
	}

	resolved, err := store.Resolve(MediaURLPrefix + "/../../etc/passwd")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		t.Errorf("resolved path %q escapes assets dir %q", resolved, dir)
	}
}

func TestLocalStore_ResolveRejectsForeignURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalStore error: %v", err)
	}

	if _, err := store.Resolve("https://cdn.example.com/out.png"); err == nil {
		t.Fatal("expected error for non-engine url")
	}
}

func TestDownload_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "downloads", "out.mp4")
	if err := Download(context.Background(), server.URL+"/out.mp4", dest); err != nil {
		t.Fatalf("Download error: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("cannot read downloaded file: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Errorf("downloaded content = %q", string(data))
	}
}

func TestDownload_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	if err := Download(context.Background(), server.URL+"/gone.mp4", dest); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestDownload_StubScheme(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.png")
	if err := Download(context.Background(), "stub://stub-img-abc", dest); err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("stub artifact missing: %v", err)
	}
}

func TestDownload_RejectsFileScheme(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	if err := Download(context.Background(), "file:///etc/passwd", dest); err == nil {
		t.Fatal("expected error for file scheme")
	}
}
