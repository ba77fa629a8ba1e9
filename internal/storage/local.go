package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MediaURLPrefix is the engine-served path under which local artifacts
// are reachable. internal/playback serves the matching directory.
const MediaURLPrefix = "/api/v1/media"

// LocalStore keeps artifacts in the engine's data directory and returns
// engine-served URLs. It is both the no-credentials default and the
// degradation target when a remote upload fails.
type LocalStore struct {
	assetsDir string
	logger    *slog.Logger
}

func NewLocalStore(assetsDir string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create assets dir: %w", err)
	}
	return &LocalStore{assetsDir: assetsDir, logger: logger}, nil
}

// Dir returns the directory artifacts are stored under.
func (s *LocalStore) Dir() string {
	return s.assetsDir
}

func (s *LocalStore) Upload(ctx context.Context, localPath, contentType string) (Object, error) {
	ext := filepath.Ext(localPath)
	key := uuid.NewString() + ext
	dest := filepath.Join(s.assetsDir, key)

	if err := copyFile(localPath, dest); err != nil {
		return Object{}, fmt.Errorf("store artifact locally: %w", err)
	}

	s.logger.Debug("artifact stored locally", "key", key)
	return Object{URL: MediaURLPrefix + "/" + key, Key: key}, nil
}

// Resolve maps an engine-served media URL back to its path on disk.
// Paths escaping the assets dir are rejected.
func (s *LocalStore) Resolve(mediaURL string) (string, error) {
	rel, ok := strings.CutPrefix(mediaURL, MediaURLPrefix+"/")
	if !ok {
		return "", fmt.Errorf("not an engine media url: %s", mediaURL)
	}

	dest := filepath.Join(s.assetsDir, filepath.Clean("/"+rel))
	if !strings.HasPrefix(dest, s.assetsDir+string(filepath.Separator)) {
		return "", fmt.Errorf("media path escapes assets dir: %s", mediaURL)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
