package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Server streams files from the engine's assets directory. Artifact keys
// are confined to the root; anything resolving outside it is a 404.
type Server struct {
	root   string
	logger *slog.Logger
}

func NewServer(root string, logger *slog.Logger) *Server {
	return &Server{root: root, logger: logger}
}

// ServeKey streams the artifact stored under key, as minted by the local
// media store.
func (s *Server) ServeKey(w http.ResponseWriter, r *http.Request, key string) {
	path, ok := s.resolve(key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := s.ServeFile(w, r, path); err != nil {
		s.logger.Error("cannot serve media", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// artifactTypes covers the formats the engine itself produces. The host
// mime database is consulted only for anything else, so playback does not
// depend on /etc/mime.types being present.
var artifactTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := artifactTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// resolve maps a URL key onto a file under the assets root. Traversal and
// absolute keys resolve to nothing.
func (s *Server) resolve(key string) (string, bool) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", false
	}
	return filepath.Join(s.root, clean), true
}

// ServeFile streams one file, honoring a Range header byte-accurately.
// Malformed ranges degrade to a full response; unsatisfiable ones get 416.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open media file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat media file: %w", err)
	}

	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentTypeFor(filePath))

	rng, hasRange, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		if errors.Is(err, ErrUnsatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return nil
		}
		// Malformed header: ignore it and send the whole file.
		hasRange = false
	}

	if !hasRange {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		io.Copy(w, file)
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek media file: %w", err)
	}
	io.CopyN(w, file, rng.ContentLength())
	return nil
}
