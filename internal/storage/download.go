package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

var downloadClient = &http.Client{Timeout: 5 * time.Minute}

// Download pulls a provider output to destPath. Only http(s) URLs reach
// the network; stub:// outputs from the no-credentials provider are
// synthesized locally so the dev loop works offline.
func Download(ctx context.Context, rawURL, destPath string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse download url: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("cannot create download dir: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
	case "stub":
		return os.WriteFile(destPath, []byte("reelcraft stub artifact\n"), 0644)
	default:
		return fmt.Errorf("unsupported download scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed, status: %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("cannot create output file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("cannot save file data: %w", err)
	}
	return nil
}
