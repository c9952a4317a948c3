package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"taskhub/internal/runtime"
)

type fetchPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"` // optional; defaults to the URL's base name
	Timeout  int    `json:"timeout"`  // seconds
}

// FetchBuilder returns a job that downloads a URL into destDir. The write goes
// through a temp file so a failed download never leaves a partial file behind.
func FetchBuilder(destDir string) Builder {
	return func(payload json.RawMessage) (runtime.UnitOfWork, error) {
		var p fetchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid fetch payload: %w", err)
		}
		if p.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		if p.Timeout <= 0 {
			p.Timeout = 30
		}
		name := p.Filename
		if name == "" {
			name = path.Base(p.URL)
		}
		if err := checkFilename(name); err != nil {
			return nil, err
		}

		return func(ctx context.Context) error {
			return fetch(ctx, p.URL, filepath.Join(destDir, name), time.Duration(p.Timeout)*time.Second)
		}, nil
	}
}

func fetch(ctx context.Context, url, dest string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
