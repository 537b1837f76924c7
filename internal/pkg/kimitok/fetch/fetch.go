package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const DefaultBaseURL = "https://huggingface.co"

// Client downloads model artifacts. Downloads go through a temporary file and
// a rename, so an interrupted download never leaves a partial file at the
// final path.
type Client struct {
	http    *http.Client
	baseURL string
}

func New(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: DefaultBaseURL,
	}
}

// NewWithBaseURL overrides the hub endpoint, mainly for tests.
func NewWithBaseURL(baseURL string, timeout time.Duration) *Client {
	c := New(timeout)
	c.baseURL = baseURL
	return c
}

// ResolveURL builds the hub URL for one file of a repository revision.
func (c *Client) ResolveURL(repoID, revision, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repoID, revision, filename)
}

// DownloadIfMissing fetches url into path unless path already exists.
func (c *Client) DownloadIfMissing(ctx context.Context, path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finish download: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
