package dnssync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reloader tells the DNS server to pick up regenerated zone files.
type Reloader interface {
	Reload(ctx context.Context) error
	Healthy(ctx context.Context) error
}

// HTTPReloader drives a DNS server that exposes reload and health endpoints
// over its control API.
type HTTPReloader struct {
	reloadURL string
	healthURL string
	client    *http.Client
}

// NewHTTPReloader creates a reloader for the given control endpoints.
func NewHTTPReloader(reloadURL, healthURL string, timeout time.Duration) *HTTPReloader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReloader{
		reloadURL: reloadURL,
		healthURL: healthURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Reload posts to the reload endpoint.
func (r *HTTPReloader) Reload(ctx context.Context) error {
	return r.call(ctx, http.MethodPost, r.reloadURL)
}

// Healthy checks the health endpoint.
func (r *HTTPReloader) Healthy(ctx context.Context) error {
	return r.call(ctx, http.MethodGet, r.healthURL)
}

func (r *HTTPReloader) call(ctx context.Context, method, url string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("dns control request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dns control returned %d for %s %s", resp.StatusCode, method, url)
	}
	return nil
}
