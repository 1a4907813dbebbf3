// Package proxy generates reverse-proxy configuration for customer service
// routes and reloads the proxy process. Reloads follow a test-before-apply
// discipline: a config that fails the proxy's own test is rolled back and
// never becomes live.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Reloader wraps the proxy process control commands so the generator is
// testable without a running proxy.
type Reloader interface {
	// TestConfig validates the full on-disk configuration.
	TestConfig(ctx context.Context) error
	// Reload makes the on-disk configuration live.
	Reload(ctx context.Context) error
}

// ExecReloader runs the proxy's own binary for test and reload, e.g.
// "nginx -t" and "nginx -s reload".
type ExecReloader struct {
	TestCmd   []string
	ReloadCmd []string
	Timeout   time.Duration
}

func (r *ExecReloader) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("no command configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// TestConfig implements Reloader.
func (r *ExecReloader) TestConfig(ctx context.Context) error { return r.run(ctx, r.TestCmd) }

// Reload implements Reloader.
func (r *ExecReloader) Reload(ctx context.Context) error { return r.run(ctx, r.ReloadCmd) }

// Manager writes per-domain server blocks into the proxy sites directory.
type Manager struct {
	sitesDir string
	reloader Reloader
	logger   *slog.Logger
}

// NewManager creates a proxy config manager.
func NewManager(sitesDir string, reloader Reloader, logger *slog.Logger) *Manager {
	return &Manager{sitesDir: sitesDir, reloader: reloader, logger: logger}
}

// AddServiceRoute renders and activates a server block proxying the domain
// to targetAddress:port. If the config test fails the previous config is
// restored, or the new file deleted, and the proxy is not reloaded.
func (m *Manager) AddServiceRoute(ctx context.Context, domain, targetAddress string, port int) error {
	if domain == "" || strings.ContainsAny(domain, "/ \t") {
		return fmt.Errorf("invalid domain %q", domain)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	path := m.routePath(domain)
	if err := os.MkdirAll(m.sitesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create sites directory: %w", err)
	}

	prev, err := os.ReadFile(path)
	hadPrev := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing route config: %w", err)
	}

	if err := os.WriteFile(path, []byte(renderServerBlock(domain, targetAddress, port)), 0o644); err != nil {
		return fmt.Errorf("failed to write route config: %w", err)
	}

	if err := m.reloader.TestConfig(ctx); err != nil {
		// Roll back: the proxy must never reload an unverified config,
		// and a previously working route must survive a rejected update.
		if hadPrev {
			if wrErr := os.WriteFile(path, prev, 0o644); wrErr != nil {
				m.logger.Error("failed to restore previous route config", "path", path, "error", wrErr)
			}
		} else if rmErr := os.Remove(path); rmErr != nil {
			m.logger.Error("failed to remove rejected route config", "path", path, "error", rmErr)
		}
		return fmt.Errorf("config test failed for %s: %w", domain, err)
	}

	if err := m.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("proxy reload failed for %s: %w", domain, err)
	}

	m.logger.Info("proxy route added", "domain", domain, "target", targetAddress, "port", port)
	return nil
}

// RemoveServiceRoute deletes the domain's server block and reloads. A reload
// failure after deletion is reported but the removal stands: the route is
// already gone from intent.
func (m *Manager) RemoveServiceRoute(ctx context.Context, domain string) error {
	path := m.routePath(domain)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove route config: %w", err)
	}

	if err := m.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("proxy reload failed after removing %s: %w", domain, err)
	}

	m.logger.Info("proxy route removed", "domain", domain)
	return nil
}

// HasRoute reports whether a server block exists for the domain.
func (m *Manager) HasRoute(domain string) bool {
	_, err := os.Stat(m.routePath(domain))
	return err == nil
}

func (m *Manager) routePath(domain string) string {
	return filepath.Join(m.sitesDir, domain+".conf")
}

// renderServerBlock produces one nginx server block. Headers for upgraded
// connections are always forwarded so websocket services work, and
// buffering is off because proxied services stream.
func renderServerBlock(domain, targetAddress string, port int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server {\n")
	fmt.Fprintf(&b, "    listen 80;\n")
	fmt.Fprintf(&b, "    listen [::]:80;\n")
	fmt.Fprintf(&b, "    server_name %s;\n\n", domain)
	fmt.Fprintf(&b, "    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://%s:%d;\n", targetAddress, port)
	fmt.Fprintf(&b, "        proxy_http_version 1.1;\n")
	fmt.Fprintf(&b, "        proxy_set_header Host $host;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Real-IP $remote_addr;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-Proto $scheme;\n")
	fmt.Fprintf(&b, "        proxy_set_header Upgrade $http_upgrade;\n")
	fmt.Fprintf(&b, "        proxy_set_header Connection \"upgrade\";\n")
	fmt.Fprintf(&b, "        proxy_buffering off;\n")
	fmt.Fprintf(&b, "        proxy_read_timeout 300s;\n")
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}
