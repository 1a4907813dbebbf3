package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/stackhost-io/stackhost/internal/backup"
	"github.com/stackhost-io/stackhost/internal/billing"
	"github.com/stackhost-io/stackhost/internal/dnssync"
	"github.com/stackhost-io/stackhost/internal/imagebuild"
	"github.com/stackhost-io/stackhost/internal/lifecycle"
	"github.com/stackhost-io/stackhost/internal/logging"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/objectstore"
	"github.com/stackhost-io/stackhost/internal/proxy"
	"github.com/stackhost-io/stackhost/internal/runtime"
	"github.com/stackhost-io/stackhost/internal/store"
)

// services holds the wired domain managers shared by the server and the
// operational subcommands.
type services struct {
	logger      *slog.Logger
	store       *store.Store
	runtime     *runtime.DockerRuntime
	objects     objectstore.ObjectStore
	dnsReloader *dnssync.HTTPReloader
	dns         *dnssync.Manager
	proxy       *proxy.Manager
	lifecycle   *lifecycle.Manager
	images      *imagebuild.Service
	pipeline    *imagebuild.Pipeline
	backups     *backup.Manager
	billing     *billing.Runner
}

// buildServices wires every domain manager against the loaded config. The
// notifier receives operator events from all of them.
func buildServices(ctx context.Context, logger *slog.Logger, notifier notify.Notifier) (*services, error) {
	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	rt, err := runtime.NewDocker(cfg.Runtime.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container runtime: %w", err)
	}

	objects, err := buildObjectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	dnsReloader := dnssync.NewHTTPReloader(cfg.DNS.ReloadURL, cfg.DNS.HealthURL, cfg.DNS.ReloadTimeout)
	dnsMgr := dnssync.NewManager(st, dnsReloader, notifier, cfg.DNS, logger)

	proxyMgr := proxy.NewManager(cfg.Proxy.SitesDir, &proxy.ExecReloader{
		TestCmd:   cfg.Proxy.TestCommand,
		ReloadCmd: cfg.Proxy.ReloadCommand,
		Timeout:   cfg.Proxy.ReloadTimeout,
	}, logger)

	lifecycleMgr, err := lifecycle.NewManager(st, rt, dnsMgr, proxyMgr, notifier, cfg.Network, cfg.Runtime, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lifecycle manager: %w", err)
	}

	scanner := imagebuild.NewDenylistScanner(cfg.Images.BaseImageDenylist)
	backupMgr := backup.NewManager(st, objects, lifecycleMgr, notifier, cfg.Backup, logger)

	return &services{
		logger:      logger,
		store:       st,
		runtime:     rt,
		objects:     objects,
		dnsReloader: dnsReloader,
		dns:         dnsMgr,
		proxy:       proxyMgr,
		lifecycle:   lifecycleMgr,
		images:      imagebuild.NewService(st, objects, cfg.Images.RequireApproval),
		pipeline:    imagebuild.NewPipeline(st, rt, objects, scanner, notifier, cfg.Runtime.BuildTimeout, logger),
		backups:     backupMgr,
		billing:     billing.NewRunner(st, lifecycleMgr, logger),
	}, nil
}

// buildObjectStore picks S3 when a bucket is configured, otherwise a local
// directory under the backup staging area.
func buildObjectStore(ctx context.Context) (objectstore.ObjectStore, error) {
	if cfg.Backup.S3Bucket != "" {
		return objectstore.NewS3(ctx, cfg.Backup.S3Bucket, cfg.Backup.S3Region, cfg.Backup.S3Encrypt)
	}
	return objectstore.NewFileStore(filepath.Join(cfg.Backup.StagingDir, "objects"))
}

func (s *services) close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// newLogger builds the process logger from the loaded config.
func newLogger() (*slog.Logger, error) {
	return logging.New(&cfg.Logging)
}
