package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stackhost-io/stackhost/internal/api"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/scheduler"
	"github.com/stackhost-io/stackhost/internal/worker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the orchestration server",
	Long:  `Start the API server, the background worker pool and the periodic jobs.`,
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	// Event fan-out: structured log plus the operator websocket hub.
	hub := api.NewHub(logger)
	go hub.Run()
	notifier := notify.Multi{notify.NewLogNotifier(logger), hub}

	svc, err := buildServices(ctx, logger, notifier)
	if err != nil {
		return err
	}
	defer svc.close()

	pool := worker.NewPool(cfg.Worker, notifier, logger)
	pool.Start(ctx)

	sched, err := scheduler.NewManager(cfg.Scheduler, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := registerJobs(sched, svc); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	sched.Start()

	server := api.New(cfg, api.Deps{
		Store:     svc.store,
		Lifecycle: svc.lifecycle,
		Images:    svc.images,
		Backups:   svc.backups,
		Zones:     svc.dns,
		Tasks:     pool,
		Runtime:   svc.runtime,
		DNS:       svc.dnsReloader,
		Hub:       hub,
	}, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		if err := sched.Stop(); err != nil {
			logger.Error("scheduler shutdown error", "error", err)
		}
		pool.Shutdown()
		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func registerJobs(sched *scheduler.Manager, svc *services) error {
	if err := sched.RegisterMetricsJobs(svc.lifecycle); err != nil {
		return err
	}
	if err := sched.RegisterBackupJobs(svc.backups); err != nil {
		return err
	}
	if err := sched.RegisterBillingJobs(svc.billing); err != nil {
		return err
	}
	if err := sched.RegisterZoneJobs(svc.dns); err != nil {
		return err
	}
	return sched.RegisterBuildJobs(svc.pipeline)
}
