// Package scheduler runs the periodic maintenance jobs on gocron v2:
// metric sampling, backup rotation, retention cleanup, recurring billing,
// zone resync and build queue polling. Every job runs in singleton mode so
// a slow pass never overlaps with the next one.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/models"
)

// MetricsSampler samples and prunes container metrics.
type MetricsSampler interface {
	SampleMetrics(ctx context.Context) error
	PruneMetrics(retention time.Duration) (int64, error)
}

// BackupRunner sweeps backups and applies retention.
type BackupRunner interface {
	BackupAll(ctx context.Context, backupType models.BackupType) error
	CleanupOldBackups(ctx context.Context) (int64, error)
}

// BillingRunner runs one recurring billing pass.
type BillingRunner interface {
	ProcessDueSubscriptions(ctx context.Context) (int, error)
}

// ZoneSyncer reconverges the DNS server with the database.
type ZoneSyncer interface {
	RegenerateAll(ctx context.Context) error
}

// BuildProcessor drains the pending image build queue.
type BuildProcessor interface {
	ProcessNext(ctx context.Context) (bool, error)
}

// Manager owns the gocron scheduler and the job registrations.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       config.SchedulerConfig

	started   bool
	startedMu sync.Mutex
}

// NewManager creates the scheduler manager.
func NewManager(cfg config.SchedulerConfig, logger *slog.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Manager{scheduler: s, logger: logger, cfg: cfg}, nil
}

func (m *Manager) register(name string, interval time.Duration, startNow bool, run func(ctx context.Context)) error {
	opts := []gocron.JobOption{
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(name),
	}
	if startNow {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			run(ctx)
		}),
		opts...,
	)
	if err != nil {
		return err
	}
	m.logger.Info("scheduled job registered", "job", name, "interval", interval)
	return nil
}

// RegisterMetricsJobs registers metric sampling and pruning.
func (m *Manager) RegisterMetricsJobs(sampler MetricsSampler) error {
	if err := m.register("metrics-sampler", m.cfg.MetricsInterval, true, func(ctx context.Context) {
		if err := sampler.SampleMetrics(ctx); err != nil {
			m.logger.Error("metrics sampling failed", "error", err)
		}
	}); err != nil {
		return err
	}
	return m.register("metrics-pruner", m.cfg.RetentionInterval, false, func(ctx context.Context) {
		if _, err := sampler.PruneMetrics(m.cfg.MetricsRetention); err != nil {
			m.logger.Error("metrics pruning failed", "error", err)
		}
	})
}

// RegisterBackupJobs registers the backup sweep and retention cleanup.
func (m *Manager) RegisterBackupJobs(backups BackupRunner) error {
	if err := m.register("backup-sweep", m.cfg.BackupInterval, false, func(ctx context.Context) {
		backupType := rotationType(time.Now().UTC())
		if err := backups.BackupAll(ctx, backupType); err != nil {
			m.logger.Error("backup sweep failed", "type", backupType, "error", err)
		}
	}); err != nil {
		return err
	}
	return m.register("retention-cleanup", m.cfg.RetentionInterval, false, func(ctx context.Context) {
		freed, err := backups.CleanupOldBackups(ctx)
		if err != nil {
			m.logger.Error("retention cleanup failed", "error", err)
			return
		}
		if freed > 0 {
			m.logger.Info("retention cleanup freed storage", "bytes", freed)
		}
	})
}

// RegisterBillingJobs registers the recurring billing pass.
func (m *Manager) RegisterBillingJobs(billing BillingRunner) error {
	return m.register("billing-pass", m.cfg.BillingInterval, false, func(ctx context.Context) {
		processed, err := billing.ProcessDueSubscriptions(ctx)
		if err != nil {
			m.logger.Error("billing pass failed", "error", err)
			return
		}
		if processed > 0 {
			m.logger.Info("billing pass done", "subscriptions", processed)
		}
	})
}

// RegisterZoneJobs registers the periodic DNS resync.
func (m *Manager) RegisterZoneJobs(zones ZoneSyncer) error {
	return m.register("zone-resync", m.cfg.ZoneResyncInterval, false, func(ctx context.Context) {
		if err := zones.RegenerateAll(ctx); err != nil {
			m.logger.Error("zone resync failed", "error", err)
		}
	})
}

// RegisterBuildJobs registers the build queue poller. Each tick drains the
// queue completely.
func (m *Manager) RegisterBuildJobs(builds BuildProcessor) error {
	return m.register("build-poller", m.cfg.BuildPollInterval, true, func(ctx context.Context) {
		m.drainBuilds(ctx, builds)
	})
}

// drainBuilds processes queued builds until the queue is empty. A failed
// build is already recorded on its image row, so the drain moves on to the
// next build instead of leaving the rest of the queue for the following tick.
func (m *Manager) drainBuilds(ctx context.Context, builds BuildProcessor) {
	for ctx.Err() == nil {
		worked, err := builds.ProcessNext(ctx)
		if err != nil {
			m.logger.Error("build processing failed", "error", err)
		}
		if !worked {
			return
		}
	}
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if m.started {
		return
	}
	m.scheduler.Start()
	m.started = true
	m.logger.Info("scheduler started", "jobs", len(m.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs.
func (m *Manager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	return m.scheduler.Shutdown()
}

// rotationType picks the retention bucket for a scheduled backup run: the
// first of the month is a monthly, Sundays are weeklies, everything else is
// a daily.
func rotationType(now time.Time) models.BackupType {
	if now.Day() == 1 {
		return models.BackupMonthly
	}
	if now.Weekday() == time.Sunday {
		return models.BackupWeekly
	}
	return models.BackupDaily
}
