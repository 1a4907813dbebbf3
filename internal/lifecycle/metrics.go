package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/stackhost-io/stackhost/internal/runtime"
	"github.com/stackhost-io/stackhost/models"
)

// SampleMetrics reads one resource sample from every running container and
// appends it to the metrics table. Individual failures are logged and
// skipped so one broken container does not starve the rest.
func (m *Manager) SampleMetrics(ctx context.Context) error {
	containers, err := m.store.ListContainers(models.ContainerRunning)
	if err != nil {
		return err
	}

	var failed int
	now := time.Now().UTC()
	for _, c := range containers {
		sample, err := m.sampleOne(ctx, c.RuntimeID)
		if err != nil {
			failed++
			m.logger.Warn("failed to sample container metrics",
				"container_id", c.ID, "error", err)
			continue
		}
		metric := &models.ContainerMetric{
			ContainerID:  c.ID,
			CPUPercent:   sample.CPUPercent,
			MemoryBytes:  sample.MemoryBytes,
			NetworkRxB:   sample.NetworkRxB,
			NetworkTxB:   sample.NetworkTxB,
			BlockReadB:   sample.BlockReadB,
			BlockWriteB:  sample.BlockWriteB,
			ProcessCount: sample.ProcessCount,
			RecordedAt:   now,
		}
		if err := m.store.InsertMetric(metric); err != nil {
			failed++
			m.logger.Warn("failed to store metric sample",
				"container_id", c.ID, "error", err)
		}
	}

	if failed > 0 && failed == len(containers) {
		return errors.New("all metric samples failed")
	}
	return nil
}

func (m *Manager) sampleOne(ctx context.Context, runtimeID string) (*runtime.StatsSample, error) {
	opCtx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.runtime.Stats(opCtx, runtimeID)
}

// PruneMetrics deletes samples older than the retention window and reports
// how many rows were removed.
func (m *Manager) PruneMetrics(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	pruned, err := m.store.PruneMetrics(cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		m.logger.Info("pruned metric samples", "rows", pruned, "cutoff", cutoff)
	}
	return pruned, nil
}
