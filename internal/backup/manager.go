// Package backup archives container data volumes, enforces the retention
// policy and restores volumes from stored archives. Restores always take a
// safety backup first so a bad restore is itself recoverable.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/objectstore"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// ErrBackupMismatch is returned when a restore names a backup belonging to a
// different container.
var ErrBackupMismatch = errors.New("backup does not belong to this container")

// ContainerPower is the subset of lifecycle operations restore needs.
type ContainerPower interface {
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
}

// Manager creates, expires and restores backups.
type Manager struct {
	store    *store.Store
	objects  objectstore.ObjectStore
	power    ContainerPower
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      config.BackupConfig
}

// NewManager wires the backup manager.
func NewManager(
	st *store.Store,
	objects objectstore.ObjectStore,
	power ContainerPower,
	notifier notify.Notifier,
	cfg config.BackupConfig,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:    st,
		objects:  objects,
		power:    power,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// BackupContainer archives a container's data volume and records the backup.
// When uploads are enabled the archive moves to object storage and the
// staging copy is removed.
func (m *Manager) BackupContainer(ctx context.Context, containerID string, backupType models.BackupType) (*models.Backup, error) {
	c, err := m.store.GetContainer(containerID)
	if err != nil {
		return nil, err
	}
	sub, err := m.store.GetSubscription(c.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.cfg.StagingDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	now := time.Now().UTC()
	fileName := fmt.Sprintf("%s-%s.tar.gz", now.Format("20060102-150405"), strings.ToLower(string(backupType)))
	stagingPath := filepath.Join(m.cfg.StagingDir, c.ID+"-"+fileName)

	file, err := os.Create(stagingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	if err := archiveDir(c.VolumePath, file); err != nil {
		file.Close()
		os.Remove(stagingPath)
		return nil, fmt.Errorf("failed to archive volume: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(stagingPath)
		return nil, err
	}

	info, err := os.Stat(stagingPath)
	if err != nil {
		return nil, err
	}

	b := &models.Backup{
		ID:             uuid.NewString(),
		ContainerID:    c.ID,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Type:           backupType,
		SizeBytes:      info.Size(),
		CreatedAt:      now,
	}

	if m.cfg.UploadEnabled {
		key := fmt.Sprintf("%s/%s/%s", sub.CustomerID, c.ID, fileName)
		archive, err := os.Open(stagingPath)
		if err != nil {
			return nil, err
		}
		err = m.objects.Put(ctx, key, archive, info.Size())
		archive.Close()
		if err != nil {
			os.Remove(stagingPath)
			m.notifier.Notify(ctx, notify.Event{
				Type:        notify.EventBackupFailed,
				ContainerID: c.ID,
				Message:     err.Error(),
			})
			return nil, fmt.Errorf("failed to upload backup: %w", err)
		}
		os.Remove(stagingPath)
		b.StorageKey = key
		b.Encrypted = m.cfg.S3Encrypt
	} else {
		b.LocalPath = stagingPath
	}

	if err := m.store.CreateBackup(b); err != nil {
		return nil, err
	}
	m.logger.Info("backup created",
		"backup_id", b.ID, "container_id", c.ID, "type", backupType, "size_bytes", b.SizeBytes)
	return b, nil
}

// BackupAll backs up every running or stopped container into the given
// retention bucket. Failures are logged per container and do not stop the
// sweep.
func (m *Manager) BackupAll(ctx context.Context, backupType models.BackupType) error {
	var all []*models.Container
	for _, status := range []models.ContainerStatus{models.ContainerRunning, models.ContainerStopped} {
		containers, err := m.store.ListContainers(status)
		if err != nil {
			return err
		}
		all = append(all, containers...)
	}

	var failed int
	for _, c := range all {
		if _, err := m.BackupContainer(ctx, c.ID, backupType); err != nil {
			failed++
			m.logger.Error("container backup failed", "container_id", c.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d container backups failed", failed, len(all))
	}
	return nil
}

// CleanupOldBackups applies the retention policy and reports how many bytes
// were freed. Only the rotation buckets expire; pre-restore and manual
// backups are kept until deleted explicitly.
func (m *Manager) CleanupOldBackups(ctx context.Context) (int64, error) {
	keep := map[models.BackupType]int{
		models.BackupDaily:   m.cfg.KeepDaily,
		models.BackupWeekly:  m.cfg.KeepWeekly,
		models.BackupMonthly: m.cfg.KeepMonthly,
	}

	all, err := m.store.ListBackups("", "")
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]*models.Backup)
	for _, b := range all {
		if _, managed := keep[b.Type]; !managed {
			continue
		}
		key := b.ContainerID + "/" + string(b.Type)
		groups[key] = append(groups[key], b)
	}

	var freed int64
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		limit := keep[group[0].Type]
		if limit >= len(group) {
			continue
		}
		for _, expired := range group[limit:] {
			if err := m.deleteArchive(ctx, expired); err != nil {
				m.logger.Error("failed to delete expired backup",
					"backup_id", expired.ID, "error", err)
				continue
			}
			if err := m.store.DeleteBackup(expired.ID); err != nil {
				m.logger.Error("failed to delete backup record",
					"backup_id", expired.ID, "error", err)
				continue
			}
			freed += expired.SizeBytes
		}
	}

	if freed > 0 {
		m.logger.Info("retention cleanup done", "freed_bytes", freed)
	}
	return freed, nil
}

// RestoreContainer replaces a container's data volume with a backup. The
// container is stopped, a pre-restore safety backup is taken, the volume is
// repopulated and the container restarted.
func (m *Manager) RestoreContainer(ctx context.Context, containerID, backupID string) error {
	c, err := m.store.GetContainer(containerID)
	if err != nil {
		return err
	}
	b, err := m.store.GetBackup(backupID)
	if err != nil {
		return err
	}
	if b.ContainerID != containerID {
		return ErrBackupMismatch
	}

	wasRunning := c.Status == models.ContainerRunning
	if wasRunning {
		if err := m.power.Stop(ctx, containerID); err != nil {
			return fmt.Errorf("failed to stop container for restore: %w", err)
		}
	}

	if _, err := m.BackupContainer(ctx, containerID, models.BackupPreRestore); err != nil {
		return fmt.Errorf("failed to take safety backup: %w", err)
	}

	archive, err := m.openArchive(ctx, b)
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := clearDir(c.VolumePath); err != nil {
		return fmt.Errorf("failed to clear volume: %w", err)
	}
	if err := extractArchive(archive, c.VolumePath); err != nil {
		return fmt.Errorf("failed to extract backup: %w", err)
	}

	if wasRunning {
		if err := m.power.Start(ctx, containerID); err != nil {
			return fmt.Errorf("restore succeeded but restart failed: %w", err)
		}
	}

	m.logger.Info("container restored", "container_id", containerID, "backup_id", backupID)
	return nil
}

// DeleteBackup removes a backup's archive and its metadata row.
func (m *Manager) DeleteBackup(ctx context.Context, backupID string) error {
	b, err := m.store.GetBackup(backupID)
	if err != nil {
		return err
	}
	if err := m.deleteArchive(ctx, b); err != nil {
		return fmt.Errorf("failed to delete backup archive: %w", err)
	}
	if err := m.store.DeleteBackup(b.ID); err != nil {
		return err
	}
	m.logger.Info("backup deleted", "backup_id", b.ID, "container_id", b.ContainerID)
	return nil
}

func (m *Manager) openArchive(ctx context.Context, b *models.Backup) (io.ReadCloser, error) {
	if b.StorageKey != "" {
		return m.objects.Get(ctx, b.StorageKey)
	}
	if b.LocalPath != "" {
		return os.Open(b.LocalPath)
	}
	return nil, fmt.Errorf("backup %s has no archive location", b.ID)
}

func (m *Manager) deleteArchive(ctx context.Context, b *models.Backup) error {
	if b.StorageKey != "" {
		if err := m.objects.Delete(ctx, b.StorageKey); err != nil {
			return err
		}
	}
	if b.LocalPath != "" {
		if err := os.Remove(b.LocalPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
