package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/notify"
	"github.com/stackhost-io/stackhost/internal/objectstore"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

var containerSeq int

type fakePower struct {
	stops  []string
	starts []string
}

func (f *fakePower) Stop(ctx context.Context, containerID string) error {
	f.stops = append(f.stops, containerID)
	return nil
}

func (f *fakePower) Start(ctx context.Context, containerID string) error {
	f.starts = append(f.starts, containerID)
	return nil
}

type backupEnv struct {
	store   *store.Store
	objects *objectstore.FileStore
	power   *fakePower
	manager *Manager
}

func newBackupEnv(t *testing.T, uploadEnabled bool) *backupEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	env := &backupEnv{store: st, objects: objects, power: &fakePower{}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	env.manager = NewManager(st, objects, env.power,
		notify.NewLogNotifier(logger),
		config.BackupConfig{
			StagingDir:    t.TempDir(),
			KeepDaily:     7,
			KeepWeekly:    4,
			KeepMonthly:   12,
			UploadEnabled: uploadEnabled,
		}, logger)
	return env
}

func (e *backupEnv) newContainer(t *testing.T, volumeFiles map[string]string) *models.Container {
	t.Helper()
	plan := &models.Plan{
		ID: uuid.NewString(), Name: "p-" + uuid.NewString(), CPUCores: 1, MemoryMB: 1024,
		StorageGB: 20, MonthlyPrice: decimal.RequireFromString("10.00"),
		BaseImage: "stackhost/base:bookworm", Active: true,
	}
	require.NoError(t, e.store.CreatePlan(plan))

	sub := &models.Subscription{
		ID: uuid.NewString(), CustomerID: uuid.NewString(), PlanID: plan.ID,
		Status: models.SubscriptionActive, Hostname: "h-" + uuid.NewString(),
		BillingCycle: models.BillingMonthly, AutoRenew: true,
	}
	require.NoError(t, e.store.CreateSubscription(sub))

	volume := t.TempDir()
	for name, content := range volumeFiles {
		path := filepath.Join(volume, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	containerSeq++
	c := &models.Container{
		ID: uuid.NewString(), SubscriptionID: sub.ID, Name: "c-" + uuid.NewString(),
		Image: plan.BaseImage, Status: models.ContainerRunning,
		IPAddress: fmt.Sprintf("10.100.0.%d", containerSeq), SSHPort: 22000 + containerSeq,
		Hostname: sub.Hostname, VolumePath: volume,
	}
	require.NoError(t, e.store.CreateContainer(c))
	return c
}

func TestBackupContainerUpload(t *testing.T) {
	env := newBackupEnv(t, true)
	c := env.newContainer(t, map[string]string{"www/index.html": "<h1>hello</h1>"})

	b, err := env.manager.BackupContainer(context.Background(), c.ID, models.BackupDaily)
	require.NoError(t, err)
	assert.NotEmpty(t, b.StorageKey)
	assert.Empty(t, b.LocalPath)
	assert.Greater(t, b.SizeBytes, int64(0))
	assert.Contains(t, b.StorageKey, c.ID)
	assert.Contains(t, b.StorageKey, "daily")

	rc, err := env.objects.Get(context.Background(), b.StorageKey)
	require.NoError(t, err)
	rc.Close()
}

func TestBackupContainerLocal(t *testing.T) {
	env := newBackupEnv(t, false)
	c := env.newContainer(t, map[string]string{"data.txt": "payload"})

	b, err := env.manager.BackupContainer(context.Background(), c.ID, models.BackupManual)
	require.NoError(t, err)
	assert.Empty(t, b.StorageKey)
	assert.FileExists(t, b.LocalPath)
}

func TestCleanupOldBackups(t *testing.T) {
	env := newBackupEnv(t, false)
	c := env.newContainer(t, nil)
	ctx := context.Background()

	// Ten dailies with keep_daily=7 leaves the seven newest.
	var oldest []*models.Backup
	for i := 0; i < 10; i++ {
		b, err := env.manager.BackupContainer(ctx, c.ID, models.BackupDaily)
		require.NoError(t, err)
		b.CreatedAt = time.Now().UTC().AddDate(0, 0, -(10 - i))
		b.SizeBytes = 100
		require.NoError(t, env.store.DeleteBackup(b.ID))
		require.NoError(t, env.store.CreateBackup(b))
		if i < 3 {
			oldest = append(oldest, b)
		}
	}
	// Manual backups never expire.
	manual, err := env.manager.BackupContainer(ctx, c.ID, models.BackupManual)
	require.NoError(t, err)

	freed, err := env.manager.CleanupOldBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), freed)

	remaining, err := env.store.ListBackups(c.ID, models.BackupDaily)
	require.NoError(t, err)
	assert.Len(t, remaining, 7)
	for _, b := range remaining {
		for _, gone := range oldest {
			assert.NotEqual(t, gone.ID, b.ID)
		}
	}

	_, err = env.store.GetBackup(manual.ID)
	assert.NoError(t, err)
}

func TestRestoreContainer(t *testing.T) {
	env := newBackupEnv(t, true)
	c := env.newContainer(t, map[string]string{"www/index.html": "version one"})
	ctx := context.Background()

	b, err := env.manager.BackupContainer(ctx, c.ID, models.BackupManual)
	require.NoError(t, err)

	// Mutate the volume after the backup.
	require.NoError(t, os.WriteFile(filepath.Join(c.VolumePath, "www", "index.html"), []byte("version two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(c.VolumePath, "junk.tmp"), []byte("x"), 0o644))

	require.NoError(t, env.manager.RestoreContainer(ctx, c.ID, b.ID))

	data, err := os.ReadFile(filepath.Join(c.VolumePath, "www", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "version one", string(data))
	assert.NoFileExists(t, filepath.Join(c.VolumePath, "junk.tmp"))

	// A running container is stopped for the restore and started again.
	assert.Equal(t, []string{c.ID}, env.power.stops)
	assert.Equal(t, []string{c.ID}, env.power.starts)

	// The restore left a safety backup behind.
	safety, err := env.store.ListBackups(c.ID, models.BackupPreRestore)
	require.NoError(t, err)
	assert.Len(t, safety, 1)
}

func TestRestoreRejectsForeignBackup(t *testing.T) {
	env := newBackupEnv(t, false)
	a := env.newContainer(t, map[string]string{"a.txt": "a"})
	b := env.newContainer(t, map[string]string{"b.txt": "b"})
	ctx := context.Background()

	backupA, err := env.manager.BackupContainer(ctx, a.ID, models.BackupManual)
	require.NoError(t, err)

	err = env.manager.RestoreContainer(ctx, b.ID, backupA.ID)
	assert.ErrorIs(t, err, ErrBackupMismatch)
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "deep", "leaf.txt"), []byte("leaf"), 0o600))

	archivePath := filepath.Join(t.TempDir(), "a.tar.gz")
	out, err := os.Create(archivePath)
	require.NoError(t, err)
	require.NoError(t, archiveDir(src, out))
	require.NoError(t, out.Close())

	dest := t.TempDir()
	in, err := os.Open(archivePath)
	require.NoError(t, err)
	defer in.Close()
	require.NoError(t, extractArchive(in, dest))

	data, err := os.ReadFile(filepath.Join(dest, "nested", "deep", "leaf.txt"))
	require.NoError(t, err)
	assert.Equal(t, "leaf", string(data))
}
