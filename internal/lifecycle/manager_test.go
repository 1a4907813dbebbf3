package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
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
	"github.com/stackhost-io/stackhost/internal/runtime"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

type fakeRuntime struct {
	mu        sync.Mutex
	created   map[string]runtime.CreateSpec
	running   map[string]bool
	seq       int
	failStart bool
	failStop  bool
	// startDead makes starts succeed while the container immediately
	// exits, the way a broken entrypoint behaves.
	startDead bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		created: make(map[string]runtime.CreateSpec),
		running: make(map[string]bool),
	}
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec runtime.CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := uuid.NewString()
	f.created[id] = spec
	return id, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return errors.New("daemon refused start")
	}
	if f.startDead {
		return nil
	}
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStop {
		return errors.New("daemon refused stop")
	}
	f.running[id] = false
	return nil
}

func (f *fakeRuntime) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, id)
	delete(f.running, id)
	return nil
}

func (f *fakeRuntime) InspectState(ctx context.Context, id string) (*runtime.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startDead {
		return &runtime.State{Running: false, ExitCode: 127}, nil
	}
	return &runtime.State{Running: f.running[id]}, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (*runtime.StatsSample, error) {
	return &runtime.StatsSample{CPUPercent: 7.5, MemoryBytes: 256 << 20, ProcessCount: 12}, nil
}

func (f *fakeRuntime) PullImage(ctx context.Context, ref string) error { return nil }

func (f *fakeRuntime) BuildImage(ctx context.Context, buildContext io.Reader, opts runtime.BuildOptions, onLine func(string)) (string, error) {
	return "sha256:fake", nil
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }

type fakeDNS struct {
	published map[string]string
	retired   map[string]bool
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{published: make(map[string]string), retired: make(map[string]bool)}
}

func (f *fakeDNS) PublishSubscriptionZone(ctx context.Context, sub *models.Subscription, domain, ip string) error {
	f.published[sub.ID] = ip
	return nil
}

func (f *fakeDNS) RetireSubscriptionZone(ctx context.Context, subscriptionID string) error {
	f.retired[subscriptionID] = true
	return nil
}

type fakeRouter struct {
	routes map[string]string
}

func newFakeRouter() *fakeRouter { return &fakeRouter{routes: make(map[string]string)} }

func (f *fakeRouter) AddServiceRoute(ctx context.Context, domain, target string, port int) error {
	f.routes[domain] = target
	return nil
}

func (f *fakeRouter) RemoveServiceRoute(ctx context.Context, domain string) error {
	delete(f.routes, domain)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store    *store.Store
	runtime  *fakeRuntime
	dns      *fakeDNS
	router   *fakeRouter
	notifier *recordingNotifier
	manager  *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{
		store:    st,
		runtime:  newFakeRuntime(),
		dns:      newFakeDNS(),
		router:   newFakeRouter(),
		notifier: &recordingNotifier{},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	env.manager, err = NewManager(
		st, env.runtime, env.dns, env.router, env.notifier,
		config.NetworkConfig{
			IPRangeCIDR:   "10.100.0.0/24",
			SSHPortMin:    22000,
			SSHPortMax:    22010,
			DockerNetwork: "stackhost-test",
			VolumeBaseDir: t.TempDir(),
			DomainSuffix:  "vps.stackhost.io",
		},
		config.RuntimeConfig{OperationTimeout: 30 * time.Second, StopTimeout: 10 * time.Second},
		logger,
	)
	require.NoError(t, err)
	return env
}

func (e *testEnv) newSubscription(t *testing.T, hostname string) *models.Subscription {
	t.Helper()
	plan := &models.Plan{
		ID:           uuid.NewString(),
		Name:         "starter-" + hostname,
		CPUCores:     2,
		MemoryMB:     2048,
		StorageGB:    40,
		MonthlyPrice: decimal.RequireFromString("10.00"),
		BaseImage:    "stackhost/base:bookworm",
		Active:       true,
	}
	require.NoError(t, e.store.CreatePlan(plan))

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:              uuid.NewString(),
		CustomerID:      uuid.NewString(),
		PlanID:          plan.ID,
		Status:          models.SubscriptionPending,
		Hostname:        hostname,
		BillingCycle:    models.BillingMonthly,
		StartDate:       now,
		CycleStart:      now,
		NextBillingDate: now.AddDate(0, 1, 0),
		AutoRenew:       true,
	}
	require.NoError(t, e.store.CreateSubscription(sub))
	return sub
}

func TestProvision(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "alice")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerRunning, c.Status)
	assert.Equal(t, "10.100.0.1", c.IPAddress)
	assert.Equal(t, 22000, c.SSHPort)
	assert.NotEmpty(t, c.RuntimeID)
	assert.DirExists(t, c.VolumePath)

	got, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)

	assert.Equal(t, "10.100.0.1", env.dns.published[sub.ID])
	assert.Equal(t, "10.100.0.1", env.router.routes["alice.vps.stackhost.io"])
	assert.Contains(t, env.notifier.types(), notify.EventProvisioned)

	spec := env.runtime.created[c.RuntimeID]
	assert.Equal(t, float64(2), spec.CPUCores)
	assert.Equal(t, int64(2048), spec.MemoryMB)
	assert.Equal(t, sub.ID, spec.Labels["io.stackhost.subscription"])
	assert.Equal(t, "stackhost-test", spec.Network)
	assert.Equal(t, "10.100.0.1", spec.IPAddress)
}

func TestProvisionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "bob")
	ctx := context.Background()

	first, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)
	second, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.runtime.created, 1)
}

func TestProvisionStartFailure(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.failStart = true
	sub := env.newSubscription(t, "carol")

	_, err := env.manager.Provision(context.Background(), sub.ID)
	require.Error(t, err)

	containers, err := env.store.ListContainers(models.ContainerError)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Contains(t, containers[0].ErrorMessage, "daemon refused start")
	assert.Contains(t, env.notifier.types(), notify.EventContainerError)
}

func TestProvisionContainerDiesAfterStart(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.startDead = true
	sub := env.newSubscription(t, "oscar")

	_, err := env.manager.Provision(context.Background(), sub.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 127")

	containers, err := env.store.ListContainers(models.ContainerError)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Contains(t, env.notifier.types(), notify.EventContainerError)
}

func TestProvisionCustomImageGate(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "dave")

	img := &models.CustomImage{
		ID: uuid.NewString(), CustomerID: sub.CustomerID, Name: "dave-app", Tag: "v1",
		Status: models.ImageBuilding, Version: 1, ArchiveKey: "k",
	}
	require.NoError(t, env.store.CreateImage(img))
	sub.CustomImageID = &img.ID
	require.NoError(t, env.store.UpdateSubscription(sub))

	_, err := env.manager.Provision(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrImageNotSelectable)
}

func TestSuspendResume(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "erin")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, env.manager.Suspend(ctx, sub.ID))
	got, err := env.store.GetContainer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerStopped, got.Status)
	assert.NotContains(t, env.router.routes, "erin.vps.stackhost.io")

	subGot, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionSuspended, subGot.Status)

	require.NoError(t, env.manager.Resume(ctx, sub.ID))
	got, err = env.store.GetContainer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerRunning, got.Status)
	assert.Contains(t, env.router.routes, "erin.vps.stackhost.io")
}

func TestTerminate(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "frank")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, env.manager.Terminate(ctx, sub.ID))

	got, err := env.store.GetContainer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerTerminated, got.Status)

	subGot, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTerminated, subGot.Status)

	_, err = env.store.GetActiveContainer(sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.True(t, env.dns.retired[sub.ID])
	assert.NotContains(t, env.router.routes, "frank.vps.stackhost.io")
	assert.Empty(t, env.runtime.created)
}

func TestTerminateReleasesAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.newSubscription(t, "mallory")
	c1, err := env.manager.Provision(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.1", c1.IPAddress)
	assert.Equal(t, 22000, c1.SSHPort)

	require.NoError(t, env.manager.Terminate(ctx, first.ID))

	// The terminated row no longer holds its address or port.
	gone, err := env.store.GetContainer(c1.ID)
	require.NoError(t, err)
	assert.Empty(t, gone.IPAddress)
	assert.Zero(t, gone.SSHPort)

	// A fresh subscription can take the freed address and port.
	second := env.newSubscription(t, "nadia")
	c2, err := env.manager.Provision(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.1", c2.IPAddress)
	assert.Equal(t, 22000, c2.SSHPort)
}

func TestTerminatedSubscriptionStaysTerminated(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "grace")
	ctx := context.Background()

	_, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, env.manager.Terminate(ctx, sub.ID))

	assert.ErrorIs(t, env.manager.Resume(ctx, sub.ID), models.ErrInvalidTransition)
	assert.ErrorIs(t, env.manager.Suspend(ctx, sub.ID), models.ErrInvalidTransition)
}

func TestRebootStoppedRejected(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "heidi")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, env.manager.Stop(ctx, c.ID))

	err = env.manager.Reboot(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelKeepsContainerRunning(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "ivan")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, env.manager.Cancel(ctx, sub.ID))

	subGot, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, subGot.Status)
	assert.False(t, subGot.AutoRenew)
	assert.NotNil(t, subGot.CancelledAt)

	got, err := env.store.GetContainer(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContainerRunning, got.Status)
}

func TestSampleMetrics(t *testing.T) {
	env := newTestEnv(t)
	sub := env.newSubscription(t, "judy")
	ctx := context.Background()

	c, err := env.manager.Provision(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, env.manager.SampleMetrics(ctx))

	metrics, err := env.store.ListMetrics(c.ID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.InDelta(t, 7.5, metrics[0].CPUPercent, 0.001)
	assert.Equal(t, 12, metrics[0].ProcessCount)
}

func TestAllocator(t *testing.T) {
	a, err := NewAllocator(&config.NetworkConfig{
		IPRangeCIDR: "10.100.0.0/29",
		SSHPortMin:  22000,
		SSHPortMax:  22001,
	})
	require.NoError(t, err)

	ip, err := a.AllocateIP(map[string]bool{"10.100.0.1": true})
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.2", ip)

	// A /29 has six usable hosts.
	used := map[string]bool{}
	for i := 0; i < 6; i++ {
		ip, err := a.AllocateIP(used)
		require.NoError(t, err)
		used[ip] = true
	}
	_, err = a.AllocateIP(used)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	port, err := a.AllocatePort(map[int]bool{22000: true})
	require.NoError(t, err)
	assert.Equal(t, 22001, port)

	_, err = a.AllocatePort(map[int]bool{22000: true, 22001: true})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
