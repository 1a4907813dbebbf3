package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stackhost-io/stackhost/internal/auth"
	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/imagebuild"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/internal/worker"
	"github.com/stackhost-io/stackhost/models"
)

type fakeLifecycle struct {
	provisioned []string
	actions     []string
	err         error
}

func (f *fakeLifecycle) Provision(ctx context.Context, subscriptionID string) (*models.Container, error) {
	f.provisioned = append(f.provisioned, subscriptionID)
	return &models.Container{ID: uuid.NewString(), SubscriptionID: subscriptionID}, f.err
}

func (f *fakeLifecycle) act(name, id string) error {
	f.actions = append(f.actions, name+":"+id)
	return f.err
}

func (f *fakeLifecycle) Suspend(ctx context.Context, id string) error   { return f.act("suspend", id) }
func (f *fakeLifecycle) Resume(ctx context.Context, id string) error    { return f.act("resume", id) }
func (f *fakeLifecycle) Cancel(ctx context.Context, id string) error    { return f.act("cancel", id) }
func (f *fakeLifecycle) Terminate(ctx context.Context, id string) error { return f.act("terminate", id) }
func (f *fakeLifecycle) Start(ctx context.Context, id string) error     { return f.act("start", id) }
func (f *fakeLifecycle) Stop(ctx context.Context, id string) error      { return f.act("stop", id) }
func (f *fakeLifecycle) Reboot(ctx context.Context, id string) error    { return f.act("reboot", id) }

type fakeImages struct {
	submitted []imagebuild.SubmitRequest
}

func (f *fakeImages) Submit(ctx context.Context, req imagebuild.SubmitRequest, archive io.Reader, size int64) (*models.CustomImage, error) {
	f.submitted = append(f.submitted, req)
	return &models.CustomImage{ID: uuid.NewString(), Name: req.Name, Tag: req.Tag, Status: models.ImagePending}, nil
}

func (f *fakeImages) Rebuild(ctx context.Context, imageID string) (*models.CustomImage, error) {
	return &models.CustomImage{ID: uuid.NewString(), PreviousVersionID: &imageID}, nil
}

func (f *fakeImages) Approve(ctx context.Context, imageID, adminID string) (*models.CustomImage, error) {
	return &models.CustomImage{ID: imageID, Approved: true, ApprovedBy: adminID}, nil
}

func (f *fakeImages) Reject(ctx context.Context, imageID, adminID string) (*models.CustomImage, error) {
	return nil, imagebuild.ErrNotRejectable
}

func (f *fakeImages) Delete(ctx context.Context, imageID string) error { return nil }

type fakeBackups struct {
	created  []string
	restored []string
	deleted  []string
}

func (f *fakeBackups) BackupContainer(ctx context.Context, containerID string, backupType models.BackupType) (*models.Backup, error) {
	f.created = append(f.created, containerID)
	return &models.Backup{ID: uuid.NewString(), ContainerID: containerID, Type: backupType}, nil
}

func (f *fakeBackups) RestoreContainer(ctx context.Context, containerID, backupID string) error {
	f.restored = append(f.restored, backupID)
	return nil
}

func (f *fakeBackups) DeleteBackup(ctx context.Context, backupID string) error {
	f.deleted = append(f.deleted, backupID)
	return nil
}

type fakeZones struct {
	synced  []string
	resyncs int
}

func (f *fakeZones) SyncZone(ctx context.Context, zoneID string) error {
	f.synced = append(f.synced, zoneID)
	return nil
}

func (f *fakeZones) RegenerateAll(ctx context.Context) error {
	f.resyncs++
	return nil
}

// inlineTasks runs submitted tasks synchronously, which keeps API tests
// deterministic.
type inlineTasks struct {
	submitted []string
}

func (f *inlineTasks) Submit(task worker.Task) error {
	f.submitted = append(f.submitted, task.Name)
	return task.Run(context.Background())
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error    { return f.err }
func (f *fakePinger) Healthy(ctx context.Context) error { return f.err }

type testEnv struct {
	server    *Server
	store     *store.Store
	lifecycle *fakeLifecycle
	images    *fakeImages
	backups   *fakeBackups
	zones     *fakeZones
	tasks     *inlineTasks
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

	cfg := &config.Config{}
	cfg.Security.AuthEnabled = false
	cfg.DNS.PrimaryNS = "ns1.stackhost.io"
	cfg.DNS.AdminEmail = "hostmaster@stackhost.io"
	cfg.DNS.Nameservers = []string{"ns1.stackhost.io", "ns2.stackhost.io"}
	cfg.DNS.DefaultTTL = 3600

	env := &testEnv{
		store:     st,
		lifecycle: &fakeLifecycle{},
		images:    &fakeImages{},
		backups:   &fakeBackups{},
		zones:     &fakeZones{},
		tasks:     &inlineTasks{},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	env.server = New(cfg, Deps{
		Store:     st,
		Lifecycle: env.lifecycle,
		Images:    env.images,
		Backups:   env.backups,
		Zones:     env.zones,
		Tasks:     env.tasks,
		Runtime:   &fakePinger{},
		DNS:       &fakePinger{},
	}, logger)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doAs(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func seedPlan(t *testing.T, env *testEnv, price string) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:           uuid.NewString(),
		Name:         "plan-" + uuid.NewString(),
		CPUCores:     2,
		MemoryMB:     2048,
		StorageGB:    40,
		MonthlyPrice: decimal.RequireFromString(price),
		BaseImage:    "stackhost/base:bookworm",
		Active:       true,
	}
	require.NoError(t, env.store.CreatePlan(plan))
	return plan
}

func seedActiveSubscription(t *testing.T, env *testEnv, plan *models.Plan) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:              uuid.NewString(),
		CustomerID:      uuid.NewString(),
		PlanID:          plan.ID,
		Status:          models.SubscriptionActive,
		Hostname:        "h-" + uuid.NewString(),
		BillingCycle:    models.BillingMonthly,
		StartDate:       now.AddDate(0, 0, -10),
		CycleStart:      now.AddDate(0, 0, -10),
		NextBillingDate: now.AddDate(0, 0, 20),
		AutoRenew:       true,
	}
	require.NoError(t, env.store.CreateSubscription(sub))
	return sub
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthCheckDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.server.deps.Runtime = &fakePinger{err: fmt.Errorf("daemon unreachable")}

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "degraded", body["status"])
}

func TestCreateAndListPlans(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{
		Name:         "starter",
		CPUCores:     1,
		MemoryMB:     1024,
		StorageGB:    20,
		MonthlyPrice: "9.90",
		SetupFee:     "5.00",
		BaseImage:    "stackhost/base:bookworm",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Plan](t, rec)
	assert.Equal(t, "starter", created.Name)
	assert.True(t, created.Active)

	rec = env.do(t, http.MethodGet, "/api/v1/plans?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[PaginatedResponse[models.Plan]](t, rec)
	assert.Equal(t, 1, list.Total)
}

func TestCreatePlanValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Name: "broken"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[APIError](t, rec)
	assert.NotEmpty(t, body.FieldError)
}

func TestCreateSubscriptionProvisionsInBackground(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", CreateSubscriptionRequest{
		CustomerID:   uuid.NewString(),
		PlanID:       plan.ID,
		Hostname:     "alice-box",
		BillingCycle: "MONTHLY",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[models.Subscription](t, rec)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.True(t, sub.TotalInvoiced.Equal(decimal.RequireFromString("10.00")),
		"invoiced %s", sub.TotalInvoiced)

	require.Equal(t, []string{"provision"}, env.tasks.submitted)
	assert.Equal(t, []string{sub.ID}, env.lifecycle.provisioned)
}

func TestCreateSubscriptionInactivePlan(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")
	plan.Active = false
	require.NoError(t, env.store.UpdatePlan(plan))

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", CreateSubscriptionRequest{
		CustomerID:   uuid.NewString(),
		PlanID:       plan.ID,
		Hostname:     "bob-box",
		BillingCycle: "MONTHLY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.lifecycle.provisioned)
}

func TestSubscriptionActions(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")
	sub := seedActiveSubscription(t, env, plan)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{
		"suspend:" + sub.ID,
		"resume:" + sub.ID,
		"cancel:" + sub.ID,
	}, env.lifecycle.actions)
}

func TestSubscriptionActionConflict(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")
	sub := seedActiveSubscription(t, env, plan)
	env.lifecycle.err = fmt.Errorf("%w: subscription TERMINATED -> ACTIVE", models.ErrInvalidTransition)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlanChangePreviewAndApply(t *testing.T) {
	env := newTestEnv(t)
	oldPlan := seedPlan(t, env, "10.00")
	newPlan := seedPlan(t, env, "20.00")
	sub := seedActiveSubscription(t, env, oldPlan)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/plan-change/preview",
		PlanChangeRequest{PlanID: newPlan.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[PlanChangePreviewResponse](t, rec)
	amount := decimal.RequireFromString(preview.Amount)
	assert.True(t, amount.IsPositive(), "upgrade quote should be positive, got %s", preview.Amount)

	rec = env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/plan-change",
		PlanChangeRequest{PlanID: newPlan.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, newPlan.ID, got.PlanID)
	assert.True(t, got.TotalInvoiced.Equal(amount), "invoiced %s want %s", got.TotalInvoiced, amount)
}

func TestPlanChangeRejectsDowngrade(t *testing.T) {
	env := newTestEnv(t)
	bigPlan := seedPlan(t, env, "20.00")
	smallPlan := seedPlan(t, env, "10.00")
	smallPlan.CPUCores = 1
	smallPlan.MemoryMB = 1024
	smallPlan.StorageGB = 20
	require.NoError(t, env.store.UpdatePlan(smallPlan))
	sub := seedActiveSubscription(t, env, bigPlan)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/plan-change",
		PlanChangeRequest{PlanID: smallPlan.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanChangeDowngradeWithCredit(t *testing.T) {
	env := newTestEnv(t)
	bigPlan := seedPlan(t, env, "20.00")
	smallPlan := seedPlan(t, env, "10.00")
	smallPlan.CPUCores = 1
	smallPlan.MemoryMB = 1024
	smallPlan.StorageGB = 20
	require.NoError(t, env.store.UpdatePlan(smallPlan))
	sub := seedActiveSubscription(t, env, bigPlan)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/plan-change",
		PlanChangeRequest{PlanID: smallPlan.ID, AllowDowngrade: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, smallPlan.ID, got.PlanID)
	// The unused cycle remainder becomes credit, never a negative invoice.
	assert.True(t, got.CreditBalance.IsPositive(), "credit %s", got.CreditBalance)
	assert.True(t, got.TotalInvoiced.IsZero(), "invoiced %s", got.TotalInvoiced)
}

func TestPlanChangeDowngradeRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	secret := "test-secret-at-least-32-chars-long"
	env.server.config.Security.AuthEnabled = true
	env.server.config.Security.JWTSecret = secret
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	env.server = New(env.server.config, env.server.deps, logger)

	bigPlan := seedPlan(t, env, "20.00")
	smallPlan := seedPlan(t, env, "10.00")
	smallPlan.CPUCores = 1
	smallPlan.MemoryMB = 1024
	smallPlan.StorageGB = 20
	require.NoError(t, env.store.UpdatePlan(smallPlan))
	sub := seedActiveSubscription(t, env, bigPlan)
	path := "/api/v1/subscriptions/" + sub.ID + "/plan-change"

	// A write-role caller cannot force a downgrade.
	writeToken, err := auth.SignToken(secret, uuid.NewString(), "operator", []auth.Role{auth.RoleWrite}, time.Hour)
	require.NoError(t, err)
	rec := env.doAs(t, writeToken, http.MethodPost, path,
		PlanChangeRequest{PlanID: smallPlan.ID, AllowDowngrade: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	adminToken, err := auth.SignToken(secret, uuid.NewString(), "root", []auth.Role{auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	rec = env.doAs(t, adminToken, http.MethodPost, path,
		PlanChangeRequest{PlanID: smallPlan.ID, AllowDowngrade: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, smallPlan.ID, got.PlanID)
	assert.True(t, got.CreditBalance.IsPositive(), "credit %s", got.CreditBalance)
}

func TestContainerActions(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")
	sub := seedActiveSubscription(t, env, plan)
	container := &models.Container{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Name:           "sh-test-" + sub.ID[:8],
		Image:          plan.BaseImage,
		Status:         models.ContainerRunning,
		IPAddress:      "10.100.0.5",
		SSHPort:        22005,
		Hostname:       sub.Hostname,
	}
	require.NoError(t, env.store.CreateContainer(container))

	rec := env.do(t, http.MethodPost, "/api/v1/containers/"+container.ID+"/reboot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"reboot:" + container.ID}, env.lifecycle.actions)

	rec = env.do(t, http.MethodGet, "/api/v1/containers?status=RUNNING", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[PaginatedResponse[models.Container]](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = env.do(t, http.MethodGet, "/api/v1/containers?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestZoneRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/zones", CreateZoneRequest{
		ZoneName: "customer.example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	zone := decode[models.DNSZone](t, rec)
	assert.Equal(t, "ns1.stackhost.io", zone.PrimaryNS)
	assert.Equal(t, 3600, zone.DefaultTTL)

	rec = env.do(t, http.MethodPost, "/api/v1/zones/"+zone.ID+"/records", CreateRecordRequest{
		Name:  "www",
		Type:  "A",
		Value: "203.0.113.10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.DNSRecord](t, rec)
	assert.Equal(t, 3600, created.TTL)
	assert.Equal(t, []string{zone.ID}, env.zones.synced)

	rec = env.do(t, http.MethodPost, "/api/v1/zones/"+zone.ID+"/records", CreateRecordRequest{
		Name:  "www",
		Type:  "BOGUS",
		Value: "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/zones/"+zone.ID+"/records/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteSystemRecordRejected(t *testing.T) {
	env := newTestEnv(t)
	zone := &models.DNSZone{
		ID: uuid.NewString(), ZoneName: "sys.example.com", Status: models.ZoneActive,
		PrimaryNS: "ns1.stackhost.io", AdminEmail: "hostmaster@stackhost.io",
	}
	require.NoError(t, env.store.CreateZone(zone))
	rec := &models.DNSRecord{
		ID: uuid.NewString(), ZoneID: zone.ID, Name: "@", Type: models.RecordA,
		Value: "203.0.113.10", TTL: 3600, System: true,
	}
	require.NoError(t, env.store.CreateRecord(rec))

	resp := env.do(t, http.MethodDelete, "/api/v1/zones/"+zone.ID+"/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestZoneSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)
	zone := &models.DNSZone{
		ID: uuid.NewString(), ZoneName: "sync.example.com", Status: models.ZoneActive,
		PrimaryNS: "ns1.stackhost.io", AdminEmail: "hostmaster@stackhost.io",
	}
	require.NoError(t, env.store.CreateZone(zone))

	rec := env.do(t, http.MethodPost, "/api/v1/zones/"+zone.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{zone.ID}, env.zones.synced)

	rec = env.do(t, http.MethodPost, "/api/v1/zones/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.zones.resyncs)
}

func TestBackupEndpoints(t *testing.T) {
	env := newTestEnv(t)
	plan := seedPlan(t, env, "10.00")
	sub := seedActiveSubscription(t, env, plan)
	container := &models.Container{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Name:           "sh-bk-" + sub.ID[:8],
		Image:          plan.BaseImage,
		Status:         models.ContainerRunning,
		IPAddress:      "10.100.0.7",
		SSHPort:        22007,
		Hostname:       sub.Hostname,
	}
	require.NoError(t, env.store.CreateContainer(container))

	rec := env.do(t, http.MethodPost, "/api/v1/containers/"+container.ID+"/backups", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Backup](t, rec)
	assert.Equal(t, models.BackupManual, created.Type)
	assert.Equal(t, []string{container.ID}, env.backups.created)

	b := &models.Backup{
		ID: uuid.NewString(), ContainerID: container.ID,
		SubscriptionID: sub.ID, CustomerID: sub.CustomerID,
		Type: models.BackupDaily, SizeBytes: 42,
	}
	require.NoError(t, env.store.CreateBackup(b))

	rec = env.do(t, http.MethodPost, "/api/v1/backups/"+b.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{b.ID}, env.backups.restored)

	rec = env.do(t, http.MethodDelete, "/api/v1/backups/"+b.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{b.ID}, env.backups.deleted)
}

func TestRejectImageConflict(t *testing.T) {
	env := newTestEnv(t)

	img := &models.CustomImage{
		ID: uuid.NewString(), CustomerID: uuid.NewString(),
		Name: "app", Tag: "v1", Status: models.ImagePending,
		ArchiveKey: "images/x/y.tar.gz",
	}
	require.NoError(t, env.store.CreateImage(img))

	rec := env.do(t, http.MethodPost, "/api/v1/images/"+img.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.Security.AuthEnabled = true
	env.server.config.Security.JWTSecret = "test-secret-at-least-32-chars-long"
	// Rebuild so the middleware picks up the new settings.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	env.server = New(env.server.config, env.server.deps, logger)

	rec := env.do(t, http.MethodGet, "/api/v1/plans", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open for load balancers.
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
