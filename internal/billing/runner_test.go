package billing

import (
	"context"
	"log/slog"
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

	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

type fakeTerminator struct {
	terminated []string
}

func (f *fakeTerminator) Terminate(ctx context.Context, subscriptionID string) error {
	f.terminated = append(f.terminated, subscriptionID)
	return nil
}

func newRunnerEnv(t *testing.T) (*store.Store, *fakeTerminator, *Runner) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	term := &fakeTerminator{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return st, term, NewRunner(st, term, logger)
}

func seedSubscription(t *testing.T, st *store.Store, status models.SubscriptionStatus, nextBilling time.Time, autoRenew bool) *models.Subscription {
	t.Helper()
	plan := &models.Plan{
		ID: uuid.NewString(), Name: "plan-" + uuid.NewString(), CPUCores: 1, MemoryMB: 1024,
		StorageGB: 20, MonthlyPrice: decimal.RequireFromString("10.00"),
		BaseImage: "stackhost/base:bookworm", Active: true,
	}
	require.NoError(t, st.CreatePlan(plan))

	sub := &models.Subscription{
		ID: uuid.NewString(), CustomerID: uuid.NewString(), PlanID: plan.ID,
		Status: status, Hostname: "h-" + uuid.NewString(),
		BillingCycle: models.BillingMonthly,
		CycleStart:   nextBilling.AddDate(0, -1, 0), NextBillingDate: nextBilling,
		AutoRenew: autoRenew,
	}
	require.NoError(t, st.CreateSubscription(sub))
	return sub
}

func TestRunnerRenewsDueSubscriptions(t *testing.T) {
	st, term, runner := newRunnerEnv(t)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	sub := seedSubscription(t, st, models.SubscriptionActive, yesterday, true)
	seedSubscription(t, st, models.SubscriptionActive, time.Now().UTC().AddDate(0, 0, 10), true)

	processed, err := runner.ProcessDueSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Empty(t, term.terminated)

	got, err := st.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalInvoiced.Equal(decimal.RequireFromString("10.00")),
		"invoiced %s", got.TotalInvoiced)
	assert.True(t, got.NextBillingDate.After(time.Now().UTC()))
	assert.Equal(t, yesterday.Format(time.DateOnly), got.CycleStart.Format(time.DateOnly))
}

func TestRunnerConsumesCreditOnRenewal(t *testing.T) {
	st, _, runner := newRunnerEnv(t)
	sub := seedSubscription(t, st, models.SubscriptionActive, time.Now().UTC().AddDate(0, 0, -1), true)
	require.NoError(t, sub.AddCredit(decimal.RequireFromString("4.00")))
	require.NoError(t, st.UpdateSubscription(sub))

	_, err := runner.ProcessDueSubscriptions(context.Background())
	require.NoError(t, err)

	got, err := st.GetSubscription(sub.ID)
	require.NoError(t, err)
	// 10.00 renewal minus the 4.00 credit.
	assert.True(t, got.TotalInvoiced.Equal(decimal.RequireFromString("6.00")),
		"invoiced %s", got.TotalInvoiced)
	assert.True(t, got.CreditBalance.IsZero(), "credit %s", got.CreditBalance)
}

func TestRunnerTerminatesExpiredCancellations(t *testing.T) {
	st, term, runner := newRunnerEnv(t)
	expired := seedSubscription(t, st, models.SubscriptionCancelled, time.Now().UTC().AddDate(0, 0, -1), false)
	stillPaid := seedSubscription(t, st, models.SubscriptionCancelled, time.Now().UTC().AddDate(0, 0, 5), false)

	processed, err := runner.ProcessDueSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{expired.ID}, term.terminated)
	assert.NotContains(t, term.terminated, stillPaid.ID)
}
