package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// Terminator tears down subscriptions whose paid period has ended.
type Terminator interface {
	Terminate(ctx context.Context, subscriptionID string) error
}

// Runner is the recurring billing job. It invoices due subscriptions,
// advances their billing cycle, and terminates cancelled subscriptions once
// their paid period runs out.
type Runner struct {
	store      *store.Store
	terminator Terminator
	logger     *slog.Logger
}

// NewRunner wires the billing runner.
func NewRunner(st *store.Store, terminator Terminator, logger *slog.Logger) *Runner {
	return &Runner{store: st, terminator: terminator, logger: logger}
}

// ProcessDueSubscriptions runs one billing pass and returns how many
// subscriptions were processed.
func (r *Runner) ProcessDueSubscriptions(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	processed := 0

	due, err := r.store.ListSubscriptionsDue(now)
	if err != nil {
		return 0, err
	}
	for _, sub := range due {
		if err := r.renew(sub, now); err != nil {
			r.logger.Error("failed to renew subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		processed++
	}

	expired, err := r.expiredCancellations(now)
	if err != nil {
		return processed, err
	}
	for _, sub := range expired {
		if err := r.terminator.Terminate(ctx, sub.ID); err != nil {
			r.logger.Error("failed to terminate expired subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		r.logger.Info("cancelled subscription terminated at period end", "subscription_id", sub.ID)
		processed++
	}

	return processed, nil
}

// renew invoices one cycle and rolls the billing window forward. An open
// credit balance is consumed before anything is invoiced.
func (r *Runner) renew(sub *models.Subscription, now time.Time) error {
	amount := RenewalAmount(sub.Plan, sub.BillingCycle)
	if sub.CreditBalance.IsPositive() {
		applied := decimal.Min(sub.CreditBalance, amount)
		amount = amount.Sub(applied)
		sub.CreditBalance = sub.CreditBalance.Sub(applied)
	}
	if err := sub.AddInvoiced(amount); err != nil {
		return err
	}
	sub.CycleStart = sub.NextBillingDate
	sub.NextBillingDate = NextBillingDate(sub.CycleStart, sub.BillingCycle)
	if err := r.store.UpdateSubscription(sub); err != nil {
		return err
	}
	r.logger.Info("subscription renewed",
		"subscription_id", sub.ID,
		"amount", amount.StringFixed(2),
		"next_billing_date", sub.NextBillingDate.Format(time.DateOnly))
	return nil
}

// expiredCancellations returns cancelled subscriptions whose paid period has
// ended.
func (r *Runner) expiredCancellations(now time.Time) ([]*models.Subscription, error) {
	cancelled, err := r.store.ListSubscriptions(models.SubscriptionCancelled, "")
	if err != nil {
		return nil, err
	}
	var expired []*models.Subscription
	for _, sub := range cancelled {
		if !sub.NextBillingDate.After(now) {
			expired = append(expired, sub)
		}
	}
	return expired, nil
}
