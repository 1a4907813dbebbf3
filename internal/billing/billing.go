// Package billing contains the pure pricing calculators for subscriptions:
// mid-cycle pro-ration, billing-date advancement, upgrade-path validation and
// setup-fee refunds. The package performs no I/O; all currency math uses
// decimal arithmetic to avoid drift.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackhost-io/stackhost/models"
)

var (
	// ErrSamePlan is returned when a plan change targets the current plan.
	ErrSamePlan = errors.New("target plan is the same as the current plan")
	// ErrInactivePlan is returned when the target plan is deactivated.
	ErrInactivePlan = errors.New("target plan is not active")
	// ErrDowngradeNotAllowed is returned for downgrades without explicit permission.
	ErrDowngradeNotAllowed = errors.New("downgrade requires explicit permission")
	// ErrInvalidCycle is returned when cycle dates are inconsistent.
	ErrInvalidCycle = errors.New("invalid billing cycle dates")
)

// MinimumChargeUnit is the smallest invoiceable amount. Amounts strictly
// between zero and this value are rounded up to it so invoice lines are
// never near-zero.
var MinimumChargeUnit = decimal.NewFromFloat(0.01)

// CyclePrice returns the full price of one billing cycle for a plan.
func CyclePrice(plan *models.Plan, cycle models.BillingCycle) decimal.Decimal {
	return plan.MonthlyPrice.Mul(decimal.NewFromInt(int64(cycle.Months())))
}

// ProratedAmount computes the signed adjustment for changing sub to newPlan
// at the given date. A positive result is an upgrade charge, a negative one
// a downgrade credit capped at 100% of the old plan's monthly price.
//
// At cycle boundaries (change on the first or last day of the cycle) the
// full cycle-price difference is charged instead of a fractional amount.
func ProratedAmount(sub *models.Subscription, oldPlan, newPlan *models.Plan, at time.Time) (decimal.Decimal, error) {
	totalDays := daysBetween(sub.CycleStart, sub.NextBillingDate)
	if totalDays <= 0 {
		return decimal.Zero, fmt.Errorf("%w: cycle start %s, next billing %s",
			ErrInvalidCycle, sub.CycleStart.Format(time.DateOnly), sub.NextBillingDate.Format(time.DateOnly))
	}

	daysUsed := daysBetween(sub.CycleStart, at)
	if daysUsed < 0 || daysUsed > totalDays {
		return decimal.Zero, fmt.Errorf("%w: change date %s outside cycle",
			ErrInvalidCycle, at.Format(time.DateOnly))
	}
	daysRemaining := totalDays - daysUsed

	oldCycle := CyclePrice(oldPlan, sub.BillingCycle)
	newCycle := CyclePrice(newPlan, sub.BillingCycle)

	var amount decimal.Decimal
	if daysRemaining == 0 || daysUsed == 0 {
		amount = newCycle.Sub(oldCycle)
	} else {
		days := decimal.NewFromInt(int64(totalDays))
		oldDaily := oldCycle.Div(days)
		newDaily := newCycle.Div(days)
		amount = newDaily.Sub(oldDaily).Mul(decimal.NewFromInt(int64(daysRemaining)))
	}

	// Downgrade credits are bounded to one month of the old plan to limit abuse.
	maxCredit := oldPlan.MonthlyPrice.Neg()
	if amount.LessThan(maxCredit) {
		amount = maxCredit
	}

	// Bump before rounding so a sub-cent charge is not rounded away to zero.
	if amount.IsPositive() && amount.LessThan(MinimumChargeUnit) {
		return MinimumChargeUnit, nil
	}
	return amount.Round(2), nil
}

// NextBillingDate advances a date by one billing cycle with end-of-month
// clamping: Jan 31 + 1 month lands on the last day of February, and an
// annual cycle anchored on Feb 29 lands on Feb 28 in non-leap years.
func NextBillingDate(from time.Time, cycle models.BillingCycle) time.Time {
	months := cycle.Months()
	y, m, d := from.Date()

	// Anchor on the first of the target month, then clamp the day.
	anchor := time.Date(y, m, 1, 0, 0, 0, 0, from.Location()).AddDate(0, months, 0)
	if last := lastDayOfMonth(anchor.Year(), anchor.Month()); d > last {
		d = last
	}
	return time.Date(anchor.Year(), anchor.Month(), d, 0, 0, 0, 0, from.Location())
}

// ValidateUpgradePath checks a requested plan change. Downgrades are rejected
// unless explicitly allowed; permitted mid-cycle downgrades are credited by
// ProratedAmount rather than silently accepted for free.
func ValidateUpgradePath(current, target *models.Plan, allowDowngrade bool) error {
	if current.ID == target.ID {
		return ErrSamePlan
	}
	if !target.Active {
		return ErrInactivePlan
	}
	if target.MonthlyPrice.LessThan(current.MonthlyPrice) && !allowDowngrade {
		return ErrDowngradeNotAllowed
	}
	return nil
}

// SetupFeeRefund returns the refundable part of a setup fee. The fee is
// refunded in full only when cancellation happens within the grace period
// measured from the subscription start date.
func SetupFeeRefund(fee decimal.Decimal, startDate, cancelledAt time.Time, gracePeriod time.Duration) decimal.Decimal {
	if fee.IsZero() || cancelledAt.Before(startDate) {
		return decimal.Zero
	}
	if cancelledAt.Sub(startDate) <= gracePeriod {
		return fee.Round(2)
	}
	return decimal.Zero
}

// RenewalAmount is the invoice amount for the next full cycle of a
// subscription, used by the recurring billing job.
func RenewalAmount(plan *models.Plan, cycle models.BillingCycle) decimal.Decimal {
	return CyclePrice(plan, cycle).Round(2)
}

// daysBetween counts whole calendar days from a to b, ignoring clock time.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}
