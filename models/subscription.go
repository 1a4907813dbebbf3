package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionPending      SubscriptionStatus = "PENDING"
	SubscriptionProvisioning SubscriptionStatus = "PROVISIONING"
	SubscriptionActive       SubscriptionStatus = "ACTIVE"
	SubscriptionSuspended    SubscriptionStatus = "SUSPENDED"
	SubscriptionCancelled    SubscriptionStatus = "CANCELLED"
	SubscriptionTerminated   SubscriptionStatus = "TERMINATED"
)

// subscriptionTransitions is the exhaustive transition table. Terminal states
// have no outgoing edges.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionPending:      {SubscriptionProvisioning, SubscriptionCancelled},
	SubscriptionProvisioning: {SubscriptionActive, SubscriptionCancelled, SubscriptionTerminated},
	SubscriptionActive:       {SubscriptionSuspended, SubscriptionCancelled, SubscriptionTerminated},
	SubscriptionSuspended:    {SubscriptionActive, SubscriptionCancelled, SubscriptionTerminated},
	SubscriptionCancelled:    {SubscriptionTerminated},
	SubscriptionTerminated:   {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s SubscriptionStatus) Terminal() bool {
	return len(subscriptionTransitions[s]) == 0
}

// Subscription is the billing and ownership unit. Exactly one non-terminated
// container exists per subscription once provisioning succeeds.
type Subscription struct {
	ID              string             `gorm:"primaryKey;size:36" json:"id"`
	CustomerID      string             `gorm:"size:36;not null;index" json:"customer_id"`
	PlanID          string             `gorm:"size:36;not null;index" json:"plan_id"`
	Plan            *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status          SubscriptionStatus `gorm:"size:20;not null;index" json:"status"`
	Hostname        string             `gorm:"size:255;not null;uniqueIndex" json:"hostname"`
	CustomImageID   *string            `gorm:"size:36" json:"custom_image_id,omitempty"`
	BillingCycle    BillingCycle       `gorm:"size:20;not null" json:"billing_cycle"`
	StartDate       time.Time          `json:"start_date"`
	CycleStart      time.Time          `json:"cycle_start"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	Trial           bool               `json:"trial"`
	AutoRenew       bool               `gorm:"default:true" json:"auto_renew"`
	TotalInvoiced   decimal.Decimal    `gorm:"type:numeric(12,2)" json:"total_invoiced"`
	TotalPaid       decimal.Decimal    `gorm:"type:numeric(12,2)" json:"total_paid"`
	CreditBalance   decimal.Decimal    `gorm:"type:numeric(12,2)" json:"credit_balance"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// SetStatus applies a transition, rejecting edges missing from the table.
func (s *Subscription) SetStatus(next SubscriptionStatus) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: subscription %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// AddInvoiced grows the running invoiced total. Totals are monotonically
// non-decreasing; credits are carried on invoice lines, not subtracted here.
func (s *Subscription) AddInvoiced(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("invoiced amount must not be negative, got %s", amount)
	}
	s.TotalInvoiced = s.TotalInvoiced.Add(amount)
	return nil
}

// AddCredit grows the credit balance. Credits are consumed against future
// renewals instead of shrinking the invoiced total.
func (s *Subscription) AddCredit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit amount must not be negative, got %s", amount)
	}
	s.CreditBalance = s.CreditBalance.Add(amount)
	return nil
}

// AddPaid grows the running paid total.
func (s *Subscription) AddPaid(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("paid amount must not be negative, got %s", amount)
	}
	s.TotalPaid = s.TotalPaid.Add(amount)
	return nil
}
