package store

import (
	"time"

	"github.com/stackhost-io/stackhost/models"
)

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(plan *models.Plan) error {
	return translate(s.db.Create(plan).Error)
}

// GetPlan fetches a plan by ID.
func (s *Store) GetPlan(id string) (*models.Plan, error) {
	var plan models.Plan
	if err := s.db.First(&plan, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &plan, nil
}

// ListPlans lists plans, optionally restricted to active ones.
func (s *Store) ListPlans(activeOnly bool) ([]*models.Plan, error) {
	q := s.db.Order("monthly_price asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var plans []*models.Plan
	return plans, translate(q.Find(&plans).Error)
}

// UpdatePlan persists administrative plan edits. Plans are deactivated, never
// deleted, once referenced by a subscription.
func (s *Store) UpdatePlan(plan *models.Plan) error {
	return translate(s.db.Save(plan).Error)
}

// CreateSubscription inserts a new subscription.
func (s *Store) CreateSubscription(sub *models.Subscription) error {
	return translate(s.db.Create(sub).Error)
}

// GetSubscription fetches a subscription with its plan preloaded.
func (s *Store) GetSubscription(id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Preload("Plan").First(&sub, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

// UpdateSubscription persists subscription changes.
func (s *Store) UpdateSubscription(sub *models.Subscription) error {
	return translate(s.db.Save(sub).Error)
}

// ListSubscriptions lists subscriptions filtered by status and/or customer.
func (s *Store) ListSubscriptions(status models.SubscriptionStatus, customerID string) ([]*models.Subscription, error) {
	q := s.db.Preload("Plan").Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	}
	var subs []*models.Subscription
	return subs, translate(q.Find(&subs).Error)
}

// ListSubscriptionsDue returns active auto-renewing subscriptions whose next
// billing date is on or before the given time. Used by the recurring billing
// job.
func (s *Store) ListSubscriptionsDue(asOf time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.Preload("Plan").
		Where("status = ? AND auto_renew = ? AND next_billing_date <= ?",
			models.SubscriptionActive, true, asOf).
		Find(&subs).Error
	return subs, translate(err)
}
