package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/internal/auth"
	"github.com/stackhost-io/stackhost/internal/billing"
	"github.com/stackhost-io/stackhost/internal/worker"
	"github.com/stackhost-io/stackhost/models"
)

// listSubscriptions handles GET /api/v1/subscriptions
func (s *Server) listSubscriptions(c echo.Context) error {
	var status models.SubscriptionStatus
	if raw := c.QueryParam("status"); raw != "" {
		status = models.SubscriptionStatus(raw)
		if !validSubscriptionStatus(status) {
			return BadRequestError("invalid status parameter", raw)
		}
	}
	customerID := c.QueryParam("customer_id")
	limit, offset := parsePagination(c)

	subs, err := s.deps.Store.ListSubscriptions(status, customerID)
	if err != nil {
		return InternalError("failed to list subscriptions", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(subs, limit, offset))
}

func validSubscriptionStatus(status models.SubscriptionStatus) bool {
	switch status {
	case models.SubscriptionPending, models.SubscriptionProvisioning,
		models.SubscriptionActive, models.SubscriptionSuspended,
		models.SubscriptionCancelled, models.SubscriptionTerminated:
		return true
	}
	return false
}

// getSubscription handles GET /api/v1/subscriptions/:id
func (s *Server) getSubscription(c echo.Context) error {
	sub, err := s.deps.Store.GetSubscription(c.Param("id"))
	if err != nil {
		return domainError("subscription", err)
	}
	return c.JSON(http.StatusOK, sub)
}

// createSubscription handles POST /api/v1/subscriptions. The subscription
// row is created immediately; provisioning runs in the background, so the
// response is a 202 with the PENDING subscription.
func (s *Server) createSubscription(c echo.Context) error {
	var req CreateSubscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	plan, err := s.deps.Store.GetPlan(req.PlanID)
	if err != nil {
		return domainError("plan", err)
	}
	if !plan.Active {
		return BadRequestError("plan is not available", plan.Name)
	}

	if req.CustomImageID != nil {
		img, err := s.deps.Store.GetImage(*req.CustomImageID)
		if err != nil {
			return domainError("image", err)
		}
		if !img.Selectable() {
			return ConflictError("custom image is not ready for use", string(img.Status))
		}
	}

	now := time.Now().UTC()
	cycle := models.BillingCycle(req.BillingCycle)
	sub := &models.Subscription{
		ID:              uuid.NewString(),
		CustomerID:      req.CustomerID,
		PlanID:          plan.ID,
		Status:          models.SubscriptionPending,
		Hostname:        req.Hostname,
		CustomImageID:   req.CustomImageID,
		BillingCycle:    cycle,
		StartDate:       now,
		CycleStart:      now,
		NextBillingDate: billing.NextBillingDate(now, cycle),
		Trial:           req.Trial,
		AutoRenew:       true,
	}
	if req.AutoRenew != nil {
		sub.AutoRenew = *req.AutoRenew
	}

	// The first cycle plus the setup fee is invoiced up front. Trials
	// are invoiced at their first renewal instead.
	if !sub.Trial {
		initial := billing.CyclePrice(plan, cycle).Add(plan.SetupFee)
		if err := sub.AddInvoiced(initial); err != nil {
			return InternalError("failed to invoice subscription", err.Error())
		}
	}

	if err := s.deps.Store.CreateSubscription(sub); err != nil {
		return InternalError("failed to create subscription", err.Error())
	}

	if err := s.enqueueProvision(sub.ID); err != nil {
		return err
	}

	sub.Plan = plan
	return c.JSON(http.StatusAccepted, sub)
}

// provisionSubscription handles POST /api/v1/subscriptions/:id/provision.
// It re-enqueues provisioning, used to retry after an ERROR state was
// resolved by an operator.
func (s *Server) provisionSubscription(c echo.Context) error {
	sub, err := s.deps.Store.GetSubscription(c.Param("id"))
	if err != nil {
		return domainError("subscription", err)
	}
	if err := s.enqueueProvision(sub.ID); err != nil {
		return err
	}
	return accepted(c)
}

func (s *Server) enqueueProvision(subscriptionID string) error {
	err := s.deps.Tasks.Submit(worker.Task{
		Name: "provision",
		Key:  subscriptionID,
		Run: func(ctx context.Context) error {
			_, err := s.deps.Lifecycle.Provision(ctx, subscriptionID)
			return err
		},
	})
	if err != nil {
		return NewAPIError(http.StatusServiceUnavailable, "provisioning queue is full", err.Error())
	}
	return nil
}

// cancelSubscription handles POST /api/v1/subscriptions/:id/cancel
func (s *Server) cancelSubscription(c echo.Context) error {
	if err := s.deps.Lifecycle.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("subscription", err)
	}
	return okStatus(c)
}

// suspendSubscription handles POST /api/v1/subscriptions/:id/suspend
func (s *Server) suspendSubscription(c echo.Context) error {
	if err := s.deps.Lifecycle.Suspend(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("subscription", err)
	}
	return okStatus(c)
}

// resumeSubscription handles POST /api/v1/subscriptions/:id/resume
func (s *Server) resumeSubscription(c echo.Context) error {
	if err := s.deps.Lifecycle.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("subscription", err)
	}
	return okStatus(c)
}

// terminateSubscription handles POST /api/v1/subscriptions/:id/terminate
func (s *Server) terminateSubscription(c echo.Context) error {
	if err := s.deps.Lifecycle.Terminate(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("subscription", err)
	}
	return okStatus(c)
}

// previewPlanChange handles POST /api/v1/subscriptions/:id/plan-change/preview.
// It quotes the pro-rated amount without touching the subscription.
func (s *Server) previewPlanChange(c echo.Context) error {
	_, sub, target, apiErr := s.loadPlanChange(c)
	if apiErr != nil {
		return apiErr
	}

	amount, err := billing.ProratedAmount(sub, sub.Plan, target, time.Now().UTC())
	if err != nil {
		return BadRequestError("cannot compute pro-rated amount", err.Error())
	}

	return c.JSON(http.StatusOK, PlanChangePreviewResponse{
		SubscriptionID: sub.ID,
		CurrentPlanID:  sub.PlanID,
		TargetPlanID:   target.ID,
		Amount:         amount.StringFixed(2),
	})
}

// changePlan handles POST /api/v1/subscriptions/:id/plan-change. Upgrades
// take effect immediately and invoice the pro-rated difference; downgrades
// are rejected mid-cycle unless an admin sets allow_downgrade, in which
// case the unused remainder is credited against future renewals.
func (s *Server) changePlan(c echo.Context) error {
	req, sub, target, apiErr := s.loadPlanChange(c)
	if apiErr != nil {
		return apiErr
	}
	if sub.Status != models.SubscriptionActive {
		return ConflictError("plan changes require an active subscription", string(sub.Status))
	}

	allowDowngrade := req.AllowDowngrade && s.adminCaller(c)
	if err := billing.ValidateUpgradePath(sub.Plan, target, allowDowngrade); err != nil {
		return BadRequestError("plan change not allowed", err.Error())
	}

	amount, err := billing.ProratedAmount(sub, sub.Plan, target, time.Now().UTC())
	if err != nil {
		return BadRequestError("cannot compute pro-rated amount", err.Error())
	}
	switch {
	case amount.IsPositive():
		if err := sub.AddInvoiced(amount); err != nil {
			return InternalError("failed to invoice plan change", err.Error())
		}
	case amount.IsNegative():
		if err := sub.AddCredit(amount.Neg()); err != nil {
			return InternalError("failed to credit plan change", err.Error())
		}
		s.logger.Info("plan downgrade credited",
			"subscription_id", sub.ID, "credit", amount.Neg().StringFixed(2))
	}

	sub.PlanID = target.ID
	sub.Plan = target
	if err := s.deps.Store.UpdateSubscription(sub); err != nil {
		return InternalError("failed to update subscription", err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (s *Server) loadPlanChange(c echo.Context) (PlanChangeRequest, *models.Subscription, *models.Plan, *APIError) {
	var req PlanChangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return req, nil, nil, apiErr
		}
		return req, nil, nil, BadRequestError("invalid request", err.Error())
	}

	sub, err := s.deps.Store.GetSubscription(c.Param("id"))
	if err != nil {
		return req, nil, nil, domainError("subscription", err)
	}
	if sub.Plan == nil {
		return req, nil, nil, InternalError("subscription has no plan loaded", sub.ID)
	}

	target, err := s.deps.Store.GetPlan(req.PlanID)
	if err != nil {
		return req, nil, nil, domainError("plan", err)
	}
	if !target.Active {
		return req, nil, nil, BadRequestError("target plan is not available", target.Name)
	}

	return req, sub, target, nil
}

// adminCaller reports whether the request carries the admin role. With
// authentication disabled every caller is an admin.
func (s *Server) adminCaller(c echo.Context) bool {
	if !s.config.Security.AuthEnabled {
		return true
	}
	return auth.HasRole(c, auth.RoleAdmin)
}
