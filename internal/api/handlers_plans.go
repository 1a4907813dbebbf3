package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/stackhost-io/stackhost/models"
)

// listPlans handles GET /api/v1/plans
func (s *Server) listPlans(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	limit, offset := parsePagination(c)

	plans, err := s.deps.Store.ListPlans(activeOnly)
	if err != nil {
		return InternalError("failed to list plans", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(plans, limit, offset))
}

// getPlan handles GET /api/v1/plans/:id
func (s *Server) getPlan(c echo.Context) error {
	plan, err := s.deps.Store.GetPlan(c.Param("id"))
	if err != nil {
		return domainError("plan", err)
	}
	return c.JSON(http.StatusOK, plan)
}

// createPlan handles POST /api/v1/plans
func (s *Server) createPlan(c echo.Context) error {
	var req CreatePlanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	price, err := decimal.NewFromString(req.MonthlyPrice)
	if err != nil || price.IsNegative() {
		return BadRequestError("invalid monthly_price", req.MonthlyPrice)
	}
	setupFee := decimal.Zero
	if req.SetupFee != "" {
		setupFee, err = decimal.NewFromString(req.SetupFee)
		if err != nil || setupFee.IsNegative() {
			return BadRequestError("invalid setup_fee", req.SetupFee)
		}
	}

	plan := &models.Plan{
		ID:           uuid.NewString(),
		Name:         req.Name,
		CPUCores:     req.CPUCores,
		MemoryMB:     req.MemoryMB,
		StorageGB:    req.StorageGB,
		BandwidthGB:  req.BandwidthGB,
		MonthlyPrice: price,
		SetupFee:     setupFee,
		BaseImage:    req.BaseImage,
		Active:       true,
	}
	if req.Active != nil {
		plan.Active = *req.Active
	}

	if err := s.deps.Store.CreatePlan(plan); err != nil {
		return InternalError("failed to create plan", err.Error())
	}
	return c.JSON(http.StatusCreated, plan)
}

// updatePlan handles PUT /api/v1/plans/:id. Resource dimensions are
// immutable once a plan exists; only pricing, base image and activation
// can change.
func (s *Server) updatePlan(c echo.Context) error {
	plan, err := s.deps.Store.GetPlan(c.Param("id"))
	if err != nil {
		return domainError("plan", err)
	}

	var req UpdatePlanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if req.MonthlyPrice != nil {
		price, err := decimal.NewFromString(*req.MonthlyPrice)
		if err != nil || price.IsNegative() {
			return BadRequestError("invalid monthly_price", *req.MonthlyPrice)
		}
		plan.MonthlyPrice = price
	}
	if req.SetupFee != nil {
		fee, err := decimal.NewFromString(*req.SetupFee)
		if err != nil || fee.IsNegative() {
			return BadRequestError("invalid setup_fee", *req.SetupFee)
		}
		plan.SetupFee = fee
	}
	if req.BaseImage != nil {
		if *req.BaseImage == "" {
			return BadRequestError("base_image cannot be empty", "")
		}
		plan.BaseImage = *req.BaseImage
	}
	if req.Active != nil {
		plan.Active = *req.Active
	}

	if err := s.deps.Store.UpdatePlan(plan); err != nil {
		return InternalError("failed to update plan", err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}
