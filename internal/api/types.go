package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// requestValidator adapts validator/v10 to Echo's Validator interface.
type requestValidator struct {
	validate *validator.Validate
}

// Validate implements echo.Validator and turns field failures into a
// structured 400.
func (v *requestValidator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return ValidationError(fields)
	}
	return BadRequestError("validation failed", err.Error())
}

// bindAndValidate binds the request body and runs struct validation.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return BadRequestError("invalid request body", err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}

// CreatePlanRequest creates a pricing plan. Money fields travel as strings
// to keep decimal precision.
type CreatePlanRequest struct {
	Name         string  `json:"name" validate:"required,max=100"`
	CPUCores     float64 `json:"cpu_cores" validate:"gt=0"`
	MemoryMB     int64   `json:"memory_mb" validate:"gt=0"`
	StorageGB    int64   `json:"storage_gb" validate:"gt=0"`
	BandwidthGB  int64   `json:"bandwidth_gb" validate:"gte=0"`
	MonthlyPrice string  `json:"monthly_price" validate:"required"`
	SetupFee     string  `json:"setup_fee"`
	BaseImage    string  `json:"base_image" validate:"required"`
	Active       *bool   `json:"active"`
}

// UpdatePlanRequest updates mutable plan fields. Nil fields are left alone.
type UpdatePlanRequest struct {
	MonthlyPrice *string `json:"monthly_price"`
	SetupFee     *string `json:"setup_fee"`
	BaseImage    *string `json:"base_image"`
	Active       *bool   `json:"active"`
}

// CreateSubscriptionRequest opens a subscription and triggers provisioning.
type CreateSubscriptionRequest struct {
	CustomerID    string  `json:"customer_id" validate:"required,max=36"`
	PlanID        string  `json:"plan_id" validate:"required,max=36"`
	Hostname      string  `json:"hostname" validate:"required,hostname"`
	BillingCycle  string  `json:"billing_cycle" validate:"required,oneof=MONTHLY QUARTERLY ANNUALLY"`
	CustomImageID *string `json:"custom_image_id"`
	AutoRenew     *bool   `json:"auto_renew"`
	Trial         bool    `json:"trial"`
}

// PlanChangeRequest names the target plan of a plan change. AllowDowngrade
// lets an admin apply a cheaper plan mid-cycle; the unused remainder of the
// current cycle becomes a credit on the subscription.
type PlanChangeRequest struct {
	PlanID         string `json:"plan_id" validate:"required,max=36"`
	AllowDowngrade bool   `json:"allow_downgrade"`
}

// PlanChangePreviewResponse is the pro-rated quote for a plan change.
type PlanChangePreviewResponse struct {
	SubscriptionID string `json:"subscription_id"`
	CurrentPlanID  string `json:"current_plan_id"`
	TargetPlanID   string `json:"target_plan_id"`
	// Amount is positive for an upgrade charge, negative for a
	// downgrade credit.
	Amount string `json:"amount"`
}

// CreateZoneRequest creates a standalone DNS zone. SOA fields fall back to
// the configured defaults when omitted.
type CreateZoneRequest struct {
	ZoneName    string   `json:"zone_name" validate:"required,fqdn"`
	PrimaryNS   string   `json:"primary_ns" validate:"omitempty,fqdn"`
	AdminEmail  string   `json:"admin_email" validate:"omitempty,email"`
	Nameservers []string `json:"nameservers" validate:"omitempty,dive,fqdn"`
	DefaultTTL  int      `json:"default_ttl" validate:"omitempty,gte=60"`
}

// CreateRecordRequest adds a record to a zone.
type CreateRecordRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Type     string `json:"type" validate:"required"`
	Value    string `json:"value" validate:"required,max=4000"`
	TTL      int    `json:"ttl" validate:"omitempty,gte=0"`
	Priority int    `json:"priority" validate:"omitempty,gte=0"`
	Weight   int    `json:"weight" validate:"omitempty,gte=0"`
	Port     int    `json:"port" validate:"omitempty,gte=0,lte=65535"`
}

// CreateBackupRequest selects the retention bucket of an on-demand backup.
type CreateBackupRequest struct {
	Type string `json:"type" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY MANUAL"`
}

// statusResponse is the generic acknowledgement body for action endpoints.
type statusResponse struct {
	Status string `json:"status"`
}

func accepted(c echo.Context) error {
	return c.JSON(http.StatusAccepted, statusResponse{Status: "accepted"})
}

func okStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}
