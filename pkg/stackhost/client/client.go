// Package client is a typed HTTP client for the StackHost API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stackhost-io/stackhost/models"
)

// Client talks to a StackHost server. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given base URL, e.g. "http://localhost:8095".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}

// APIError is an error response from the server.
type APIError struct {
	Code        int               `json:"code"`
	Message     string            `json:"message"`
	Details     string            `json:"details,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Message, e.Details, e.Code)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Code: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var out T
	err := c.do(ctx, http.MethodGet, path, query, nil, &out)
	return out, err
}

func post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.do(ctx, http.MethodPost, path, nil, body, &out)
	return out, err
}

// Health reports the server health payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return get[map[string]any](ctx, c, "/health", nil)
}

// ListPlans lists plans. When activeOnly is set only active plans return.
func (c *Client) ListPlans(ctx context.Context, activeOnly bool) (Page[models.Plan], error) {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	return get[Page[models.Plan]](ctx, c, "/api/v1/plans", q)
}

// GetPlan fetches one plan.
func (c *Client) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	p, err := get[models.Plan](ctx, c, "/api/v1/plans/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateSubscriptionRequest is the payload for CreateSubscription.
type CreateSubscriptionRequest struct {
	CustomerID    string  `json:"customer_id"`
	PlanID        string  `json:"plan_id"`
	Hostname      string  `json:"hostname"`
	BillingCycle  string  `json:"billing_cycle"`
	CustomImageID *string `json:"custom_image_id,omitempty"`
	AutoRenew     *bool   `json:"auto_renew,omitempty"`
	Trial         bool    `json:"trial,omitempty"`
}

// CreateSubscription creates a subscription. Provisioning runs in the
// background; poll GetSubscription until it leaves PENDING.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*models.Subscription, error) {
	s, err := post[models.Subscription](ctx, c, "/api/v1/subscriptions", req)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSubscription fetches one subscription with its plan preloaded.
func (c *Client) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	s, err := get[models.Subscription](ctx, c, "/api/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubscriptions lists subscriptions, optionally filtered by status.
func (c *Client) ListSubscriptions(ctx context.Context, status string) (Page[models.Subscription], error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	return get[Page[models.Subscription]](ctx, c, "/api/v1/subscriptions", q)
}

// CancelSubscription schedules the subscription for cancellation.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/subscriptions/"+url.PathEscape(id)+"/cancel", nil, nil, nil)
}

// PlanChangePreview is the pro-rated cost of changing to a target plan.
type PlanChangePreview struct {
	SubscriptionID string `json:"subscription_id"`
	CurrentPlanID  string `json:"current_plan_id"`
	TargetPlanID   string `json:"target_plan_id"`
	Amount         string `json:"amount"`
}

// PreviewPlanChange computes the pro-rated charge without applying it.
func (c *Client) PreviewPlanChange(ctx context.Context, subscriptionID, planID string) (*PlanChangePreview, error) {
	body := map[string]string{"plan_id": planID}
	p, err := post[PlanChangePreview](ctx, c, "/api/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/plan-change/preview", body)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PlanChangeRequest is the payload for ChangePlan. AllowDowngrade is honored
// for admin tokens only; the unused cycle remainder becomes a credit.
type PlanChangeRequest struct {
	PlanID         string `json:"plan_id"`
	AllowDowngrade bool   `json:"allow_downgrade,omitempty"`
}

// ChangePlan applies a change to the target plan, invoicing the pro-rated
// difference or crediting an allowed downgrade.
func (c *Client) ChangePlan(ctx context.Context, subscriptionID string, req PlanChangeRequest) (*models.Subscription, error) {
	s, err := post[models.Subscription](ctx, c, "/api/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/plan-change", req)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListContainers lists containers, optionally filtered by status.
func (c *Client) ListContainers(ctx context.Context, status string) (Page[models.Container], error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	return get[Page[models.Container]](ctx, c, "/api/v1/containers", q)
}

// GetContainer fetches one container.
func (c *Client) GetContainer(ctx context.Context, id string) (*models.Container, error) {
	ct, err := get[models.Container](ctx, c, "/api/v1/containers/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

// StartContainer starts a stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/containers/"+url.PathEscape(id)+"/start", nil, nil, nil)
}

// StopContainer stops a running container.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/containers/"+url.PathEscape(id)+"/stop", nil, nil, nil)
}

// RebootContainer restarts a running container.
func (c *Client) RebootContainer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/containers/"+url.PathEscape(id)+"/reboot", nil, nil, nil)
}

// CreateBackup takes an on-demand backup of a container's data volume.
func (c *Client) CreateBackup(ctx context.Context, containerID string) (*models.Backup, error) {
	b, err := post[models.Backup](ctx, c, "/api/v1/containers/"+url.PathEscape(containerID)+"/backups", nil)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// RestoreBackup restores a backup onto its source container.
func (c *Client) RestoreBackup(ctx context.Context, backupID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/backups/"+url.PathEscape(backupID)+"/restore", nil, nil, nil)
}

// ListZones lists DNS zones.
func (c *Client) ListZones(ctx context.Context) (Page[models.DNSZone], error) {
	return get[Page[models.DNSZone]](ctx, c, "/api/v1/zones", nil)
}

// ListZoneRecords lists the records of a zone.
func (c *Client) ListZoneRecords(ctx context.Context, zoneID string) (Page[models.DNSRecord], error) {
	return get[Page[models.DNSRecord]](ctx, c, "/api/v1/zones/"+url.PathEscape(zoneID)+"/records", nil)
}

// CreateRecordRequest is the payload for CreateZoneRecord.
type CreateRecordRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Weight   int    `json:"weight,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// CreateZoneRecord adds a record to a zone and syncs the zone file.
func (c *Client) CreateZoneRecord(ctx context.Context, zoneID string, req CreateRecordRequest) (*models.DNSRecord, error) {
	r, err := post[models.DNSRecord](ctx, c, "/api/v1/zones/"+url.PathEscape(zoneID)+"/records", req)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
