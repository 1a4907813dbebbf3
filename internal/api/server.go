// Package api serves the REST control plane: plans, subscriptions,
// containers, custom images, DNS zones and backups, plus a websocket
// stream of operator events. Echo handles routing; domain operations are
// consumed through narrow interfaces so the server stays testable.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/stackhost-io/stackhost/internal/auth"
	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/imagebuild"
	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/internal/version"
	"github.com/stackhost-io/stackhost/internal/worker"
	"github.com/stackhost-io/stackhost/models"
)

// Lifecycle drives subscription and container state changes.
type Lifecycle interface {
	Provision(ctx context.Context, subscriptionID string) (*models.Container, error)
	Suspend(ctx context.Context, subscriptionID string) error
	Resume(ctx context.Context, subscriptionID string) error
	Cancel(ctx context.Context, subscriptionID string) error
	Terminate(ctx context.Context, subscriptionID string) error
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Reboot(ctx context.Context, containerID string) error
}

// ImageService manages custom image submissions and approvals.
type ImageService interface {
	Submit(ctx context.Context, req imagebuild.SubmitRequest, archive io.Reader, size int64) (*models.CustomImage, error)
	Rebuild(ctx context.Context, imageID string) (*models.CustomImage, error)
	Approve(ctx context.Context, imageID, adminID string) (*models.CustomImage, error)
	Reject(ctx context.Context, imageID, adminID string) (*models.CustomImage, error)
	Delete(ctx context.Context, imageID string) error
}

// BackupService runs, restores and deletes volume backups.
type BackupService interface {
	BackupContainer(ctx context.Context, containerID string, backupType models.BackupType) (*models.Backup, error)
	RestoreContainer(ctx context.Context, containerID, backupID string) error
	DeleteBackup(ctx context.Context, backupID string) error
}

// ZoneService pushes zone state to the DNS server.
type ZoneService interface {
	SyncZone(ctx context.Context, zoneID string) error
	RegenerateAll(ctx context.Context) error
}

// TaskSubmitter enqueues background tasks.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

// Pinger reports reachability of an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports health of the DNS control plane.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Deps are the collaborators the API server drives.
type Deps struct {
	Store     *store.Store
	Lifecycle Lifecycle
	Images    ImageService
	Backups   BackupService
	Zones     ZoneService
	Tasks     TaskSubmitter
	Runtime   Pinger
	DNS       HealthChecker
	// Hub is the websocket hub events are fanned out to. When nil the
	// server creates and runs its own.
	Hub *Hub
}

// Server is the StackHost API server.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	deps       Deps
	hub        *Hub
	authMiddle *auth.Middleware
	logger     *slog.Logger
}

// New creates the API server and registers all routes.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = &requestValidator{validate: validator.New()}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
		go hub.Run()
	}

	server := &Server{
		echo:       e,
		config:     cfg,
		deps:       deps,
		hub:        hub,
		authMiddle: auth.NewMiddleware(cfg.Security.JWTSecret, cfg.Security.AuthEnabled),
		logger:     logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Hub exposes the websocket hub so server wiring can chain it into the
// notifier fan-out.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	v1 := s.echo.Group("/api/v1")

	plans := v1.Group("/plans")
	plans.GET("", s.listPlans, s.authMiddle.RequireRead)
	plans.GET("/:id", s.getPlan, ValidateIDFormat, s.authMiddle.RequireRead)
	plans.POST("", s.createPlan, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	plans.PUT("/:id", s.updatePlan, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)

	subs := v1.Group("/subscriptions")
	subs.GET("", s.listSubscriptions, s.authMiddle.RequireRead)
	subs.GET("/:id", s.getSubscription, ValidateIDFormat, s.authMiddle.RequireRead)
	subs.POST("", s.createSubscription, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	subs.POST("/:id/provision", s.provisionSubscription, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	subs.POST("/:id/cancel", s.cancelSubscription, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	subs.POST("/:id/suspend", s.suspendSubscription, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	subs.POST("/:id/resume", s.resumeSubscription, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	subs.POST("/:id/terminate", s.terminateSubscription, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	subs.POST("/:id/plan-change/preview", s.previewPlanChange, ValidateIDFormat, s.authMiddle.RequireRead)
	subs.POST("/:id/plan-change", s.changePlan, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)

	containers := v1.Group("/containers")
	containers.GET("", s.listContainers, s.authMiddle.RequireRead)
	containers.GET("/:id", s.getContainer, ValidateIDFormat, s.authMiddle.RequireRead)
	containers.GET("/:id/metrics", s.getContainerMetrics, ValidateIDFormat, s.authMiddle.RequireRead)
	containers.POST("/:id/start", s.startContainer, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	containers.POST("/:id/stop", s.stopContainer, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	containers.POST("/:id/reboot", s.rebootContainer, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	containers.GET("/:id/backups", s.listContainerBackups, ValidateIDFormat, s.authMiddle.RequireRead)
	containers.POST("/:id/backups", s.createBackup, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)

	images := v1.Group("/images")
	images.GET("", s.listImages, s.authMiddle.RequireRead)
	images.GET("/:id", s.getImage, ValidateIDFormat, s.authMiddle.RequireRead)
	images.GET("/:id/logs", s.getImageBuildLogs, ValidateIDFormat, s.authMiddle.RequireRead)
	images.POST("", s.uploadImage, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	images.POST("/:id/rebuild", s.rebuildImage, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	images.POST("/:id/approve", s.approveImage, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	images.POST("/:id/reject", s.rejectImage, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	images.DELETE("/:id", s.deleteImage, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)

	zones := v1.Group("/zones")
	zones.GET("", s.listZones, s.authMiddle.RequireRead)
	zones.GET("/:id", s.getZone, ValidateIDFormat, s.authMiddle.RequireRead)
	zones.POST("", s.createZone, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	zones.POST("/sync", s.resyncAllZones, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)
	zones.POST("/:id/sync", s.syncZone, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	zones.GET("/:id/records", s.listZoneRecords, ValidateIDFormat, s.authMiddle.RequireRead)
	zones.POST("/:id/records", s.createZoneRecord, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	zones.DELETE("/:id/records/:recordId", s.deleteZoneRecord, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	zones.GET("/:id/synclogs", s.listZoneSyncLogs, ValidateIDFormat, s.authMiddle.RequireRead)

	backups := v1.Group("/backups")
	backups.GET("", s.listBackups, s.authMiddle.RequireRead)
	backups.GET("/:id", s.getBackup, ValidateIDFormat, s.authMiddle.RequireRead)
	backups.POST("/:id/restore", s.restoreBackup, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)
	backups.DELETE("/:id", s.deleteBackup, ValidateIDFormat, s.authMiddle.RequireAuth, s.authMiddle.RequireAdmin)

	ws := v1.Group("/ws")
	ws.GET("/events", s.handleEvents, s.authMiddle.RequireRead)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	s.logger.Info("api server starting", "addr", addr, "version", version.Version)
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// componentHealth is one dependency's health entry.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthCheck reports reachability of the database, the container runtime
// and the DNS control plane. The database being down makes the service
// unhealthy; the rest degrade it.
func (s *Server) healthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	overall := "healthy"

	components := map[string]componentHealth{}

	if err := s.deps.Store.Ping(); err != nil {
		components["database"] = componentHealth{Status: "down", Error: err.Error()}
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		components["database"] = componentHealth{Status: "up"}
	}

	if s.deps.Runtime != nil {
		if err := s.deps.Runtime.Ping(ctx); err != nil {
			components["runtime"] = componentHealth{Status: "down", Error: err.Error()}
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			components["runtime"] = componentHealth{Status: "up"}
		}
	}

	if s.deps.DNS != nil {
		if err := s.deps.DNS.Healthy(ctx); err != nil {
			components["dns"] = componentHealth{Status: "down", Error: err.Error()}
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			components["dns"] = componentHealth{Status: "up"}
		}
	}

	return c.JSON(status, map[string]interface{}{
		"status":     overall,
		"service":    "stackhost",
		"version":    version.Version,
		"components": components,
	})
}

// ServeHTTP lets Server act as an http.Handler in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
