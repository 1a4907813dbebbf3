package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/models"
)

// listContainers handles GET /api/v1/containers
func (s *Server) listContainers(c echo.Context) error {
	var status models.ContainerStatus
	if raw := c.QueryParam("status"); raw != "" {
		status = models.ContainerStatus(raw)
		if !validContainerStatus(status) {
			return BadRequestError("invalid status parameter", raw)
		}
	}
	limit, offset := parsePagination(c)

	containers, err := s.deps.Store.ListContainers(status)
	if err != nil {
		return InternalError("failed to list containers", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(containers, limit, offset))
}

func validContainerStatus(status models.ContainerStatus) bool {
	switch status {
	case models.ContainerCreating, models.ContainerRunning, models.ContainerStopped,
		models.ContainerRebooting, models.ContainerError, models.ContainerTerminated:
		return true
	}
	return false
}

// getContainer handles GET /api/v1/containers/:id
func (s *Server) getContainer(c echo.Context) error {
	container, err := s.deps.Store.GetContainer(c.Param("id"))
	if err != nil {
		return domainError("container", err)
	}
	return c.JSON(http.StatusOK, container)
}

// getContainerMetrics handles GET /api/v1/containers/:id/metrics. The
// since parameter is RFC 3339 and defaults to one hour ago.
func (s *Server) getContainerMetrics(c echo.Context) error {
	container, err := s.deps.Store.GetContainer(c.Param("id"))
	if err != nil {
		return domainError("container", err)
	}

	since := time.Now().UTC().Add(-time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return BadRequestError("invalid since parameter, want RFC 3339", raw)
		}
		since = parsed
	}

	metrics, err := s.deps.Store.ListMetrics(container.ID, since)
	if err != nil {
		return InternalError("failed to list metrics", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"container_id": container.ID,
		"since":        since,
		"metrics":      metrics,
	})
}

// startContainer handles POST /api/v1/containers/:id/start
func (s *Server) startContainer(c echo.Context) error {
	if err := s.deps.Lifecycle.Start(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("container", err)
	}
	return okStatus(c)
}

// stopContainer handles POST /api/v1/containers/:id/stop
func (s *Server) stopContainer(c echo.Context) error {
	if err := s.deps.Lifecycle.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("container", err)
	}
	return okStatus(c)
}

// rebootContainer handles POST /api/v1/containers/:id/reboot
func (s *Server) rebootContainer(c echo.Context) error {
	if err := s.deps.Lifecycle.Reboot(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("container", err)
	}
	return okStatus(c)
}
