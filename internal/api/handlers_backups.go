package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/internal/backup"
	"github.com/stackhost-io/stackhost/models"
)

// listBackups handles GET /api/v1/backups
func (s *Server) listBackups(c echo.Context) error {
	var backupType models.BackupType
	if raw := c.QueryParam("type"); raw != "" {
		backupType = models.BackupType(raw)
		if !validBackupType(backupType) {
			return BadRequestError("invalid type parameter", raw)
		}
	}
	limit, offset := parsePagination(c)

	backups, err := s.deps.Store.ListBackups(c.QueryParam("container_id"), backupType)
	if err != nil {
		return InternalError("failed to list backups", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(backups, limit, offset))
}

func validBackupType(t models.BackupType) bool {
	switch t {
	case models.BackupDaily, models.BackupWeekly, models.BackupMonthly,
		models.BackupPreRestore, models.BackupManual:
		return true
	}
	return false
}

// getBackup handles GET /api/v1/backups/:id
func (s *Server) getBackup(c echo.Context) error {
	b, err := s.deps.Store.GetBackup(c.Param("id"))
	if err != nil {
		return domainError("backup", err)
	}
	return c.JSON(http.StatusOK, b)
}

// listContainerBackups handles GET /api/v1/containers/:id/backups
func (s *Server) listContainerBackups(c echo.Context) error {
	container, err := s.deps.Store.GetContainer(c.Param("id"))
	if err != nil {
		return domainError("container", err)
	}
	backups, err := s.deps.Store.ListBackups(container.ID, "")
	if err != nil {
		return InternalError("failed to list backups", err.Error())
	}
	return c.JSON(http.StatusOK, backups)
}

// createBackup handles POST /api/v1/containers/:id/backups. On-demand
// backups default to the MANUAL bucket, which retention never expires.
func (s *Server) createBackup(c echo.Context) error {
	var req CreateBackupRequest
	if c.Request().ContentLength > 0 {
		if err := bindAndValidate(c, &req); err != nil {
			return err
		}
	}
	backupType := models.BackupManual
	if req.Type != "" {
		backupType = models.BackupType(req.Type)
	}

	b, err := s.deps.Backups.BackupContainer(c.Request().Context(), c.Param("id"), backupType)
	if err != nil {
		return domainError("container", err)
	}
	return c.JSON(http.StatusCreated, b)
}

// restoreBackup handles POST /api/v1/backups/:id/restore. The backup is
// restored onto the container it was taken from; a pre-restore safety
// backup is taken first.
func (s *Server) restoreBackup(c echo.Context) error {
	b, err := s.deps.Store.GetBackup(c.Param("id"))
	if err != nil {
		return domainError("backup", err)
	}

	if err := s.deps.Backups.RestoreContainer(c.Request().Context(), b.ContainerID, b.ID); err != nil {
		if errors.Is(err, backup.ErrBackupMismatch) {
			return ConflictError("backup does not belong to this container", err.Error())
		}
		return domainError("backup", err)
	}
	return okStatus(c)
}

// deleteBackup handles DELETE /api/v1/backups/:id
func (s *Server) deleteBackup(c echo.Context) error {
	if err := s.deps.Backups.DeleteBackup(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("backup", err)
	}
	return c.NoContent(http.StatusNoContent)
}
