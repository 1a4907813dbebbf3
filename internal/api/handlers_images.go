package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/internal/auth"
	"github.com/stackhost-io/stackhost/internal/imagebuild"
)

// maxUploadSize bounds custom image build context uploads.
const maxUploadSize = 512 << 20 // 512 MiB

// listImages handles GET /api/v1/images
func (s *Server) listImages(c echo.Context) error {
	limit, offset := parsePagination(c)

	images, err := s.deps.Store.ListImages(c.QueryParam("customer_id"))
	if err != nil {
		return InternalError("failed to list images", err.Error())
	}
	return c.JSON(http.StatusOK, paginate(images, limit, offset))
}

// getImage handles GET /api/v1/images/:id
func (s *Server) getImage(c echo.Context) error {
	img, err := s.deps.Store.GetImage(c.Param("id"))
	if err != nil {
		return domainError("image", err)
	}
	return c.JSON(http.StatusOK, img)
}

// getImageBuildLogs handles GET /api/v1/images/:id/logs
func (s *Server) getImageBuildLogs(c echo.Context) error {
	img, err := s.deps.Store.GetImage(c.Param("id"))
	if err != nil {
		return domainError("image", err)
	}
	logs, err := s.deps.Store.ListBuildLogs(img.ID)
	if err != nil {
		return InternalError("failed to list build logs", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"image_id": img.ID,
		"logs":     logs,
	})
}

// uploadImage handles POST /api/v1/images. The build context arrives as a
// multipart upload: an "archive" file (gzipped tar) plus name, tag,
// customer_id and optional build_args form fields (build_args is a JSON
// object of string to string).
func (s *Server) uploadImage(c echo.Context) error {
	name := c.FormValue("name")
	tag := c.FormValue("tag")
	customerID := c.FormValue("customer_id")
	if name == "" || tag == "" || customerID == "" {
		return BadRequestError("name, tag and customer_id are required", "")
	}

	var buildArgs map[string]string
	if raw := c.FormValue("build_args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &buildArgs); err != nil {
			return BadRequestError("build_args must be a JSON object of strings", err.Error())
		}
	}

	fileHeader, err := c.FormFile("archive")
	if err != nil {
		return BadRequestError("archive file is required", err.Error())
	}
	if fileHeader.Size > maxUploadSize {
		return NewAPIError(http.StatusRequestEntityTooLarge, "archive too large", "")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return InternalError("failed to read upload", err.Error())
	}
	defer file.Close()

	img, err := s.deps.Images.Submit(c.Request().Context(), imagebuild.SubmitRequest{
		CustomerID: customerID,
		Name:       name,
		Tag:        tag,
		BuildArgs:  buildArgs,
	}, file, fileHeader.Size)
	if err != nil {
		return InternalError("failed to submit image", err.Error())
	}
	return c.JSON(http.StatusAccepted, img)
}

// rebuildImage handles POST /api/v1/images/:id/rebuild
func (s *Server) rebuildImage(c echo.Context) error {
	img, err := s.deps.Images.Rebuild(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError("image", err)
	}
	return c.JSON(http.StatusAccepted, img)
}

// approveImage handles POST /api/v1/images/:id/approve
func (s *Server) approveImage(c echo.Context) error {
	img, err := s.deps.Images.Approve(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		if errors.Is(err, imagebuild.ErrNotApprovable) {
			return ConflictError("image cannot be approved", err.Error())
		}
		return domainError("image", err)
	}
	return c.JSON(http.StatusOK, img)
}

// rejectImage handles POST /api/v1/images/:id/reject
func (s *Server) rejectImage(c echo.Context) error {
	img, err := s.deps.Images.Reject(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		if errors.Is(err, imagebuild.ErrNotRejectable) {
			return ConflictError("image cannot be rejected", err.Error())
		}
		return domainError("image", err)
	}
	return c.JSON(http.StatusOK, img)
}

// deleteImage handles DELETE /api/v1/images/:id
func (s *Server) deleteImage(c echo.Context) error {
	if err := s.deps.Images.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return domainError("image", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// callerID returns the authenticated caller's user ID, or "system" when
// auth is disabled.
func callerID(c echo.Context) string {
	if claims, ok := auth.GetClaims(c); ok {
		return claims.UserID
	}
	return "system"
}
