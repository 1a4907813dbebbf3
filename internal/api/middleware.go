package api

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// ValidateContentType ensures that requests with a body carry JSON.
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method
		if method == "POST" || method == "PUT" || method == "PATCH" {
			if c.Request().ContentLength == 0 {
				return next(c)
			}
			contentType := c.Request().Header.Get("Content-Type")
			// Image uploads come in as multipart form data.
			if strings.HasPrefix(contentType, "multipart/form-data") {
				return next(c)
			}
			if !strings.HasPrefix(contentType, "application/json") {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json'. Got: "+contentType,
				)
			}
		}
		return next(c)
	}
}

// ValidateAcceptHeader ensures clients can accept JSON responses.
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")
		if accept == "" {
			return next(c)
		}
		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}
		return next(c)
	}
}

// ValidateIDFormat validates that resource IDs follow expected patterns.
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return next(c)
		}
		if strings.Contains(id, " ") {
			return BadRequestError("Invalid ID format", "ID cannot contain spaces")
		}
		if len(id) < 3 {
			return BadRequestError("Invalid ID format", "ID must be at least 3 characters long")
		}
		if len(id) > 256 {
			return BadRequestError("Invalid ID format", "ID must not exceed 256 characters")
		}
		return next(c)
	}
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return next(c)
	}
}
