package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stackhost-io/stackhost/internal/store"
	"github.com/stackhost-io/stackhost/models"
)

// APIError is a structured API error with an HTTP status code.
type APIError struct {
	Code       int               `json:"code"`
	Message    string            `json:"message"`
	Details    string            `json:"details,omitempty"`
	FieldError map[string]string `json:"field_errors,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message, details string) *APIError {
	return &APIError{Code: code, Message: message, Details: details}
}

func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return NewAPIError(http.StatusNotFound, fmt.Sprintf("%s not found", resource), id)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

// ValidationError wraps per-field validation failures.
func ValidationError(fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    "validation failed",
		FieldError: fieldErrors,
	}
}

// domainError maps domain sentinel errors onto API errors. Invalid state
// transitions are conflicts, missing rows are 404s.
func domainError(resource string, err error) *APIError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError(resource, "")
	case errors.Is(err, models.ErrInvalidTransition):
		return ConflictError("operation not allowed in current state", err.Error())
	default:
		return InternalError("operation failed", err.Error())
	}
}

// HTTPErrorHandler is the custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	code := http.StatusInternalServerError

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		apiErr = &APIError{
			Code:    code,
			Message: http.StatusText(code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else if ae, ok := err.(*APIError); ok {
		apiErr = ae
		code = ae.Code
	} else {
		apiErr = &APIError{
			Code:    code,
			Message: "Internal server error",
			Details: err.Error(),
		}
	}

	// Internal details stay out of responses unless debug is on.
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}
