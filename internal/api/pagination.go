package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// PaginatedResponse wraps a paginated list.
type PaginatedResponse[T any] struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Items  []T `json:"items"`
}

// parsePagination parses limit and offset from query parameters.
// Default limit is 100, capped at 1000 to bound response size.
func parsePagination(c echo.Context) (limit, offset int) {
	limit = 100
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	offset = 0
	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if parsed, err := strconv.Atoi(offsetParam); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// paginate applies limit and offset to a slice and wraps it in a
// PaginatedResponse.
func paginate[T any](items []T, limit, offset int) PaginatedResponse[T] {
	total := len(items)

	if offset >= total {
		items = []T{}
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		items = items[offset:end]
	}

	return PaginatedResponse[T]{
		Count:  len(items),
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Items:  items,
	}
}
