package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKeyClaims is the key for storing JWT claims in the request context.
const ContextKeyClaims = "claims"

// Middleware enforces bearer authentication on API routes.
type Middleware struct {
	jwtService *JWTService
	enabled    bool
}

// NewMiddleware creates the authentication middleware. When enabled is
// false every check passes, for local development.
func NewMiddleware(secret string, enabled bool) *Middleware {
	return &Middleware{jwtService: NewJWTService(secret), enabled: enabled}
}

// RequireAuth requires a valid bearer token and stores its claims in the
// request context.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.enabled {
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(ContextKeyClaims, claims)
		return next(c)
	}
}

// RequireRole requires any one of the given roles.
func (m *Middleware) RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.enabled {
				return next(c)
			}

			claims, ok := c.Get(ContextKeyClaims).(*Claims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			for _, required := range roles {
				for _, have := range claims.Roles {
					if have == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
		}
	}
}

// RequireAdmin requires the admin role.
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(RoleAdmin)(next)
}

// RequireWrite requires write permissions (admin or write role).
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(RoleAdmin, RoleWrite)(next)
}

// RequireRead requires any authenticated caller.
func (m *Middleware) RequireRead(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(next)
}

// GetClaims extracts JWT claims from the request context.
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// HasRole reports whether the current caller carries the given role.
func HasRole(c echo.Context, role Role) bool {
	claims, ok := GetClaims(c)
	if !ok {
		return false
	}
	for _, r := range claims.Roles {
		if r == role {
			return true
		}
	}
	return false
}
