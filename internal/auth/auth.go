// Package auth provides the API key middleware guarding the management API.
package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/config"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "auth"))
}

const apiKeyHeader = "X-API-Key"

// APIKeyAuthMiddleware checks the X-API-Key header against the configured
// keys and requires the given role on the matched key.
func APIKeyAuthMiddleware(cfg *config.Config, requiredRole string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(apiKeyHeader)
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing API key")
			}
			apiKey, ok := cfg.APIKeys[key]
			if !ok {
				logger.Warn("rejected unknown API key", zap.String("path", c.Path()))
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API key")
			}
			if !hasRole(apiKey.Roles, requiredRole) {
				return echo.NewHTTPError(http.StatusForbidden, "API key lacks required role")
			}
			return next(c)
		}
	}
}

func hasRole(roles []string, wanted string) bool {
	for _, r := range roles {
		if r == wanted {
			return true
		}
	}
	return false
}
