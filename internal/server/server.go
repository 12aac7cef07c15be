// Package server wires the echo instance: common middleware, the HTTP-01
// challenge response endpoint and the management API routes.
package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/auth"
	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/management"
	"github.com/certforge/certforge/internal/renewal"
	"github.com/certforge/certforge/internal/storage"
)

// ApplyCommonMiddleware applies essential middleware to an Echo instance.
// It injects dependencies into the context.
func ApplyCommonMiddleware(e *echo.Echo, store storage.Storage, cfg *config.Config, engine *renewal.Engine, comm *acme.Communicator, challenges *challenge.Registry, baseLogger *zap.Logger) {
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	// Middleware to set context values
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := baseLogger.With(zap.String("request_id", reqID))

			c.Set("store", store)
			c.Set("cfg", cfg)
			c.Set("engine", engine)
			c.Set("comm", comm)
			c.Set("challenges", challenges)
			c.Set("logger", reqLogger)
			return next(c)
		}
	})
}

// SetupRouter defines all HTTP routes for the application.
func SetupRouter(e *echo.Echo, cfg *config.Config) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "certforge is running")
	})

	// Inbound side of the HTTP-01 challenge type.
	e.GET("/.well-known/acme-challenge/:token", HandleHTTP01Challenge)

	apiGroup := e.Group("/api/v1")
	const operatorRole = "operator"
	apiGroup.Use(auth.APIKeyAuthMiddleware(cfg, operatorRole))

	apiGroup.POST("/servers", management.HandleAddServer)
	apiGroup.GET("/servers", management.HandleListServers)
	apiGroup.GET("/servers/:id", management.HandleGetServer)

	apiGroup.POST("/accounts", management.HandleAddAccount)
	apiGroup.GET("/accounts", management.HandleListAccounts)
	apiGroup.POST("/accounts/:id/register", management.HandleRegisterAccount)

	apiGroup.POST("/domains", management.HandleAddDomain)
	apiGroup.GET("/domains", management.HandleListDomains)

	apiGroup.POST("/certificates", management.HandleAddCertificate)
	apiGroup.GET("/certificates", management.HandleListCertificates)
	apiGroup.GET("/certificates/:id", management.HandleGetCertificate)
	apiGroup.DELETE("/certificates/:id", management.HandleDeleteCertificate)
	apiGroup.GET("/certificates/:id/download", management.HandleDownloadCertificate)
	apiGroup.POST("/certificates/:id/renew", management.HandleRenewCertificate)
	apiGroup.POST("/certificates/:id/revoke", management.HandleRevokeCertificate)
	apiGroup.POST("/certificates/:id/actions", management.HandleAddAction)
	apiGroup.GET("/certificates/:id/actions", management.HandleListActions)

	apiGroup.POST("/remote-servers", management.HandleAddRemoteServer)
	apiGroup.GET("/remote-servers", management.HandleListRemoteServers)

	apiGroup.GET("/revoked-certificates", management.HandleListRevokedCertificates)
}

// HandleHTTP01Challenge serves the stored key authorization for a prepared
// challenge token.
func HandleHTTP01Challenge(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleHTTP01Challenge"))
	ctx := c.Request().Context()

	token := c.Param("token")
	keyAuth, err := store.GetChallengeToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Unknown challenge token")
		}
		reqLogger.Error("Failed to load challenge token", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load challenge token")
	}
	return c.Blob(http.StatusOK, "application/octet-stream", []byte(keyAuth))
}
