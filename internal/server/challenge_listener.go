package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/certforge/certforge/internal/model"
	"github.com/certforge/certforge/internal/storage"
)

// newChallengeEcho builds a minimal echo instance that serves only the
// HTTP-01 challenge endpoint.
func newChallengeEcho(store storage.Storage, baseLogger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("store", store)
			c.Set("logger", baseLogger)
			return next(c)
		}
	})
	e.GET("/.well-known/acme-challenge/:token", HandleHTTP01Challenge)
	return e
}

// authorizationPorts collects the distinct authorization ports configured
// across the stored ACME servers, dropping non-positive values and the port
// the main listener already serves.
func authorizationPorts(servers []*model.Server, mainAddress string) []int {
	mainPort := -1
	if _, portStr, err := net.SplitHostPort(mainAddress); err == nil {
		if p, err := strconv.Atoi(portStr); err == nil {
			mainPort = p
		}
	}
	seen := make(map[int]bool)
	var ports []int
	for _, srv := range servers {
		for _, p := range srv.AuthorizationPorts {
			if p <= 0 || p == mainPort || seen[p] {
				continue
			}
			seen[p] = true
			ports = append(ports, p)
		}
	}
	sort.Ints(ports)
	return ports
}

// StartChallengeListeners serves the HTTP-01 challenge endpoint on every
// authorization port configured on the stored ACME servers, so validation
// traffic arriving on a port other than the main listener's still finds the
// prepared tokens. The returned instances should be closed on shutdown.
func StartChallengeListeners(ctx context.Context, store storage.Storage, mainAddress string, baseLogger *zap.Logger) []*echo.Echo {
	servers, err := store.ListServers(ctx)
	if err != nil {
		baseLogger.Warn("could not list servers for challenge listeners", zap.Error(err))
		return nil
	}
	var listeners []*echo.Echo
	for _, port := range authorizationPorts(servers, mainAddress) {
		e := newChallengeEcho(store, baseLogger)
		addr := fmt.Sprintf(":%d", port)
		go func() {
			baseLogger.Info("challenge listener starting", zap.String("address", addr))
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				baseLogger.Warn("challenge listener stopped", zap.String("address", addr), zap.Error(err))
			}
		}()
		listeners = append(listeners, e)
	}
	return listeners
}
