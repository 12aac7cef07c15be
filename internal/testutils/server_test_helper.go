package testutils

import (
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/certforge/certforge/internal/acme"
	"github.com/certforge/certforge/internal/challenge"
	"github.com/certforge/certforge/internal/config"
	"github.com/certforge/certforge/internal/deploy"
	"github.com/certforge/certforge/internal/renewal"
	"github.com/certforge/certforge/internal/server"
	"github.com/certforge/certforge/internal/storage"
)

// TestAPIKey is the operator key wired into the test configuration.
const TestAPIKey = "test-api-key"

// SetupTestServer initializes every component needed to exercise the HTTP
// surface against a memory store and a fake ACME server, and returns the
// configured Echo instance plus the store and the fake.
func SetupTestServer(t *testing.T, hostname string) (*echo.Echo, *storage.MemoryStorage, *FakeACME) {
	t.Helper()

	testLogger := zaptest.NewLogger(t)

	fake, err := NewFakeACME(hostname)
	if err != nil {
		t.Fatalf("failed to start fake ACME server: %v", err)
	}
	t.Cleanup(fake.Close)

	cfg := &config.Config{
		StorageType:        "memory",
		RenewalWindowDays:  30,
		PollDelaySeconds:   1,
		HTTPTimeoutSeconds: 5,
		APIKeys: map[string]config.APIKey{
			TestAPIKey: {Roles: []string{"operator"}},
		},
	}

	store := storage.NewMemoryStorage()
	comm := acme.NewCommunicator(5 * time.Second)

	challenges := challenge.NewRegistry()
	challenges.Register("http", nil, challenge.NewServedHTTP01Constructor(store))
	challenges.Register("http-file", nil, challenge.NewFileHTTP01)
	challenges.Register("dns", nil, challenge.NewDNS01)

	engine := renewal.NewEngine(store, comm, challenges, deploy.NewRegistry(), 30*24*time.Hour, 1)

	e := echo.New()
	server.ApplyCommonMiddleware(e, store, cfg, engine, comm, challenges, testLogger)
	server.SetupRouter(e, cfg)

	return e, store, fake
}
