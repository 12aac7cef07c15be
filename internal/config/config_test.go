package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certforge/certforge/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.StorageType)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, 30, cfg.RenewalWindowDays)
	assert.Equal(t, 5, cfg.PollDelaySeconds)
	assert.Equal(t, 30, cfg.HTTPTimeoutSeconds)
	assert.Equal(t, "@every 1h", cfg.SweepSchedule)
	assert.Contains(t, cfg.APIKeys, "operator-api-key")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CERTFORGE_STORAGE_TYPE", "memory")
	t.Setenv("CERTFORGE_DB_PORT", "15432")
	t.Setenv("CERTFORGE_RENEWAL_WINDOW_DAYS", "14")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StorageType)
	assert.Equal(t, 15432, cfg.DBPort)
	assert.Equal(t, 14, cfg.RenewalWindowDays)
}

func TestLoadConfigInvalidIntFallsBack(t *testing.T) {
	t.Setenv("CERTFORGE_DB_PORT", "not-a-number")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.DBPort)
}

func TestLoadConfigAPIKeyOverride(t *testing.T) {
	t.Setenv("CERTFORGE_API_KEY", "secret-key")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Contains(t, cfg.APIKeys, "secret-key")
	assert.Equal(t, []string{"operator"}, cfg.APIKeys["secret-key"].Roles)
	assert.NotContains(t, cfg.APIKeys, "operator-api-key")
}
