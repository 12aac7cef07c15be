package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	StorageType string // Storage type: "postgres" or "memory"
	DBHost      string // PostgreSQL host
	DBUser      string // PostgreSQL user
	DBPassword  string // PostgreSQL password
	DBName      string // PostgreSQL database name
	DBPort      int    // PostgreSQL port
	DBSSLMode   string // PostgreSQL SSL mode

	HTTPAddress string // The address to listen on for HTTP

	RenewalWindowDays  int    // Days before expiry when renewal starts
	PollDelaySeconds   int    // Fallback delay while waiting on challenge validation
	HTTPTimeoutSeconds int    // Outbound ACME call timeout
	SweepSchedule      string // Cron schedule for the renewal sweep

	APIKeys map[string]APIKey // API keys and their roles
}

// APIKey defines an API key and its associated roles.
type APIKey struct {
	Roles []string
}

const (
	defaultStorageType        = "postgres"
	defaultDBHost             = "localhost"
	defaultDBUser             = "certforge"
	defaultDBPassword         = "password"
	defaultDBName             = "certforge"
	defaultDBPort             = 5432
	defaultDBSSLMode          = "disable" // Default to disable SSL
	defaultHTTPAddress        = ":8080"
	defaultRenewalWindowDays  = 30
	defaultPollDelaySeconds   = 5
	defaultHTTPTimeoutSeconds = 30
	defaultSweepSchedule      = "@every 1h"
)

var defaultAPIKeys = map[string]APIKey{
	"operator-api-key": {Roles: []string{"operator"}},
}

// LoadConfig loads the configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		StorageType:        getEnv("CERTFORGE_STORAGE_TYPE", defaultStorageType),
		DBHost:             getEnv("CERTFORGE_DB_HOST", defaultDBHost),
		DBUser:             getEnv("CERTFORGE_DB_USER", defaultDBUser),
		DBPassword:         getEnv("CERTFORGE_DB_PASSWORD", defaultDBPassword),
		DBName:             getEnv("CERTFORGE_DB_NAME", defaultDBName),
		DBPort:             getEnvAsInt("CERTFORGE_DB_PORT", defaultDBPort),
		DBSSLMode:          getEnv("CERTFORGE_DB_SSLMODE", defaultDBSSLMode),
		HTTPAddress:        getEnv("CERTFORGE_HTTP_ADDRESS", defaultHTTPAddress),
		RenewalWindowDays:  getEnvAsInt("CERTFORGE_RENEWAL_WINDOW_DAYS", defaultRenewalWindowDays),
		PollDelaySeconds:   getEnvAsInt("CERTFORGE_POLL_DELAY_SECONDS", defaultPollDelaySeconds),
		HTTPTimeoutSeconds: getEnvAsInt("CERTFORGE_HTTP_TIMEOUT_SECONDS", defaultHTTPTimeoutSeconds),
		SweepSchedule:      getEnv("CERTFORGE_SWEEP_SCHEDULE", defaultSweepSchedule),
		APIKeys:            defaultAPIKeys,
	}
	if key := os.Getenv("CERTFORGE_API_KEY"); key != "" {
		cfg.APIKeys = map[string]APIKey{key: {Roles: []string{"operator"}}}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
