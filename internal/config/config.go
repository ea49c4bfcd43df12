// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// QuotaBackend selects the store used for daily quota accounting.
type QuotaBackend string

const (
	// QuotaBackendSQLite enforces quotas through the SQLite key store.
	QuotaBackendSQLite QuotaBackend = "sqlite"
	// QuotaBackendRedis enforces quotas through a shared Redis counter.
	QuotaBackendRedis QuotaBackend = "redis"
)

// Config holds all application configuration values loaded from environment
// variables. It is loaded once at startup and threaded through the program
// as a value; nothing reads the environment after that.
type Config struct {
	// Server configuration
	ListenAddr      string        // Gateway listen address (e.g., ":8080")
	AdminListenAddr string        // Management API listen address (e.g., ":8081")
	UpstreamTimeout time.Duration // Hard timeout for the upstream call
	MaxRequestSize  int64         // Maximum size of incoming request bodies in bytes

	// Database configuration
	DatabasePath     string // Path to the SQLite database file
	DatabasePoolSize int    // Number of connections in the database pool

	// Authentication
	ManagementToken string // Bearer token for the management API

	// Quota enforcement
	QuotaBackend      QuotaBackend // "sqlite" or "redis"
	RedisAddr         string       // Redis server address (e.g., "localhost:6379")
	RedisDB           int          // Redis database number
	QuotaKeyPrefix    string       // Redis key prefix for quota counters
	DefaultDailyLimit int          // Daily limit applied to keys created without one

	// Response rewriting
	RewriteRulesPath string // Optional YAML file with extra rewrite rules

	// Logging
	LogLevel  string // Log level (debug, info, warn, error)
	LogFormat string // Log format (json, console)
	LogFile   string // Path to log file (empty for stdout)
}

// New creates a new configuration with values from environment variables.
// It applies default values where environment variables are not set, and
// validates required configuration settings.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnvString("LISTEN_ADDR", ":8080"),
		AdminListenAddr: getEnvString("ADMIN_LISTEN_ADDR", ":8081"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 120*time.Second),
		MaxRequestSize:  getEnvInt64("MAX_REQUEST_SIZE", 20*1024*1024), // 20MB

		DatabasePath:     getEnvString("DATABASE_PATH", "./data/chatgate.db"),
		DatabasePoolSize: getEnvInt("DATABASE_POOL_SIZE", 10),

		ManagementToken: getEnvString("MANAGEMENT_TOKEN", ""),

		QuotaBackend:      QuotaBackend(strings.ToLower(getEnvString("QUOTA_BACKEND", "sqlite"))),
		RedisAddr:         getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		QuotaKeyPrefix:    getEnvString("QUOTA_KEY_PREFIX", "quota:"),
		DefaultDailyLimit: getEnvInt("DEFAULT_DAILY_LIMIT", 100),

		RewriteRulesPath: getEnvString("REWRITE_RULES_PATH", ""),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}

	if cfg.ManagementToken == "" {
		return nil, fmt.Errorf("MANAGEMENT_TOKEN environment variable is required")
	}
	if cfg.QuotaBackend != QuotaBackendSQLite && cfg.QuotaBackend != QuotaBackendRedis {
		return nil, fmt.Errorf("unsupported QUOTA_BACKEND %q (want sqlite or redis)", cfg.QuotaBackend)
	}

	return cfg, nil
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// EnvOrDefault returns the value of the environment variable or the default.
// It exists for flag defaults in the CLI, where flags override env vars.
func EnvOrDefault(key, defaultValue string) string {
	return getEnvString(key, defaultValue)
}
