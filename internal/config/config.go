// Package config loads runtime settings from the environment, after an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNone     = "none"
)

// Config holds application configuration.
type Config struct {
	Port      int
	LogLevel  string
	LogFormat string

	AdminEmail string
	JWTSecret  string
	TokenTTL   time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	LedgerDriver   string
	AuditDriver    string
	DBPath         string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StorageTimeout time.Duration

	AuditWorkers   int
	AuditQueueSize int
}

// Load reads the configuration. Malformed numbers and durations are errors,
// not silent defaults; call Validate afterwards for cross-field checks.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "text")),

		AdminEmail: os.Getenv("ADMIN_EMAIL"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),

		LedgerDriver:  strings.ToLower(getenv("LEDGER_DRIVER", DriverSQLite)),
		AuditDriver:   strings.ToLower(getenv("AUDIT_DRIVER", DriverSQLite)),
		DBPath:        getenv("DB_PATH", "data/docmeter.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	cfg.Port = getenvInt("PORT", 8080, &errs)
	cfg.RedisDB = getenvInt("REDIS_DB", 0, &errs)
	cfg.AuditWorkers = getenvInt("AUDIT_WORKERS", 2, &errs)
	cfg.AuditQueueSize = getenvInt("AUDIT_QUEUE_SIZE", 1024, &errs)
	cfg.TokenTTL = getenvDuration("TOKEN_TTL", 15*time.Minute, &errs)
	cfg.StorageTimeout = getenvDuration("STORAGE_TIMEOUT", 3*time.Second, &errs)
	cfg.GitHubCallbackURL = getenv("GITHUB_CALLBACK_URL",
		fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port))

	return cfg, errors.Join(errs...)
}

// Validate rejects unknown drivers and missing connection settings.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}

	switch c.LedgerDriver {
	case DriverSQLite, DriverPostgres, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER %q: want sqlite, postgres or redis", c.LedgerDriver))
	}
	switch c.AuditDriver {
	case DriverSQLite, DriverPostgres, DriverNone:
	default:
		errs = append(errs, fmt.Errorf("AUDIT_DRIVER %q: want sqlite, postgres or none", c.AuditDriver))
	}

	if c.uses(DriverSQLite) && c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
	}
	if c.uses(DriverPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
	}
	if c.LedgerDriver == DriverRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis driver"))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.AuditWorkers <= 0 || c.AuditQueueSize <= 0 {
		errs = append(errs, errors.New("AUDIT_WORKERS and AUDIT_QUEUE_SIZE must be positive"))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether sign-in and token validation are configured.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func (c Config) uses(driver string) bool {
	return c.LedgerDriver == driver || c.AuditDriver == driver
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return def
	}
	return parsed
}
