/*
config.go - Runtime configuration

PURPOSE:
  Reads server settings from the environment (optionally seeded from a
  .env file) with development defaults. Command-line flags in cmd/server
  override the few values operators change most often.

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
*/
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

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultJWTSecret = "change-me-in-production"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Admin   AdminConfig
	Log     LogConfig
	CORS    CORSConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Driver       string
	Path         string // sqlite file, ":memory:" for ephemeral
	URL          string // postgres connection URL
	MaxOpenConns int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// AdminConfig seeds the first user when the user table is empty.
type AdminConfig struct {
	Username string
	Password string
}

type LogConfig struct {
	Level string
}

type CORSConfig struct {
	Origins []string
}

type AuditConfig struct {
	Interval time.Duration // 0 disables the background audit
	Fix      bool          // rewrite drifted client debt instead of only logging it
}

type MetricsConfig struct {
	Prefix string
}

// Load reads a .env file if present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Env:  getEnv("APP_ENV", EnvDevelopment),
			Port: getEnvInt("PORT", 8080),
		},
		DB: DBConfig{
			Driver:       getEnv("DB_DRIVER", DriverSQLite),
			Path:         getEnv("DB_PATH", "retail.db"),
			URL:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", defaultJWTSecret),
			Expiration: getEnvDuration("JWT_EXPIRATION", 30*time.Minute),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", "admin123"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		CORS: CORSConfig{
			Origins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Audit: AuditConfig{
			Interval: getEnvDuration("AUDIT_INTERVAL", time.Hour),
			Fix:      getEnvBool("AUDIT_FIX", false),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "retail"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if c.DB.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver))
	}
	if c.JWT.Expiration <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION must be positive"))
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
