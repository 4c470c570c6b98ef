// Package config loads service configuration from a YAML file with
// environment-variable overrides
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	Environment string `yaml:"environment"` // development | production
	Port        int    `yaml:"port"`

	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // json | console

	// DatabaseURL is the durable-store DSN (postgres)
	DatabaseURL string `yaml:"database_url"`
	// RedisURL is the ephemeral-store connection URL
	RedisURL string `yaml:"redis_url"`

	// SigningJWK is the JSON-encoded Ed25519 private JWK
	SigningJWK string `yaml:"signing_jwk"`

	TokenTTLMinutes     int `yaml:"token_ttl_minutes"`
	ChallengeTTLMinutes int `yaml:"challenge_ttl_minutes"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// PortalInternalKey authenticates portal-to-service calls (optional)
	PortalInternalKey string `yaml:"portal_internal_key"`

	// RateLimitFailOpen allows requests through when the ephemeral store
	// cannot answer a rate-limit check
	RateLimitFailOpen bool `yaml:"rate_limit_fail_open"`

	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig selects and tunes the audit sink
type AuditConfig struct {
	Sink       string `yaml:"sink"` // postgres | stdout | file
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Environment:         "development",
		Port:                8080,
		LogLevel:            "info",
		LogFormat:           "json",
		RedisURL:            "redis://localhost:6379/0",
		TokenTTLMinutes:     60,
		ChallengeTTLMinutes: 5,
		RateLimitFailOpen:   true,
		Audit: AuditConfig{
			Sink:       "postgres",
			MaxSizeMB:  100,
			MaxAgeDays: 30,
			MaxBackups: 5,
		},
	}
}

// Load reads the YAML file (when path is non-empty), applies environment
// overrides, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PASSPORT_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("PASSPORT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("PASSPORT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PASSPORT_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("PASSPORT_SIGNING_JWK"); v != "" {
		c.SigningJWK = v
	}
	if v := os.Getenv("PASSPORT_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TokenTTLMinutes = n
		}
	}
	if v := os.Getenv("PASSPORT_CHALLENGE_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChallengeTTLMinutes = n
		}
	}
	if v := os.Getenv("PASSPORT_CORS_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("PASSPORT_PORTAL_INTERNAL_KEY"); v != "" {
		c.PortalInternalKey = v
	}
	if v := os.Getenv("PASSPORT_AUDIT_SINK"); v != "" {
		c.Audit.Sink = v
	}
	if v := os.Getenv("PASSPORT_AUDIT_FILE"); v != "" {
		c.Audit.FilePath = v
	}
}

// Validate checks required options and value constraints
func (c *Config) Validate() error {
	if c.SigningJWK == "" {
		return fmt.Errorf("signing JWK is required (signing_jwk / PASSPORT_SIGNING_JWK)")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required (database_url / DATABASE_URL)")
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("token TTL must be positive, got %d", c.TokenTTLMinutes)
	}
	if c.ChallengeTTLMinutes <= 0 {
		return fmt.Errorf("challenge TTL must be positive, got %d", c.ChallengeTTLMinutes)
	}
	if c.PortalInternalKey != "" && len(c.PortalInternalKey) < 32 {
		return fmt.Errorf("portal internal key must be at least 32 characters")
	}
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be development or production, got %q", c.Environment)
	}
	switch c.Audit.Sink {
	case "postgres", "stdout", "file":
	default:
		return fmt.Errorf("audit sink must be postgres, stdout, or file, got %q", c.Audit.Sink)
	}
	if c.Audit.Sink == "file" && c.Audit.FilePath == "" {
		return fmt.Errorf("audit file sink requires a file path")
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// TokenTTL returns the token lifetime as a duration
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// ChallengeTTL returns the challenge lifetime as a duration
func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLMinutes) * time.Minute
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
