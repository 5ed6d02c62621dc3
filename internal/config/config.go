// Package config handles application configuration: an optional YAML
// file overlaid with environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds credentials for the Graph API.
type AuthConfig struct {
	// TenantID is the directory (tenant) id, for reporting only.
	TenantID string `yaml:"tenant_id"`
	// TokenEnvVar names the environment variable carrying the bearer
	// token (default GRAPH_TOKEN). Token acquisition itself happens out
	// of band.
	TokenEnvVar string `yaml:"token_env_var"`
}

// GraphConfig tunes the API client.
type GraphConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	SmoothingRPS   float64       `yaml:"smoothing_rps"`
	SmoothingBurst int           `yaml:"smoothing_burst"`
}

// RateLimitConfig is the windowed request budget shared by all callers.
type RateLimitConfig struct {
	Budget int           `yaml:"budget"`
	Window time.Duration `yaml:"window"`
}

// RetryConfig tunes backoff and circuit breaking.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerRecovery  time.Duration `yaml:"breaker_recovery"`
}

// ConcurrencyConfig caps the named admission pools.
type ConcurrencyConfig struct {
	APIPool int64 `yaml:"api_pool"`
	DBPool  int64 `yaml:"db_pool"`
	CPUPool int64 `yaml:"cpu_pool"`
}

// DiscoveryConfig bounds tree traversal.
type DiscoveryConfig struct {
	BatchSize int `yaml:"batch_size"`
	MaxDepth  int `yaml:"max_depth"`
}

// CacheConfig tunes the two-tier cache.
type CacheConfig struct {
	LocalMaxEntries int           `yaml:"local_max_entries"`
	GroupTTL        time.Duration `yaml:"group_ttl"`
}

// Config is the full application configuration.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	Auth        AuthConfig        `yaml:"auth"`
	Graph       GraphConfig       `yaml:"graph"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Retry       RetryConfig       `yaml:"retry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Cache       CacheConfig       `yaml:"cache"`

	// Warnings collects non-fatal problems found during loading. They
	// are logged by the caller once the logger exists.
	Warnings []string `yaml:"-"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		DBPath:     "audit.sqlite",
		ListenAddr: ":8080",
		LogLevel:   "info",
		Auth: AuthConfig{
			TokenEnvVar: "GRAPH_TOKEN",
		},
		Graph: GraphConfig{
			BaseURL:        "https://graph.microsoft.com/v1.0",
			Timeout:        30 * time.Second,
			SmoothingRPS:   10,
			SmoothingBurst: 5,
		},
		RateLimit: RateLimitConfig{
			Budget: 1200,
			Window: time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			BaseDelay:        500 * time.Millisecond,
			MaxDelay:         30 * time.Second,
			BreakerThreshold: 5,
			BreakerRecovery:  60 * time.Second,
		},
		Concurrency: ConcurrencyConfig{
			APIPool: 10,
			DBPool:  4,
			CPUPool: 4,
		},
		Discovery: DiscoveryConfig{
			BatchSize: 100,
			MaxDepth:  10,
		},
		Cache: CacheConfig{
			LocalMaxEntries: 10000,
			GroupTTL:        4 * time.Hour,
		},
	}
}

// Load reads the YAML file at path (when non-empty), then applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("AUDIT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("AUDIT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AUDIT_TENANT_ID"); v != "" {
		c.Auth.TenantID = v
	}
	if v := os.Getenv("AUDIT_GRAPH_BASE_URL"); v != "" {
		c.Graph.BaseURL = v
	}
	if v := os.Getenv("AUDIT_RATE_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Budget = n
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring AUDIT_RATE_BUDGET=%q: not an integer", v))
		}
	}
	if v := os.Getenv("AUDIT_API_POOL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Concurrency.APIPool = n
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring AUDIT_API_POOL=%q: not an integer", v))
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Auth.TokenEnvVar == "" {
		return fmt.Errorf("auth.token_env_var must not be empty")
	}
	if c.RateLimit.Budget <= 0 {
		return fmt.Errorf("rate_limit.budget must be positive, got %d", c.RateLimit.Budget)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Concurrency.APIPool <= 0 || c.Concurrency.DBPool <= 0 || c.Concurrency.CPUPool <= 0 {
		return fmt.Errorf("concurrency pool capacities must be positive")
	}
	if c.Discovery.BatchSize <= 0 || c.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("discovery batch_size and max_depth must be positive")
	}
	return nil
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
