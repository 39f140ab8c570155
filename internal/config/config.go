// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/ratelimit"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Routing     RoutingConfig     `yaml:"routing"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Budget      BudgetConfig      `yaml:"budget"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Usage       UsageConfig       `yaml:"usage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single upstream provider.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	BaseEndpoint string   `yaml:"base_endpoint"`
	AuthMethod   string   `yaml:"auth_method"` // bearer, api-key-header, none
	APIKey       string   `yaml:"api_key"`
	Models       []string `yaml:"models"`
	PriceInput   float64  `yaml:"price_input_per_1k"`
	PriceOutput  float64  `yaml:"price_output_per_1k"`
	QualityScore float64  `yaml:"quality_score"`
	Priority     int      `yaml:"priority"`
	Enabled      *bool    `yaml:"enabled"` // nil means enabled
}

// RoutingConfig contains selection and execution settings.
type RoutingConfig struct {
	DefaultStrategy string        `yaml:"default_strategy"` // cost, quality, speed, balanced
	ChainLength     int           `yaml:"chain_length"`
	SpeedTier       []string      `yaml:"speed_tier"`
	RouteDeadline   time.Duration `yaml:"route_deadline"` // zero disables the whole-route bound
}

// BreakerConfig contains circuit breaker settings shared by all providers.
type BreakerConfig struct {
	CallTimeout       time.Duration `yaml:"call_timeout"`
	ErrorThresholdPct int           `yaml:"error_threshold_pct"`
	WindowSize        int           `yaml:"window_size"`
	MinRequests       int           `yaml:"min_requests"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
}

// Settings converts the block into the breaker package's config. The YAML
// surface keeps the threshold as a whole-number percentage.
func (b BreakerConfig) Settings() breaker.Config {
	return breaker.Config{
		CallTimeout:       b.CallTimeout,
		ErrorThresholdPct: float64(b.ErrorThresholdPct),
		WindowSize:        b.WindowSize,
		MinRequests:       b.MinRequests,
		ResetTimeout:      b.ResetTimeout,
	}
}

// IdempotencyConfig contains idempotency store settings.
type IdempotencyConfig struct {
	Backend    string        `yaml:"backend"` // memory, redis
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
	RedisAddr  string        `yaml:"redis_addr"`
	RedisDB    int           `yaml:"redis_db"`
}

// BudgetConfig contains the spend guardrail settings.
type BudgetConfig struct {
	GuardrailRatio        float64            `yaml:"guardrail_ratio"`
	DefaultMonthlyRevenue float64            `yaml:"default_monthly_revenue"`
	TenantRevenue         map[string]float64 `yaml:"tenant_revenue"`
}

// RateLimitConfig defines per-tenant rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerSecond float64                          `yaml:"requests_per_second"` // zero disables
	Burst             int                              `yaml:"burst"`
	Tenants           map[string]ratelimit.TenantLimit `yaml:"tenants"`
}

// UsageConfig selects the usage record sink.
type UsageConfig struct {
	Backend     string `yaml:"backend"` // memory, postgres
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Routing: RoutingConfig{
			DefaultStrategy: "balanced",
			ChainLength:     3,
		},
		Breaker: BreakerConfig{
			CallTimeout:       3 * time.Second,
			ErrorThresholdPct: 50,
			WindowSize:        10,
			MinRequests:       5,
			ResetTimeout:      30 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Backend:    "memory",
			MaxEntries: 50000,
			TTL:        24 * time.Hour,
		},
		Budget: BudgetConfig{
			GuardrailRatio: 0.70,
		},
		Usage: UsageConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider[%d]: id is required", i)
		}
		if p.BaseEndpoint == "" {
			return fmt.Errorf("provider[%d] %q: base_endpoint is required", i, p.ID)
		}
		switch registry.AuthMethod(p.AuthMethod) {
		case registry.AuthBearer, registry.AuthHeader, registry.AuthNone, "":
		default:
			return fmt.Errorf("provider[%d] %q: unknown auth_method %q", i, p.ID, p.AuthMethod)
		}
		if p.QualityScore < 0 || p.QualityScore > 1 {
			return fmt.Errorf("provider[%d] %q: quality_score must be in [0,1]", i, p.ID)
		}
		if p.PriceInput < 0 || p.PriceOutput < 0 {
			return fmt.Errorf("provider[%d] %q: prices cannot be negative", i, p.ID)
		}
	}

	switch c.Routing.DefaultStrategy {
	case "cost", "quality", "speed", "balanced":
	default:
		return fmt.Errorf("routing.default_strategy %q is not one of cost, quality, speed, balanced", c.Routing.DefaultStrategy)
	}
	if c.Routing.ChainLength < 0 {
		return fmt.Errorf("routing.chain_length cannot be negative")
	}

	if c.Breaker.ErrorThresholdPct <= 0 || c.Breaker.ErrorThresholdPct > 100 {
		return fmt.Errorf("breaker.error_threshold_pct must be in (0,100]")
	}
	if c.Breaker.WindowSize <= 0 {
		return fmt.Errorf("breaker.window_size must be positive")
	}
	if c.Breaker.MinRequests <= 0 {
		return fmt.Errorf("breaker.min_requests must be positive")
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("idempotency.backend %q is not one of memory, redis", c.Idempotency.Backend)
	}

	if c.Budget.GuardrailRatio <= 0 || c.Budget.GuardrailRatio > 1 {
		return fmt.Errorf("budget.guardrail_ratio must be in (0,1]")
	}

	switch c.Usage.Backend {
	case "memory":
	case "postgres":
		if c.Usage.PostgresDSN == "" {
			return fmt.Errorf("usage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("usage.backend %q is not one of memory, postgres", c.Usage.Backend)
	}

	return nil
}

// Descriptors converts the provider block into registry descriptors.
func (c *Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		models := make(map[string]struct{}, len(p.Models))
		for _, m := range p.Models {
			models[m] = struct{}{}
		}
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		out = append(out, registry.Descriptor{
			ID:               p.ID,
			BaseEndpoint:     p.BaseEndpoint,
			AuthMethod:       registry.AuthMethod(p.AuthMethod),
			APIKey:           p.APIKey,
			SupportedModels:  models,
			PriceInputPer1K:  p.PriceInput,
			PriceOutputPer1K: p.PriceOutput,
			QualityScore:     p.QualityScore,
			Priority:         p.Priority,
			Enabled:          enabled,
		})
	}
	return out
}
