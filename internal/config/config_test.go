package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/breaker"
	"github.com/deedk822-lang/The-lab-verse-monitoring--sub007/internal/registry"
)

const validYAML = `
server:
  port: 9090
providers:
  - id: provider-a
    base_endpoint: https://a.example.com/v1/complete
    auth_method: bearer
    api_key: ${TEST_PROVIDER_A_KEY}
    models: [model-x]
    price_input_per_1k: 0.01
    price_output_per_1k: 0.02
    quality_score: 0.9
  - id: provider-b
    base_endpoint: https://b.example.com/v1/complete
    models: [model-x]
    price_input_per_1k: 0.002
    price_output_per_1k: 0.003
    quality_score: 0.6
    enabled: false
routing:
  default_strategy: cost
  speed_tier: [provider-a]
budget:
  guardrail_ratio: 0.7
  tenant_revenue:
    acme: 1000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TEST_PROVIDER_A_KEY", "sk-expanded")
	path := writeConfig(t, validYAML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cost", cfg.Routing.DefaultStrategy)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-expanded", cfg.Providers[0].APIKey, "env vars expand before parse")

	// Defaults fill unset sections.
	assert.Equal(t, 3*time.Second, cfg.Breaker.CallTimeout)
	assert.Equal(t, 10, cfg.Breaker.WindowSize)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.InDelta(t, 0.70, cfg.Budget.GuardrailRatio, 1e-12)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Providers = []ProviderConfig{{
			ID: "a", BaseEndpoint: "https://a", QualityScore: 0.9,
		}}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"missing provider id", func(c *Config) { c.Providers[0].ID = "" }},
		{"missing endpoint", func(c *Config) { c.Providers[0].BaseEndpoint = "" }},
		{"bad auth method", func(c *Config) { c.Providers[0].AuthMethod = "magic" }},
		{"quality out of range", func(c *Config) { c.Providers[0].QualityScore = 1.5 }},
		{"negative price", func(c *Config) { c.Providers[0].PriceInput = -1 }},
		{"bad strategy", func(c *Config) { c.Routing.DefaultStrategy = "cheapest" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"threshold over 100", func(c *Config) { c.Breaker.ErrorThresholdPct = 150 }},
		{"redis without addr", func(c *Config) { c.Idempotency.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Usage.Backend = "postgres" }},
		{"guardrail over 1", func(c *Config) { c.Budget.GuardrailRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestDescriptors(t *testing.T) {
	t.Setenv("TEST_PROVIDER_A_KEY", "k")
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	descs := cfg.Descriptors()
	require.Len(t, descs, 2)

	assert.Equal(t, "provider-a", descs[0].ID)
	assert.Equal(t, registry.AuthBearer, descs[0].AuthMethod)
	assert.True(t, descs[0].Enabled, "enabled defaults to true")
	assert.True(t, descs[0].SupportsModel("model-x"))
	assert.False(t, descs[1].Enabled, "explicit enabled: false is honored")

	reg, err := registry.New(descs)
	require.NoError(t, err)
	assert.Len(t, reg.List(), 1, "disabled providers stay out of the candidate set")
}

func TestBreakerSettings(t *testing.T) {
	got := BreakerConfig{
		CallTimeout:       2 * time.Second,
		ErrorThresholdPct: 40,
		WindowSize:        16,
		MinRequests:       8,
		ResetTimeout:      10 * time.Second,
	}.Settings()

	assert.Equal(t, breaker.Config{
		CallTimeout:       2 * time.Second,
		ErrorThresholdPct: 40,
		WindowSize:        16,
		MinRequests:       8,
		ResetTimeout:      10 * time.Second,
	}, got)

	// Defaults survive the conversion end to end.
	bank := breaker.NewBank(DefaultConfig().Breaker.Settings())
	assert.Equal(t, 3*time.Second, bank.CallTimeout())
}

func TestManager_Reload(t *testing.T) {
	t.Setenv("TEST_PROVIDER_A_KEY", "k")
	path := writeConfig(t, validYAML)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	var notified int
	m.OnChange(func(*Config) { notified++ })

	assert.EqualValues(t, 0, m.Generation())
	require.NoError(t, os.WriteFile(path, []byte(validYAML+"\nlogging:\n  level: debug\n"), 0o600))
	require.NoError(t, m.Reload())

	assert.Equal(t, "debug", m.Get().Logging.Level)
	assert.EqualValues(t, 1, m.Generation())
	assert.Equal(t, 1, notified)

	// A broken file is reported, keeps the snapshot, and counts nothing.
	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))
	require.Error(t, m.Reload())
	assert.Equal(t, "debug", m.Get().Logging.Level)
	assert.EqualValues(t, 1, m.Generation())
	assert.Equal(t, 1, notified)
}

func TestManager_HotReload(t *testing.T) {
	t.Setenv("TEST_PROVIDER_A_KEY", "k")
	path := writeConfig(t, validYAML)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	var mu sync.Mutex
	var reloaded *Config
	m.OnChange(func(c *Config) {
		mu.Lock()
		reloaded = c
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	updated := validYAML + "\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil && reloaded.Logging.Level == "debug"
	}, 5*time.Second, 50*time.Millisecond, "watcher must pick up the rewritten file")

	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestManager_InvalidReloadKeepsCurrent(t *testing.T) {
	t.Setenv("TEST_PROVIDER_A_KEY", "k")
	path := writeConfig(t, validYAML)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))
	time.Sleep(time.Second)

	assert.Len(t, m.Get().Providers, 2, "a config that fails validation must not replace the running one")
}
