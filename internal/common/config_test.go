package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("REALPERF_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_InvalidPortEnvIgnored(t *testing.T) {
	t.Setenv("REALPERF_PORT", "not-a-port")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestConfig_PricingKeyEnvOverride(t *testing.T) {
	t.Setenv("REALPERF_PRICING_API_KEY", "")
	t.Setenv("EODHD_API_KEY", "from-env")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Pricing.APIKey != "from-env" {
		t.Errorf("Pricing.APIKey = %q, want %q", cfg.Pricing.APIKey, "from-env")
	}
}

func TestConfig_PricingKeyPrefersRealperfVar(t *testing.T) {
	t.Setenv("REALPERF_PRICING_API_KEY", "primary")
	t.Setenv("EODHD_API_KEY", "secondary")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "primary", cfg.Pricing.APIKey)
}

func TestConfig_ProviderKeyEnvOverride(t *testing.T) {
	t.Setenv("REALPERF_PROVIDER_IBKR_FLEX_API_KEY", "secret")

	cfg := NewDefaultConfig()
	cfg.Providers = []ProviderConfig{{Name: "ibkr-flex", Role: "authoritative"}}
	applyEnvOverrides(cfg)

	assert.Equal(t, "secret", cfg.Providers[0].APIKey)
}

func TestConfig_PipelineEnvOverrides(t *testing.T) {
	t.Setenv("REALPERF_SENSITIVITY_THRESHOLD_PCT", "2.5")
	t.Setenv("REALPERF_BASE_CURRENCY", "eur")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 2.5, cfg.Pipeline.SensitivityThresholdPct)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "realperf.toml")
	body := `
base_currency = "gbp"

[pipeline]
sensitivity_threshold_pct = 1.5
prefer_conservative_track = false
carry_forward_prices = true

[pipeline.futures_multipliers]
FDAX = 25

[[providers]]
name = "schwab"
format = "schwab"
institution = "charles_schwab"
role = "authoritative"
timeout = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "GBP", cfg.BaseCurrency)
	assert.Equal(t, 1.5, cfg.Pipeline.SensitivityThresholdPct)
	assert.False(t, cfg.Pipeline.PreferConservativeTrack)
	assert.True(t, cfg.Pipeline.CarryForwardPrices)
	assert.Equal(t, 25.0, cfg.Pipeline.FuturesMultipliers["FDAX"])
	assert.Equal(t, 100.0, cfg.Pipeline.DefaultOptionMultiplier, "untouched defaults survive")
	require.NotNil(t, cfg.Provider("schwab"))
	assert.Equal(t, 5*time.Second, cfg.Provider("schwab").GetTimeout())
	assert.Nil(t, cfg.Provider("plaid"))
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.BaseCurrency)
}

func TestLoadConfig_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("base_currency = "), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown currency", func(c *Config) { c.BaseCurrency = "ABC" }, "not a known ISO currency"},
		{"negative threshold", func(c *Config) { c.Pipeline.SensitivityThresholdPct = -1 }, "must not be negative"},
		{"unnamed provider", func(c *Config) { c.Providers = []ProviderConfig{{Role: "authoritative"}} }, "provider name is required"},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", Role: "aggregator"}, {Name: "a", Role: "aggregator"}}
		}, "duplicate provider"},
		{"bad role", func(c *Config) { c.Providers = []ProviderConfig{{Name: "a", Role: "primary"}} }, "role must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateRestoresOptionMultiplier(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Pipeline.DefaultOptionMultiplier = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100.0, cfg.Pipeline.DefaultOptionMultiplier)
}

func TestConfig_IsProduction(t *testing.T) {
	for env, want := range map[string]bool{"production": true, " PROD ": true, "development": false, "": false} {
		cfg := &Config{Environment: env}
		if got := cfg.IsProduction(); got != want {
			t.Errorf("IsProduction(%q) = %v, want %v", env, got, want)
		}
	}
}

func TestGetTimeout_Fallbacks(t *testing.T) {
	p := ProviderConfig{Timeout: "garbage"}
	assert.Equal(t, 30*time.Second, p.GetTimeout())

	pc := PricingConfig{}
	assert.Equal(t, 30*time.Second, pc.GetTimeout())
	assert.Equal(t, FreshnessMonthEndPrice, pc.GetCacheTTL())
}

func TestCurrencyHelpers(t *testing.T) {
	assert.True(t, IsKnownCurrency("usd"))
	assert.True(t, IsKnownCurrency("JPY"))
	assert.False(t, IsKnownCurrency("US"))
	assert.False(t, IsKnownCurrency("QQQ"))

	assert.Equal(t, int32(2), CurrencyFraction("USD"))
	assert.Equal(t, int32(0), CurrencyFraction("JPY"))
	assert.Equal(t, int32(2), CurrencyFraction("???"))
}
