// Package common provides shared utilities for realperf
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	money "github.com/Rhymond/go-money"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for realperf
type Config struct {
	Environment  string           `toml:"environment"`
	BaseCurrency string           `toml:"base_currency"` // reporting currency for NAV and flows (default "USD")
	Server       ServerConfig     `toml:"server"`
	Pipeline     PipelineConfig   `toml:"pipeline"`
	Providers    []ProviderConfig `toml:"providers"`
	Pricing      PricingConfig    `toml:"pricing"`
	Logging      LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PipelineConfig carries the reconstruction policies. It is handed to each
// stage constructor; stages never read process state themselves.
type PipelineConfig struct {
	// SensitivityThresholdPct is the maximum tolerated gap, in percentage
	// points of cumulative return, between the enhanced and observed-only tracks.
	SensitivityThresholdPct float64 `toml:"sensitivity_threshold_pct"`
	// PreferConservativeTrack selects the lower-return track when the gate trips.
	PreferConservativeTrack bool `toml:"prefer_conservative_track"`
	// InferExternalFlows enables cash-gap inference outside provider flow coverage.
	InferExternalFlows bool `toml:"infer_external_flows"`
	// NegativeCashTolerance is how far (in base currency) replayed cash may dip
	// below zero before an inferred contribution is raised.
	NegativeCashTolerance float64 `toml:"negative_cash_tolerance"`
	// CarryForwardPrices values an unpriced symbol at its last known month-end price.
	CarryForwardPrices      bool               `toml:"carry_forward_prices"`
	DefaultOptionMultiplier float64            `toml:"default_option_multiplier"`
	FuturesMultipliers      map[string]float64 `toml:"futures_multipliers"` // root symbol -> contract multiplier
}

// ProviderConfig describes one brokerage data provider.
type ProviderConfig struct {
	Name        string            `toml:"name"`
	Format      string            `toml:"format"`      // field map: plaid, snaptrade, ibkr_flex, schwab
	Institution string            `toml:"institution"` // e.g. "interactive_brokers"
	Role        string            `toml:"role"`        // "aggregator" or "authoritative"
	BaseURL     string            `toml:"base_url"`
	APIKey      string            `toml:"api_key"`
	RateLimit   int               `toml:"rate_limit"` // requests per second
	Timeout     string            `toml:"timeout"`
	MaxRetries  int               `toml:"max_retries"`
	Fields      map[string]string `toml:"fields"`       // canonical field -> provider field override
	TypeAliases map[string]string `toml:"type_aliases"` // provider action -> BUY/SELL/SHORT/COVER/...
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// PricingConfig holds the EOD price service configuration
type PricingConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
	CacheTTL  string `toml:"cache_ttl"`
}

// GetTimeout parses and returns the timeout duration
func (c *PricingConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL parses and returns the price cache TTL
func (c *PricingConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return FreshnessMonthEndPrice
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:  "development",
		BaseCurrency: "USD",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Pipeline: DefaultPipelineConfig(),
		Pricing: PricingConfig{
			BaseURL:   "https://eodhd.com/api",
			RateLimit: 10,
			Timeout:   "30s",
			CacheTTL:  "24h",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"console"},
		},
	}
}

// DefaultPipelineConfig returns the default reconstruction policies.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SensitivityThresholdPct: 5,
		PreferConservativeTrack: true,
		InferExternalFlows:      true,
		NegativeCashTolerance:   1,
		CarryForwardPrices:      false,
		DefaultOptionMultiplier: 100,
		FuturesMultipliers: map[string]float64{
			"ES":  50,
			"MES": 5,
			"NQ":  20,
			"MNQ": 2,
			"YM":  5,
			"RTY": 50,
			"CL":  1000,
			"GC":  100,
			"SI":  5000,
			"ZN":  1000,
			"ZB":  1000,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("REALPERF_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("REALPERF_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("REALPERF_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("REALPERF_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if bc := os.Getenv("REALPERF_BASE_CURRENCY"); bc != "" {
		config.BaseCurrency = strings.ToUpper(bc)
	}

	for _, name := range []string{"REALPERF_PRICING_API_KEY", "EODHD_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Pricing.APIKey = v
			break
		}
	}

	if v := os.Getenv("REALPERF_SENSITIVITY_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Pipeline.SensitivityThresholdPct = f
		}
	}

	// Per-provider API keys: REALPERF_PROVIDER_<NAME>_API_KEY
	for i := range config.Providers {
		envName := "REALPERF_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(config.Providers[i].Name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envName); v != "" {
			config.Providers[i].APIKey = v
		}
	}
}

// Validate checks the configuration for values the pipeline cannot run without.
func (c *Config) Validate() error {
	c.BaseCurrency = strings.ToUpper(strings.TrimSpace(c.BaseCurrency))
	if !IsKnownCurrency(c.BaseCurrency) {
		return fmt.Errorf("base_currency %q is not a known ISO currency", c.BaseCurrency)
	}
	if c.Pipeline.SensitivityThresholdPct < 0 {
		return fmt.Errorf("pipeline.sensitivity_threshold_pct must not be negative")
	}
	if c.Pipeline.DefaultOptionMultiplier <= 0 {
		c.Pipeline.DefaultOptionMultiplier = 100
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Role {
		case "aggregator", "authoritative":
		default:
			return fmt.Errorf("provider %q: role must be aggregator or authoritative, got %q", p.Name, p.Role)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Provider returns the named provider config, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// IsKnownCurrency reports whether code is an ISO 4217 currency known to go-money.
func IsKnownCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// CurrencyFraction returns the number of minor-unit digits for a currency
// (2 for USD, 0 for JPY). Unknown currencies default to 2.
func CurrencyFraction(code string) int32 {
	if c := money.GetCurrency(strings.ToUpper(code)); c != nil {
		return int32(c.Fraction)
	}
	return 2
}
