package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realperf.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewApp_WiresProvidersAndEngine(t *testing.T) {
	path := writeTestConfig(t, `
environment = "test"
base_currency = "usd"

[logging]
level = "disabled"

[[providers]]
name = "ibkr"
format = "ibkr_flex"
institution = "interactive_brokers"
role = "authoritative"
base_url = "http://127.0.0.1:1"
max_retries = 1

[[providers]]
name = "plaid"
format = "plaid"
institution = "interactive_brokers"
role = "aggregator"
`)
	t.Setenv("REALPERF_PRICING_API_KEY", "")
	t.Setenv("EODHD_API_KEY", "")

	a, err := NewApp(path)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "USD", a.Config.BaseCurrency)
	require.Len(t, a.Providers, 1, "providers without base_url are batch-only")
	assert.Equal(t, "ibkr", a.Providers[0].Name())
	assert.Nil(t, a.Prices)
	assert.NotNil(t, a.Engine)
	assert.False(t, a.StartupTime.IsZero())
}

func TestNewApp_LivePricingWhenKeyed(t *testing.T) {
	path := writeTestConfig(t, "[pricing]\napi_key = \"k\"\n")
	a, err := NewApp(path)
	require.NoError(t, err)
	assert.NotNil(t, a.Prices)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	path := writeTestConfig(t, "base_currency = \"NOPE\"\n")
	_, err := NewApp(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.toml", ResolveConfigPath("explicit.toml"))

	t.Setenv("REALPERF_CONFIG", "/etc/realperf.toml")
	assert.Equal(t, "/etc/realperf.toml", ResolveConfigPath(""))
}

func TestNewAppWithConfig_RunsBundles(t *testing.T) {
	a := NewAppWithConfig(common.NewDefaultConfig(), nil)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	res, err := a.Engine.RunBundle(context.Background(), models.InputBundle{
		Request: models.PerformanceRequest{End: end},
		Batches: []models.RawBatch{{
			Provider: "ibkr",
			Format:   "ibkr_flex",
			Meta:     models.FetchMetadata{PaginationExhausted: true, FlowsReported: true},
			Records: []models.RawRecord{{Kind: models.RecordActivity, Fields: map[string]any{
				"type": "Deposits/Withdrawals", "dateTime": "20240102;090000", "amount": 2500.0, "currency": "USD", "accountId": "U1",
			}}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2500.0, res.Enhanced.Final().EndValue)

	_, err = a.Engine.Run(context.Background(), models.PerformanceRequest{End: end})
	assert.True(t, models.IsConfigurationError(err), "no live providers configured")
}
