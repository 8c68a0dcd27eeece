package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/realperf/internal/models"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSummarize(t *testing.T) {
	d := models.NewDiagnostics()
	d.Warn(models.KindProviderFetch, models.CodeProviderFetchFailed, "normalize", "plaid", "timeout")
	d.Warn(models.KindIncompleteTrade, models.CodeIncompleteTrade, "fifo", "AAPL", "sell without buy")
	d.Warn(models.KindIncompleteTrade, models.CodeIncompleteTrade, "fifo", "MSFT", "sell without buy")
	d.Warn(models.KindPricingUnavailable, models.CodePriceNotFound, "nav", "XYZ", "no price")
	d.PricingCoveragePct = 75
	d.Providers = []models.ProviderStatus{
		{Provider: "ibkr", PaginationExhausted: true, Coverage: models.DateRange{Start: date(1, 1), End: date(4, 30)}},
		{Provider: "schwab", PaginationExhausted: true, Coverage: models.DateRange{Start: date(3, 1), End: date(4, 30)}},
		{Provider: "plaid", Error: "failed after 3 attempts: timeout"},
	}
	window := models.DateRange{Start: date(1, 1), End: date(4, 30)}

	s := Summarize(&d, window)

	assert.Equal(t, 4, s.Warnings)
	assert.Equal(t, 2, s.ByKind[models.KindIncompleteTrade])
	assert.Equal(t, 1, s.ByKind[models.KindProviderFetch])
	assert.Equal(t, 2, s.ByCode[models.CodeIncompleteTrade])
	assert.Equal(t, 3, s.ProvidersTotal)
	assert.Equal(t, []string{"plaid"}, s.ProvidersFailed)
	assert.Equal(t, 75.0, s.PricingCoveragePct)

	assert.Equal(t, 100.0, d.Providers[0].CoveragePct)
	assert.InDelta(t, 100*61.0/121.0, d.Providers[1].CoveragePct, 1e-9)
	assert.Equal(t, 0.0, d.Providers[2].CoveragePct)
	assert.InDelta(t, (100+100*61.0/121.0)/3, s.ProviderCoveragePct, 1e-9)

	require.NotNil(t, d.Summary)
	assert.Equal(t, 4, d.Summary.Warnings)
}

func TestSummarize_OpenEndedCoverage(t *testing.T) {
	d := models.NewDiagnostics()
	d.Providers = []models.ProviderStatus{{Provider: "static", PaginationExhausted: true}}
	s := Summarize(&d, models.DateRange{Start: date(1, 1), End: date(1, 31)})
	assert.Equal(t, 100.0, s.ProviderCoveragePct)
	assert.Empty(t, s.ProvidersFailed)
}

func TestSummarize_Empty(t *testing.T) {
	d := models.NewDiagnostics()
	s := Summarize(&d, models.DateRange{Start: date(1, 1), End: date(1, 31)})
	assert.Equal(t, 0, s.Warnings)
	assert.Equal(t, 0, s.ProvidersTotal)
	assert.Equal(t, 0.0, s.ProviderCoveragePct)
}
