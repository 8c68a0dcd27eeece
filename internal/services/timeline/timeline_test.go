package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/fifo"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func trade(seq int, typ models.EventType, sym string, d time.Time, qty, price float64) models.NormalizedTransactionEvent {
	return models.NormalizedTransactionEvent{
		ID:              fmt.Sprintf("ev-%d", seq),
		Seq:             seq,
		Symbol:          sym,
		Type:            typ,
		Date:            d,
		Quantity:        qty,
		Price:           price,
		Currency:        "USD",
		InstrumentClass: models.InstrumentEquity,
		Provider:        "ibkr",
		AccountID:       "U1",
		Source:          models.SourceObserved,
	}
}

func build(t *testing.T, events []models.NormalizedTransactionEvent, reported []models.ReportedPosition, inception time.Time) (*Timeline, models.Diagnostics) {
	t.Helper()
	logger := common.NewSilentLogger()
	matched, _ := fifo.NewMatcher(logger).Match(events)
	return NewBuilder(logger).Build(Input{
		Events:    events,
		Matched:   matched,
		Reported:  reported,
		Inception: inception,
	})
}

func longKey(sym string) models.PositionKey {
	return models.PositionKey{Symbol: sym, Currency: "USD", Direction: models.DirectionLong}
}

func TestBuild_SyntheticFromReportedShortfall(t *testing.T) {
	// Reported 100 shares, only 60 bought in history.
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventBuy, "AAPL", date(2024, 3, 5), 60, 150),
	}
	reported := []models.ReportedPosition{{
		Symbol: "AAPL", Quantity: 100, Direction: models.DirectionLong, Currency: "USD",
		InstrumentClass: models.InstrumentEquity, Provider: "ibkr", AccountID: "U1",
	}}
	tl, diag := build(t, events, reported, date(2024, 1, 1))

	syn := tl.Synthetic()
	require.Len(t, syn, 1)
	assert.Equal(t, 40.0, syn[0].Quantity)
	assert.Equal(t, date(2023, 12, 31), syn[0].Date)
	assert.Equal(t, models.SyntheticUnobservedHolding, syn[0].Reason)
	assert.Equal(t, 150.0, syn[0].BasisPrice)
	assert.Equal(t, 1, diag.Count(models.CodeSyntheticOpening))
	assert.Equal(t, 1.0, diag.Metrics[models.MetricSyntheticCount])

	// Enhanced track holds 40 from inception, observed holds nothing until March.
	assert.Equal(t, 40.0, tl.Quantity(longKey("AAPL"), date(2024, 1, 31), true))
	assert.Equal(t, 0.0, tl.Quantity(longKey("AAPL"), date(2024, 1, 31), false))
	assert.Equal(t, 100.0, tl.Quantity(longKey("AAPL"), date(2024, 3, 31), true))
	assert.Equal(t, 60.0, tl.Quantity(longKey("AAPL"), date(2024, 3, 31), false))
}

func TestBuild_SyntheticFromIncompleteTrade(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventSell, "MSFT", date(2024, 2, 10), 10, 400),
	}
	tl, _ := build(t, events, nil, date(2024, 1, 15))

	syn := tl.Synthetic()
	require.Len(t, syn, 1)
	assert.Equal(t, models.SyntheticIncompleteTrade, syn[0].Reason)
	assert.Equal(t, 10.0, syn[0].Quantity)
	assert.Equal(t, date(2024, 1, 14), syn[0].Date)

	assert.Equal(t, 10.0, tl.Quantity(longKey("MSFT"), date(2024, 1, 31), true))
	assert.Equal(t, 0.0, tl.Quantity(longKey("MSFT"), date(2024, 2, 29), true))
	assert.Equal(t, 0.0, tl.Quantity(longKey("MSFT"), date(2024, 2, 29), false))
}

func TestBuild_IncompleteAndReportedCombine(t *testing.T) {
	// Sold 10 never bought, still reported holding 5: 15 existed at inception.
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventSell, "MSFT", date(2024, 2, 10), 10, 400),
	}
	reported := []models.ReportedPosition{{
		Symbol: "MSFT", Quantity: 5, Direction: models.DirectionLong, Currency: "USD",
		InstrumentClass: models.InstrumentEquity, Provider: "ibkr",
	}}
	tl, _ := build(t, events, reported, date(2024, 1, 1))

	require.Len(t, tl.Synthetic(), 2)
	assert.Equal(t, 15.0, tl.Quantity(longKey("MSFT"), date(2024, 1, 31), true))
	assert.Equal(t, 5.0, tl.Quantity(longKey("MSFT"), date(2024, 2, 29), true))
}

func TestBuild_FuturesNeverSynthesized(t *testing.T) {
	ev := trade(0, models.EventSell, "ES", date(2024, 2, 1), 100, 5000)
	ev.InstrumentClass = models.InstrumentFutures
	reported := []models.ReportedPosition{{
		Symbol: "NQ", Quantity: 40, Direction: models.DirectionLong, Currency: "USD",
		InstrumentClass: models.InstrumentFutures, Provider: "ibkr",
	}}
	tl, diag := build(t, []models.NormalizedTransactionEvent{ev}, reported, date(2024, 1, 1))

	assert.Empty(t, tl.Synthetic())
	assert.Equal(t, 2, diag.Count(models.CodeFuturesIncomplete))
	assert.Equal(t, 2.0, diag.Metrics[models.MetricFuturesIncompleteSkipped])
	assert.Equal(t, 0.0, diag.Metrics[models.MetricSyntheticCount])
}

func TestBuild_ReportedAcrossFeedsOfOneInstitution(t *testing.T) {
	reported := []models.ReportedPosition{
		{Symbol: "VTI", Quantity: 30, Direction: models.DirectionLong, Currency: "USD", Provider: "plaid", AccountID: "a"},
		{Symbol: "VTI", Quantity: 30, Direction: models.DirectionLong, Currency: "USD", Provider: "ibkr", AccountID: "U1"},
		{Symbol: "VTI", Quantity: 10, Direction: models.DirectionLong, Currency: "USD", Provider: "schwab", AccountID: "S1"},
		{Symbol: "VTI", Quantity: 5, Direction: models.DirectionLong, Currency: "USD", Provider: "schwab", AccountID: "S2"},
	}
	logger := common.NewSilentLogger()
	tl, _ := NewBuilder(logger).Build(Input{
		Reported: reported,
		Institutions: map[string]string{
			"plaid":  "interactive_brokers",
			"ibkr":   "interactive_brokers",
			"schwab": "schwab",
		},
		Inception: date(2024, 1, 1),
	})

	syn := tl.Synthetic()
	require.Len(t, syn, 1)
	// 30 at IBKR (two feeds) plus 15 across two Schwab accounts.
	assert.Equal(t, 45.0, syn[0].Quantity)
}

func TestBuild_NoShortfallNoSynthetic(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventBuy, "AAPL", date(2024, 1, 5), 100, 150),
	}
	reported := []models.ReportedPosition{{
		Symbol: "AAPL", Quantity: 100, Direction: models.DirectionLong, Currency: "USD", Provider: "ibkr",
	}}
	tl, diag := build(t, events, reported, date(2024, 1, 5))
	assert.Empty(t, tl.Synthetic())
	assert.Equal(t, 0, diag.Count(models.CodeSyntheticOpening))
}

func TestBuild_SyntheticIDsStable(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventSell, "MSFT", date(2024, 2, 10), 10, 400),
	}
	a, _ := build(t, events, nil, date(2024, 1, 1))
	b, _ := build(t, events, nil, date(2024, 1, 1))
	require.Len(t, a.Synthetic(), 1)
	assert.Equal(t, a.Synthetic()[0].ID, b.Synthetic()[0].ID)
	assert.Contains(t, a.Synthetic()[0].ID, "syn_")
}

func TestSnapshotAt_ClampsExcessClose(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventBuy, "AAPL", date(2024, 1, 5), 10, 100),
		trade(1, models.EventSell, "AAPL", date(2024, 1, 20), 25, 110),
	}
	tl, _ := build(t, events, nil, date(2024, 1, 5))

	snap := tl.SnapshotAt(date(2024, 1, 31), false)
	assert.Empty(t, snap.Positions)
	for _, p := range snap.Positions {
		assert.GreaterOrEqual(t, p.Quantity, 0.0)
	}
}

func TestSnapshotAt_AggregatesLotsWithAverageBasis(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventBuy, "AAPL", date(2024, 1, 5), 10, 100),
		trade(1, models.EventBuy, "AAPL", date(2024, 1, 6), 30, 120),
		trade(2, models.EventShort, "TSLA", date(2024, 1, 7), 5, 200),
	}
	tl, _ := build(t, events, nil, date(2024, 1, 5))

	snap := tl.SnapshotAt(date(2024, 1, 31), true)
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "AAPL", snap.Positions[0].Key.Symbol)
	assert.Equal(t, 40.0, snap.Positions[0].Quantity)
	assert.InDelta(t, 115.0, snap.Positions[0].AvgBasis, 1e-9)
	assert.Equal(t, models.DirectionShort, snap.Positions[1].Key.Direction)
	assert.Equal(t, 5.0, snap.Positions[1].Quantity)
}

func TestSnapshotAt_MarginPnLFromClosedFutures(t *testing.T) {
	open := trade(0, models.EventBuy, "ES", date(2024, 1, 5), 100, 5000)
	open.InstrumentClass = models.InstrumentFutures
	cl := trade(1, models.EventSell, "ES", date(2024, 1, 20), 100, 5010)
	cl.InstrumentClass = models.InstrumentFutures
	tl, _ := build(t, []models.NormalizedTransactionEvent{open, cl}, nil, date(2024, 1, 5))

	assert.Empty(t, tl.SnapshotAt(date(2024, 1, 10), false).RealizedMarginPnL)
	snap := tl.SnapshotAt(date(2024, 1, 31), false)
	assert.InDelta(t, 1000.0, snap.RealizedMarginPnL["USD"], 1e-9)
	assert.Empty(t, snap.Positions)
}

func TestObserved_NeverContainsSynthetic(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		trade(0, models.EventSell, "MSFT", date(2024, 2, 10), 10, 400),
	}
	tl, _ := build(t, events, nil, date(2024, 1, 1))
	require.NotEmpty(t, tl.Synthetic())
	for _, ev := range tl.Observed() {
		assert.False(t, ev.IsSynthetic())
	}
	assert.Len(t, tl.Entries(true), 2)
	assert.Len(t, tl.Entries(false), 1)
}
