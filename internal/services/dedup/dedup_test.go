package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/realperf/internal/models"
)

var roles = map[string]models.ProviderRole{
	"plaid": models.RoleAggregator,
	"ibkr":  models.RoleAuthoritative,
}

func fill(seq int, provider string, qty, price float64) models.NormalizedTransactionEvent {
	return models.NormalizedTransactionEvent{
		ID:          provider + "-" + string(rune('a'+seq)),
		Seq:         seq,
		Symbol:      "AAPL",
		Type:        models.EventBuy,
		Date:        time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Quantity:    qty,
		Price:       price,
		Currency:    "USD",
		Provider:    provider,
		Institution: "interactive_brokers",
		Source:      models.SourceObserved,
	}
}

func TestDedup_SameTradeBothFeedsLeavesOne(t *testing.T) {
	out, diag := NewDeduper(nil).Dedup([]models.NormalizedTransactionEvent{
		fill(0, "plaid", 10, 100.001),
		fill(1, "ibkr", 10, 100.0),
	}, roles)

	require.Len(t, out, 1)
	assert.Equal(t, "ibkr", out[0].Provider)
	assert.Equal(t, 1.0, diag.Metrics[models.MetricDedupDroppedCount])
	assert.InDelta(t, 1000.01, diag.Metrics[models.MetricDedupDroppedNotional], 1e-6)
	assert.Empty(t, diag.Warnings)
}

func TestDedup_CardinalityAware(t *testing.T) {
	tests := []struct {
		name        string
		agg, auth   int
		wantAgg     int
		wantWarning bool
	}{
		{"one each", 1, 1, 0, false},
		{"aggregator surplus kept", 2, 1, 1, true},
		{"authoritative surplus", 1, 3, 0, false},
		{"repeated fills both sides", 3, 3, 0, false},
		{"aggregator only", 2, 0, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []models.NormalizedTransactionEvent
			seq := 0
			for i := 0; i < tt.agg; i++ {
				events = append(events, fill(seq, "plaid", 5, 20))
				seq++
			}
			for i := 0; i < tt.auth; i++ {
				events = append(events, fill(seq, "ibkr", 5, 20))
				seq++
			}

			out, diag := NewDeduper(nil).Dedup(events, roles)

			aggLeft, authLeft := 0, 0
			for _, ev := range out {
				if ev.Provider == "plaid" {
					aggLeft++
				} else {
					authLeft++
				}
			}
			assert.Equal(t, tt.wantAgg, aggLeft)
			assert.Equal(t, tt.auth, authLeft, "authoritative events are never removed")
			assert.Equal(t, tt.wantWarning, diag.HasCode(models.CodeDedupAmbiguous))
		})
	}
}

func TestDedup_ScopedToSameInstitution(t *testing.T) {
	other := fill(0, "plaid", 10, 100)
	other.Institution = "schwab"
	out, _ := NewDeduper(nil).Dedup([]models.NormalizedTransactionEvent{other, fill(1, "ibkr", 10, 100)}, roles)
	assert.Len(t, out, 2)
}

func TestDedup_KeyDifferences(t *testing.T) {
	base := fill(1, "ibkr", 10, 100)

	mods := map[string]func(*models.NormalizedTransactionEvent){
		"price cents":  func(e *models.NormalizedTransactionEvent) { e.Price = 100.02 },
		"quantity":     func(e *models.NormalizedTransactionEvent) { e.Quantity = 11 },
		"type":         func(e *models.NormalizedTransactionEvent) { e.Type = models.EventSell },
		"date":         func(e *models.NormalizedTransactionEvent) { e.Date = e.Date.AddDate(0, 0, 1) },
		"currency":     func(e *models.NormalizedTransactionEvent) { e.Currency = "CAD" },
		"symbol":       func(e *models.NormalizedTransactionEvent) { e.Symbol = "AAPL_20240621_C_200" },
		"unknown role": func(e *models.NormalizedTransactionEvent) { e.Provider = "manual" },
	}
	for name, mod := range mods {
		t.Run(name, func(t *testing.T) {
			agg := fill(0, "plaid", 10, 100)
			mod(&agg)
			out, _ := NewDeduper(nil).Dedup([]models.NormalizedTransactionEvent{agg, base}, roles)
			assert.Len(t, out, 2)
		})
	}
}

func TestDedup_Deterministic(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		fill(0, "plaid", 5, 20),
		fill(1, "plaid", 5, 20),
		fill(2, "ibkr", 5, 20),
		fill(3, "plaid", 7, 21),
	}
	first, _ := NewDeduper(nil).Dedup(events, roles)
	second, _ := NewDeduper(nil).Dedup(events, roles)
	assert.Equal(t, first, second)
	// The earliest aggregator copy is the one removed.
	assert.Equal(t, "plaid-b", first[0].ID)
}

func TestDedup_SyntheticIgnored(t *testing.T) {
	syn := fill(0, "plaid", 10, 100)
	syn.Source = models.SourceSynthetic
	out, _ := NewDeduper(nil).Dedup([]models.NormalizedTransactionEvent{syn, fill(1, "ibkr", 10, 100)}, roles)
	assert.Len(t, out, 2)
}

func TestKeyOf(t *testing.T) {
	k := KeyOf(fill(0, "plaid", 100.0000001, 5.005))
	assert.Equal(t, "100", k.Quantity)
	assert.Equal(t, "2024-03-05", k.Date)
	assert.Equal(t, "AAPL", k.Symbol)
	assert.Len(t, k.Price, 4)
}

func TestDedup_SecondPassChangesNothing(t *testing.T) {
	events := []models.NormalizedTransactionEvent{
		fill(0, "plaid", 5, 20),
		fill(1, "plaid", 5, 20),
		fill(2, "ibkr", 5, 20),
	}
	first, diag := NewDeduper(nil).Dedup(events, roles)
	require.Len(t, first, 2)
	assert.True(t, diag.HasCode(models.CodeDedupAmbiguous))
	assert.True(t, first[0].DedupSurplus, "kept aggregator surplus is marked")
	assert.False(t, first[1].DedupSurplus)

	second, diag := NewDeduper(nil).Dedup(first, roles)
	assert.Equal(t, first, second)
	assert.Empty(t, diag.Warnings)
	assert.Zero(t, diag.Metrics[models.MetricDedupDroppedCount])
}

var institutions = map[string]string{
	"plaid": "interactive_brokers",
	"ibkr":  "interactive_brokers",
}

func cashFlow(seq int, provider string, amount float64) models.NormalizedFlowEvent {
	return models.NormalizedFlowEvent{
		ID:         provider + "-flow-" + string(rune('a'+seq)),
		Seq:        seq,
		Date:       time.Date(2024, 1, 2, 10, 15, 0, 0, time.UTC),
		Amount:     amount,
		Currency:   "USD",
		FlowType:   models.FlowContribution,
		IsExternal: true,
		Provider:   provider,
		AccountID:  "U1",
		Confidence: models.ConfidenceProviderReported,
	}
}

func TestDedupFlows_SameDepositBothFeedsLeavesOne(t *testing.T) {
	out, diag := NewDeduper(nil).DedupFlows([]models.NormalizedFlowEvent{
		cashFlow(0, "plaid", 10000.004),
		cashFlow(1, "ibkr", 10000),
	}, roles, institutions)

	require.Len(t, out, 1)
	assert.Equal(t, "ibkr", out[0].Provider)
	assert.Equal(t, 1.0, diag.Metrics[models.MetricDedupFlowDroppedCount])
	assert.InDelta(t, 10000.004, diag.Metrics[models.MetricDedupFlowDroppedAmount], 1e-9)
	assert.Empty(t, diag.Warnings)
}

func TestDedupFlows_KeyDifferences(t *testing.T) {
	mods := map[string]func(*models.NormalizedFlowEvent){
		"amount cents":      func(f *models.NormalizedFlowEvent) { f.Amount = 10000.02 },
		"sign":              func(f *models.NormalizedFlowEvent) { f.Amount = -10000 },
		"date":              func(f *models.NormalizedFlowEvent) { f.Date = f.Date.AddDate(0, 0, 1) },
		"currency":          func(f *models.NormalizedFlowEvent) { f.Currency = "CAD" },
		"flow type":         func(f *models.NormalizedFlowEvent) { f.FlowType = models.FlowTransfer },
		"other institution": func(f *models.NormalizedFlowEvent) { f.Provider = "schwab_agg" },
		"inferred":          func(f *models.NormalizedFlowEvent) { f.Confidence = models.ConfidenceInferred },
	}
	insts := map[string]string{"plaid": "interactive_brokers", "ibkr": "interactive_brokers", "schwab_agg": "schwab"}
	withRoles := map[string]models.ProviderRole{"plaid": models.RoleAggregator, "ibkr": models.RoleAuthoritative, "schwab_agg": models.RoleAggregator}
	for name, mod := range mods {
		t.Run(name, func(t *testing.T) {
			agg := cashFlow(0, "plaid", 10000)
			mod(&agg)
			out, _ := NewDeduper(nil).DedupFlows([]models.NormalizedFlowEvent{agg, cashFlow(1, "ibkr", 10000)}, withRoles, insts)
			assert.Len(t, out, 2)
		})
	}
}

func TestDedupFlows_CardinalityAndSecondPass(t *testing.T) {
	flows := []models.NormalizedFlowEvent{
		cashFlow(0, "plaid", 500),
		cashFlow(1, "plaid", 500),
		cashFlow(2, "plaid", 500),
		cashFlow(3, "ibkr", 500),
		cashFlow(4, "ibkr", 500),
	}
	first, diag := NewDeduper(nil).DedupFlows(flows, roles, institutions)
	require.Len(t, first, 3)
	assert.Equal(t, 2.0, diag.Metrics[models.MetricDedupFlowDroppedCount])
	assert.True(t, diag.HasCode(models.CodeDedupAmbiguous))
	assert.Equal(t, "plaid-flow-c", first[0].ID)
	assert.True(t, first[0].DedupSurplus)

	second, diag := NewDeduper(nil).DedupFlows(first, roles, institutions)
	assert.Equal(t, first, second)
	assert.Empty(t, diag.Warnings)
}

func TestDedupIncome(t *testing.T) {
	dividend := func(seq int, provider string, amount float64) models.IncomeEvent {
		return models.IncomeEvent{
			ID:         provider + "-div-" + string(rune('a'+seq)),
			Seq:        seq,
			Date:       time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			Symbol:     "AAPL",
			Amount:     amount,
			Currency:   "USD",
			IncomeType: models.IncomeDividend,
			Provider:   provider,
			AccountID:  "U1",
		}
	}

	out, diag := NewDeduper(nil).DedupIncome([]models.IncomeEvent{
		dividend(0, "plaid", 24),
		dividend(1, "ibkr", 24),
		dividend(2, "plaid", 3.5),
	}, roles, institutions)

	require.Len(t, out, 2)
	assert.Equal(t, "ibkr", out[0].Provider)
	assert.Equal(t, 3.5, out[1].Amount, "unmatched aggregator income is kept")
	assert.Equal(t, 1.0, diag.Metrics[models.MetricDedupIncomeDroppedCount])
	assert.InDelta(t, 24, diag.Metrics[models.MetricDedupIncomeDroppedAmount], 1e-9)

	interest := dividend(3, "plaid", 24)
	interest.IncomeType = models.IncomeInterest
	out, _ = NewDeduper(nil).DedupIncome([]models.IncomeEvent{interest, dividend(4, "ibkr", 24)}, roles, institutions)
	assert.Len(t, out, 2)
}
