package models

import "time"

// Track names the two NAV variants computed per run.
type Track string

const (
	// TrackEnhanced includes synthetic positions in the opening value.
	TrackEnhanced Track = "enhanced"
	// TrackObserved uses only observed history.
	TrackObserved Track = "observed"
)

// FlowBreakdown splits a month's activity by category, in base currency.
type FlowBreakdown struct {
	Contributions     float64 `json:"contributions"`
	Withdrawals       float64 `json:"withdrawals"` // negative
	InferredFlows     float64 `json:"inferred_flows"`
	Fees              float64 `json:"fees"` // negative: trade fees plus fee flows
	Income            float64 `json:"income"`
	InternalTransfers float64 `json:"internal_transfers"`
	RealizedPnL       float64 `json:"realized_pnl"`
}

// UnpricedSymbol records a position valued at zero (or carried forward)
// because no price was available.
type UnpricedSymbol struct {
	Symbol string  `json:"symbol"`
	Reason string  `json:"reason"`
	Qty    float64 `json:"quantity"`
}

// MonthlyNAVSnapshot is one month of one track.
type MonthlyNAVSnapshot struct {
	Month           string           `json:"month"` // YYYY-MM
	PeriodStart     time.Time        `json:"period_start"`
	PeriodEnd       time.Time        `json:"period_end"`
	StartValue      float64          `json:"start_value"`
	EndValue        float64          `json:"end_value"`
	NetFlow         float64          `json:"net_flow"`
	WeightedFlow    float64          `json:"weighted_flow"`
	Return          float64          `json:"return"` // fraction, 0.10 == 10%
	CashBalance     float64          `json:"cash_balance"`
	PositionsValue  float64          `json:"positions_value"`
	MarginPnL       float64          `json:"margin_pnl"`
	FuturesNotional float64          `json:"futures_notional"` // reported exposure, not part of NAV
	SyntheticValue  float64          `json:"synthetic_value"`
	Breakdown       FlowBreakdown    `json:"breakdown"`
	Unpriced        []UnpricedSymbol `json:"unpriced,omitempty"`
	Degenerate      bool             `json:"degenerate,omitempty"`
}

// TrackResult is the full monthly series for one track plus its
// compounded summaries.
type TrackResult struct {
	Track            Track                `json:"track"`
	Months           []MonthlyNAVSnapshot `json:"months"`
	CumulativeReturn float64              `json:"cumulative_return"` // chain-linked TWR
	AnnualizedReturn float64              `json:"annualized_return"`
	XIRR             float64              `json:"xirr"`
}

// Final returns the last monthly snapshot, or the zero value.
func (t TrackResult) Final() MonthlyNAVSnapshot {
	if len(t.Months) == 0 {
		return MonthlyNAVSnapshot{}
	}
	return t.Months[len(t.Months)-1]
}

// PerformanceResult is what a run returns to callers.
type PerformanceResult struct {
	RunID         string                   `json:"run_id"`
	BaseCurrency  string                   `json:"base_currency"`
	Period        DateRange                `json:"period"`
	Inception     time.Time                `json:"inception"`
	Selected      Track                    `json:"selected_track"`
	Enhanced      TrackResult              `json:"enhanced"`
	Observed      TrackResult              `json:"observed"`
	ClosedLots    []ClosedLot              `json:"closed_lots"`
	OpenLots      []Lot                    `json:"open_lots"`
	Incomplete    []IncompleteTrade        `json:"incomplete_trades"`
	Synthetic     []SyntheticPositionEntry `json:"synthetic_positions"`
	InferredFlows []NormalizedFlowEvent    `json:"inferred_flows"`
	Diagnostics   Diagnostics              `json:"diagnostics"`
	ComputedAt    time.Time                `json:"computed_at"`
}

// SelectedTrack returns the track chosen by the selection policy.
func (r PerformanceResult) SelectedTrack() TrackResult {
	if r.Selected == TrackObserved {
		return r.Observed
	}
	return r.Enhanced
}
