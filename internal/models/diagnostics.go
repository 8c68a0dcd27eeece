package models

import (
	"fmt"
	"time"
)

// Warning codes. The kind groups them into the error taxonomy.
const (
	CodeProviderFetchFailed   = "provider_fetch_failed"
	CodePaginationIncomplete  = "pagination_incomplete"
	CodeMalformedRecord       = "malformed_record"
	CodeUnknownCurrency       = "unknown_currency"
	CodeMissingMultiplier     = "missing_multiplier"
	CodeUnsupportedRecord     = "unsupported_record"
	CodeDedupAmbiguous        = "dedup_ambiguous"
	CodeIncompleteTrade       = "incomplete_trade"
	CodeFuturesIncomplete     = "futures_incomplete_skipped"
	CodeSyntheticOpening      = "synthetic_opening"
	CodeFlowInferred          = "flow_inferred"
	CodeFlowIncomeDuplicate   = "flow_income_duplicate"
	CodeSyntheticInCashReplay = "synthetic_in_cash_replay"
	CodePriceNotFound         = "price_not_found"
	CodePricingUnavailable    = "pricing_unavailable"
	CodeStalePrice            = "stale_price"
	CodeFXDefaulted           = "fx_defaulted"
	CodeDegenerateStartValue  = "degenerate_start_value"
	CodeSensitivityDivergence = "sensitivity_divergence"
)

// Policy-impact metric names.
const (
	MetricDedupDroppedCount         = "dedup_dropped_count"
	MetricDedupDroppedNotional      = "dedup_dropped_notional"
	MetricDedupFlowDroppedCount     = "dedup_flow_dropped_count"
	MetricDedupFlowDroppedAmount    = "dedup_flow_dropped_amount"
	MetricDedupIncomeDroppedCount   = "dedup_income_dropped_count"
	MetricDedupIncomeDroppedAmount  = "dedup_income_dropped_amount"
	MetricFlowDedupDroppedCount     = "flow_dedup_dropped_count"
	MetricFlowDedupDroppedAmount    = "flow_dedup_dropped_amount"
	MetricSuppressedFuturesNotional = "suppressed_futures_notional"
	MetricInferredFlowCount         = "inferred_flow_count"
	MetricInferredFlowTotal         = "inferred_flow_total"
	MetricSyntheticCount            = "synthetic_position_count"
	MetricSyntheticValue            = "synthetic_position_value"
	MetricIncompleteTrades          = "incomplete_trade_count"
	MetricFuturesIncompleteSkipped  = "futures_incomplete_skipped"
	MetricUnpricedPositions         = "unpriced_position_count"
	MetricMalformedRecords          = "malformed_record_count"
	MetricUnsupportedRecords        = "unsupported_record_count"
	MetricFXDefaulted               = "fx_defaulted_count"
	MetricSensitivityDivergencePct  = "sensitivity_divergence_pct"
	MetricDegenerateMonths          = "degenerate_month_count"
)

// Warning is one structured diagnostic entry.
type Warning struct {
	Kind    ErrorKind  `json:"kind"`
	Code    string     `json:"code"`
	Stage   string     `json:"stage,omitempty"`
	Message string     `json:"message"`
	Entity  string     `json:"entity,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
}

// ProviderStatus is the per-provider fetch record.
type ProviderStatus struct {
	Provider            string               `json:"provider"`
	Institution         string               `json:"institution,omitempty"`
	Role                ProviderRole         `json:"role"`
	Coverage            DateRange            `json:"coverage"`
	AccountCoverage     map[string]DateRange `json:"account_coverage,omitempty"`
	PaginationExhausted bool                 `json:"pagination_exhausted"`
	FlowsReported       bool                 `json:"flows_reported"`
	Error               string               `json:"error,omitempty"`
	Attempts            int                  `json:"attempts,omitempty"`
	RecordCount         int                  `json:"record_count"`
	TransactionCount    int                  `json:"transaction_count"`
	FlowCount           int                  `json:"flow_count"`
	IncomeCount         int                  `json:"income_count"`
	SkippedRecords      int                  `json:"skipped_records"`
	CoveragePct         float64              `json:"coverage_pct"`
}

// Failed returns true when the provider contributed nothing usable.
func (s ProviderStatus) Failed() bool {
	return s.Error != ""
}

// Diagnostics accumulates warnings, provider status and policy-impact
// metrics. Each stage returns its own value; the engine merges them.
type Diagnostics struct {
	Warnings           []Warning           `json:"warnings"`
	Providers          []ProviderStatus    `json:"providers"`
	PricingCoveragePct float64             `json:"pricing_coverage_pct"`
	Metrics            map[string]float64  `json:"metrics"`
	Summary            *DiagnosticsSummary `json:"summary,omitempty"`
}

// DiagnosticsSummary is a compact view of a run's diagnostics.
type DiagnosticsSummary struct {
	Warnings            int               `json:"warnings"`
	ByKind              map[ErrorKind]int `json:"by_kind"`
	ByCode              map[string]int    `json:"by_code"`
	ProvidersTotal      int               `json:"providers_total"`
	ProvidersFailed     []string          `json:"providers_failed,omitempty"`
	ProviderCoveragePct float64           `json:"provider_coverage_pct"`
	PricingCoveragePct  float64           `json:"pricing_coverage_pct"`
}

// NewDiagnostics returns an empty, ready-to-use Diagnostics.
func NewDiagnostics() Diagnostics {
	return Diagnostics{
		Warnings: []Warning{},
		Metrics:  map[string]float64{},
	}
}

// Warn appends a warning.
func (d *Diagnostics) Warn(kind ErrorKind, code, stage, entity, format string, args ...any) {
	d.Warnings = append(d.Warnings, Warning{
		Kind:    kind,
		Code:    code,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
	})
}

// WarnOn appends a warning tied to a date.
func (d *Diagnostics) WarnOn(date time.Time, kind ErrorKind, code, stage, entity, format string, args ...any) {
	dt := DateOnly(date)
	d.Warnings = append(d.Warnings, Warning{
		Kind:    kind,
		Code:    code,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
		Date:    &dt,
	})
}

// AddMetric adds delta to a named metric.
func (d *Diagnostics) AddMetric(name string, delta float64) {
	if d.Metrics == nil {
		d.Metrics = map[string]float64{}
	}
	d.Metrics[name] += delta
}

// SetMetric overwrites a named metric.
func (d *Diagnostics) SetMetric(name string, value float64) {
	if d.Metrics == nil {
		d.Metrics = map[string]float64{}
	}
	d.Metrics[name] = value
}

// Merge folds other into d. Metrics are summed.
func (d *Diagnostics) Merge(other Diagnostics) {
	d.Warnings = append(d.Warnings, other.Warnings...)
	d.Providers = append(d.Providers, other.Providers...)
	for k, v := range other.Metrics {
		d.AddMetric(k, v)
	}
	if other.PricingCoveragePct != 0 {
		d.PricingCoveragePct = other.PricingCoveragePct
	}
}

// Count returns the number of warnings with the given code.
func (d Diagnostics) Count(code string) int {
	n := 0
	for _, w := range d.Warnings {
		if w.Code == code {
			n++
		}
	}
	return n
}

// HasCode returns true if any warning carries code.
func (d Diagnostics) HasCode(code string) bool {
	return d.Count(code) > 0
}
