package models

import "time"

// ProviderRole tells the dedup layer which side of a pair a provider is on.
type ProviderRole string

const (
	RoleAggregator    ProviderRole = "aggregator"
	RoleAuthoritative ProviderRole = "authoritative"
)

// RecordKind is an optional hint on a raw record. Activity records are
// classified by their action field; snapshots are tagged explicitly.
type RecordKind string

const (
	RecordActivity RecordKind = "activity"
	RecordPosition RecordKind = "position"
	RecordBalance  RecordKind = "balance"
)

// RawRecord is a loosely-typed provider row exactly as fetched.
type RawRecord struct {
	Kind   RecordKind     `json:"kind,omitempty"`
	Fields map[string]any `json:"fields"`
}

// FetchMetadata describes what a provider fetch actually covered.
type FetchMetadata struct {
	CoverageStart       time.Time            `json:"coverage_start"`
	CoverageEnd         time.Time            `json:"coverage_end"`
	PaginationExhausted bool                 `json:"pagination_exhausted"`
	FlowsReported       bool                 `json:"flows_reported"` // provider returns deposits/withdrawals for its accounts
	Attempts            int                  `json:"attempts,omitempty"`
	Error               string               `json:"error,omitempty"`
	// AccountCoverage narrows the coverage window for individual accounts,
	// keyed by account id. Accounts not listed use the batch window.
	AccountCoverage     map[string]DateRange `json:"account_coverage,omitempty"`
}

// HasError returns true when the fetch failed.
func (m FetchMetadata) HasError() bool {
	return m.Error != ""
}

// RawBatch is one provider's complete fetch result.
type RawBatch struct {
	Provider    string        `json:"provider"`
	Institution string        `json:"institution"`
	Role        ProviderRole  `json:"role"`
	Format      string        `json:"format"`
	Records     []RawRecord   `json:"records"`
	Meta        FetchMetadata `json:"meta"`
}

// DateRange is an inclusive calendar window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether d falls inside the window (inclusive).
func (r DateRange) Contains(d time.Time) bool {
	d = DateOnly(d)
	return !d.Before(DateOnly(r.Start)) && !d.After(DateOnly(r.End))
}

// Days returns the number of calendar days in the window.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(DateOnly(r.End).Sub(DateOnly(r.Start)).Hours()/24) + 1
}

// IsZero returns true when neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// NormalizedBatch is the output of normalizing one RawBatch.
type NormalizedBatch struct {
	Provider     string                       `json:"provider"`
	Institution  string                       `json:"institution"`
	Role         ProviderRole                 `json:"role"`
	Transactions []NormalizedTransactionEvent `json:"transactions"`
	Flows        []NormalizedFlowEvent        `json:"flows"`
	Income       []IncomeEvent                `json:"income"`
	Balances     []CashBalanceReport          `json:"balances"`
	Positions    []ReportedPosition           `json:"positions"`
	Status       ProviderStatus               `json:"status"`
}
