package models

import "time"

// FlowType categorizes a provider cash-flow row.
type FlowType string

const (
	FlowContribution FlowType = "contribution"
	FlowWithdrawal   FlowType = "withdrawal"
	FlowFee          FlowType = "fee"
	FlowTransfer     FlowType = "transfer"
	FlowOther        FlowType = "other"
)

// ValidFlowType returns true if t is a known flow type.
func ValidFlowType(t FlowType) bool {
	switch t {
	case FlowContribution, FlowWithdrawal, FlowFee, FlowTransfer, FlowOther:
		return true
	}
	return false
}

// FlowConfidence records where a flow came from.
type FlowConfidence string

const (
	ConfidenceProviderReported FlowConfidence = "provider_reported"
	ConfidenceInferred         FlowConfidence = "inferred"
)

// NormalizedFlowEvent is a cash movement. Amount is signed: positive is an
// inflow to the portfolio, negative an outflow.
type NormalizedFlowEvent struct {
	ID           string         `json:"id"`
	Seq          int            `json:"seq"`
	Date         time.Time      `json:"date"`
	Amount       float64        `json:"amount"`
	Currency     string         `json:"currency"`
	FlowType     FlowType       `json:"flow_type"`
	IsExternal   bool           `json:"is_external_flow"`
	Provider     string         `json:"provider"`
	AccountID    string         `json:"account_id"`
	Confidence   FlowConfidence `json:"confidence"`
	ExternalID   string         `json:"external_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	DedupSurplus bool           `json:"dedup_surplus,omitempty"`
}

// IsInflow returns true when money enters the portfolio.
func (f NormalizedFlowEvent) IsInflow() bool {
	return f.Amount > 0
}

// IncomeType categorizes income events.
type IncomeType string

const (
	IncomeDividend IncomeType = "dividend"
	IncomeInterest IncomeType = "interest"
	IncomeOther    IncomeType = "other"
)

// IncomeEvent is dividend or interest cash credited to an account.
type IncomeEvent struct {
	ID           string     `json:"id"`
	Seq          int        `json:"seq"`
	Date         time.Time  `json:"date"`
	Symbol       string     `json:"symbol,omitempty"`
	Amount       float64    `json:"amount"`
	Currency     string     `json:"currency"`
	IncomeType   IncomeType `json:"income_type"`
	Provider     string     `json:"provider"`
	AccountID    string     `json:"account_id"`
	ExternalID   string     `json:"external_id,omitempty"`
	DedupSurplus bool       `json:"dedup_surplus,omitempty"`
}

// CashBalanceReport is a provider-reported account cash balance at a date.
type CashBalanceReport struct {
	Date      time.Time `json:"date"`
	Balance   float64   `json:"balance"`
	Currency  string    `json:"currency"`
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
}

// ReportedPosition is a provider's view of a current holding.
type ReportedPosition struct {
	Symbol          string          `json:"symbol"`
	Quantity        float64         `json:"quantity"` // unsigned, pre-multiplied
	Direction       Direction       `json:"direction"`
	Currency        string          `json:"currency"`
	InstrumentClass InstrumentClass `json:"instrument_class"`
	Provider        string          `json:"provider"`
	AccountID       string          `json:"account_id"`
	AsOf            time.Time       `json:"as_of"`
}

// Key returns the position key of the reported holding.
func (p ReportedPosition) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Currency: p.Currency, Direction: p.Direction}
}

// AccountRef identifies one account at one provider.
type AccountRef struct {
	Provider  string `json:"provider"`
	AccountID string `json:"account_id"`
}
