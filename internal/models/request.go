package models

import "time"

// PerformanceRequest describes one computation.
type PerformanceRequest struct {
	// Start is optional; inception is derived from the earliest event.
	Start        time.Time `json:"start,omitempty"`
	End          time.Time `json:"end"`
	BaseCurrency string    `json:"base_currency,omitempty"`
	// Providers restricts Run to a subset of configured providers.
	Providers []string `json:"providers,omitempty"`
}

// Window returns the fetch window for the request.
func (r PerformanceRequest) Window() DateRange {
	return DateRange{Start: r.Start, End: r.End}
}

// PricePoint is one close for a canonical symbol.
type PricePoint struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
}

// FXPoint is one rate into the base currency.
type FXPoint struct {
	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`
	Rate     float64   `json:"rate"`
}

// InputBundle is the self-contained payload accepted by the CLI and the
// HTTP API: pre-fetched provider batches plus optional price and FX tables.
type InputBundle struct {
	Request PerformanceRequest `json:"request"`
	Batches []RawBatch         `json:"batches"`
	Prices  []PricePoint       `json:"prices,omitempty"`
	FXRates []FXPoint          `json:"fx_rates,omitempty"`
}
