// Package interfaces defines service contracts for realperf
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/realperf/internal/models"
)

// TransactionFetcher pulls one provider's raw activity for a window.
// Implementations report what they actually covered in RawBatch.Meta.
type TransactionFetcher interface {
	// Name returns the configured provider name
	Name() string

	// Fetch retrieves raw records for the window
	Fetch(ctx context.Context, window models.DateRange) (models.RawBatch, error)
}

// PriceLookup returns a month-end close for a canonical symbol.
// A missing quote is reported as models.ErrPriceNotFound.
type PriceLookup interface {
	Price(ctx context.Context, symbol string, date time.Time) (float64, error)
}

// FXRates returns the rate converting one unit of currency into the base
// currency. When a rate is unavailable implementations may return a
// fallback value together with models.ErrFXDefaulted.
type FXRates interface {
	Rate(ctx context.Context, currency string, date time.Time) (float64, error)
}

// EODOption configures EOD data requests
type EODOption func(*EODParams)

// EODParams holds EOD query parameters
type EODParams struct {
	From  time.Time
	To    time.Time
	Order string // a=ascending, d=descending
}

// WithDateRange sets the date range for EOD query
func WithDateRange(from, to time.Time) EODOption {
	return func(p *EODParams) {
		p.From = from
		p.To = to
	}
}
