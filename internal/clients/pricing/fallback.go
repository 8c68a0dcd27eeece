package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

// Fallback asks each lookup in turn and returns the first price found.
// Bundle tables go first so shipped closes win over the live service.
type Fallback []interfaces.PriceLookup

// Price implements interfaces.PriceLookup. When every source misses, the
// result wraps ErrPriceNotFound unless some source failed outright, in
// which case that failure is returned.
func (f Fallback) Price(ctx context.Context, symbol string, date time.Time) (float64, error) {
	var lastErr error
	for _, src := range f {
		if src == nil {
			continue
		}
		px, err := src.Price(ctx, symbol, date)
		if err == nil {
			return px, nil
		}
		if lastErr == nil || !errors.Is(err, models.ErrPriceNotFound) {
			lastErr = err
		}
	}
	if lastErr == nil {
		return 0, fmt.Errorf("%s on %s: %w", symbol, date.Format("2006-01-02"), models.ErrPriceNotFound)
	}
	return 0, lastErr
}

// RateFallback asks each FX source in turn.
type RateFallback []interfaces.FXRates

// Rate implements interfaces.FXRates.
func (f RateFallback) Rate(ctx context.Context, currency string, date time.Time) (float64, error) {
	err := fmt.Errorf("no rate for %s", currency)
	for _, src := range f {
		if src == nil {
			continue
		}
		var rate float64
		if rate, err = src.Rate(ctx, currency, date); err == nil {
			return rate, nil
		}
	}
	return 0, err
}
