package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

// CachedLookup memoizes a PriceLookup. Misses are cached for a shorter
// period so a month with no quote is not re-fetched for every track.
type CachedLookup struct {
	source interfaces.PriceLookup
	cache  *cache.Cache
	negTTL time.Duration
	logger *common.Logger
}

type negativeHit struct {
	err error
}

// NewCachedLookup wraps source with an in-memory cache.
func NewCachedLookup(source interfaces.PriceLookup, ttl time.Duration, logger *common.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = common.FreshnessMonthEndPrice
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &CachedLookup{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		negTTL: common.FreshnessNegativeHit,
		logger: logger,
	}
}

// Price implements interfaces.PriceLookup.
func (c *CachedLookup) Price(ctx context.Context, symbol string, date time.Time) (float64, error) {
	key := fmt.Sprintf("px-%s-%s", strings.ToUpper(symbol), date.Format("2006-01-02"))
	if v, found := c.cache.Get(key); found {
		switch hit := v.(type) {
		case float64:
			return hit, nil
		case negativeHit:
			return 0, hit.err
		}
	}

	px, err := c.source.Price(ctx, symbol, date)
	if err != nil {
		// Cancellation and transport failures are not remembered.
		if errors.Is(err, models.ErrPriceNotFound) {
			c.cache.Set(key, negativeHit{err: err}, c.negTTL)
		}
		return 0, err
	}
	c.cache.Set(key, px, cache.DefaultExpiration)
	return px, nil
}

// FXCache resolves currency-to-base rates with memoization. The base
// currency is always 1.0. An unavailable rate defaults to 1.0 and is
// reported with models.ErrFXDefaulted so callers can raise a warning.
type FXCache struct {
	base   string
	source interfaces.FXRates
	cache  *cache.Cache
	logger *common.Logger
}

// NewFXCache creates an FX cache. source may be nil, in which case every
// non-base currency defaults.
func NewFXCache(base string, source interfaces.FXRates, logger *common.Logger) *FXCache {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &FXCache{
		base:   strings.ToUpper(base),
		source: source,
		cache:  cache.New(common.FreshnessFXRate, 2*common.FreshnessFXRate),
		logger: logger,
	}
}

// Base returns the base currency.
func (f *FXCache) Base() string {
	return f.base
}

// Rate implements interfaces.FXRates.
func (f *FXCache) Rate(ctx context.Context, currency string, date time.Time) (float64, error) {
	currency = strings.ToUpper(currency)
	if currency == "" || currency == f.base {
		return 1.0, nil
	}

	key := fmt.Sprintf("rate-%s-%s", currency, date.Format("2006-01-02"))
	if v, found := f.cache.Get(key); found {
		return v.(float64), nil
	}

	if f.source != nil {
		rate, err := f.source.Rate(ctx, currency, date)
		if err == nil && rate > 0 {
			f.cache.Set(key, rate, cache.DefaultExpiration)
			return rate, nil
		}
		if err != nil {
			f.logger.Debug().Err(err).Str("currency", currency).Msg("FX source miss")
		}
	}

	return 1.0, fmt.Errorf("%s into %s on %s: %w", currency, f.base, date.Format("2006-01-02"), models.ErrFXDefaulted)
}
