// Package currency converts amounts into the reporting currency.
package currency

import (
	"context"
	"strings"
	"time"

	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

// Converter converts amounts into the base currency, warning once per
// currency when a rate is unavailable and 1.0 is used instead.
type Converter struct {
	base   string
	rates  interfaces.FXRates
	stage  string
	warned map[string]bool
}

// NewConverter creates a converter. rates may be nil, in which case every
// foreign currency converts at 1.0 with a warning.
func NewConverter(base string, rates interfaces.FXRates, stage string) *Converter {
	return &Converter{
		base:   strings.ToUpper(base),
		rates:  rates,
		stage:  stage,
		warned: make(map[string]bool),
	}
}

// Base returns the reporting currency.
func (c *Converter) Base() string {
	return c.base
}

// Rate returns the multiplier from currency into base on date.
func (c *Converter) Rate(ctx context.Context, currency string, date time.Time, diag *models.Diagnostics) float64 {
	currency = strings.ToUpper(currency)
	if currency == "" || currency == c.base {
		return 1
	}
	var rate float64
	var err error
	if c.rates != nil {
		rate, err = c.rates.Rate(ctx, currency, date)
	}
	if c.rates == nil || err != nil || rate <= 0 {
		rate = 1
		if !c.warned[currency] {
			c.warned[currency] = true
			diag.WarnOn(date, models.KindDataQuality, models.CodeFXDefaulted, c.stage, currency,
				"no %s/%s rate available; converting at 1.0", currency, c.base)
			diag.AddMetric(models.MetricFXDefaulted, 1)
		}
	}
	return rate
}

// ToBase converts amount from currency into base on date.
func (c *Converter) ToBase(ctx context.Context, amount float64, currency string, date time.Time, diag *models.Diagnostics) float64 {
	if amount == 0 {
		return 0
	}
	return amount * c.Rate(ctx, currency, date, diag)
}
