package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/realperf/internal/models"
)

type point struct {
	date  time.Time
	value float64
}

// series holds date-sorted points per key.
type series struct {
	mu     sync.RWMutex
	points map[string][]point
}

func newSeries() *series {
	return &series{points: make(map[string][]point)}
}

func (s *series) add(key string, date time.Time, value float64) {
	key = strings.ToUpper(strings.TrimSpace(key))
	date = models.DateOnly(date)

	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.points[key]
	i := sort.Search(len(pts), func(i int) bool { return !pts[i].date.Before(date) })
	if i < len(pts) && pts[i].date.Equal(date) {
		pts[i].value = value
		return
	}
	pts = append(pts, point{})
	copy(pts[i+1:], pts[i:])
	pts[i] = point{date: date, value: value}
	s.points[key] = pts
}

// at returns the latest value on or before date, no older than lookback.
func (s *series) at(key string, date time.Time, lookback time.Duration) (float64, bool) {
	key = strings.ToUpper(strings.TrimSpace(key))
	date = models.DateOnly(date)

	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.points[key]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].date.After(date) })
	if i == 0 {
		return 0, false
	}
	p := pts[i-1]
	if lookback > 0 && date.Sub(p.date) > lookback {
		return 0, false
	}
	return p.value, true
}

// Table is an in-memory price table. It serves bundles that ship their
// own closes and tests.
type Table struct {
	prices   *series
	lookback time.Duration
}

// NewTable creates a price table accepting closes up to DefaultLookback old.
func NewTable(points ...models.PricePoint) *Table {
	t := &Table{prices: newSeries(), lookback: DefaultLookback}
	for _, p := range points {
		t.Set(p.Symbol, p.Date, p.Close)
	}
	return t
}

// Set records a close.
func (t *Table) Set(symbol string, date time.Time, px float64) {
	t.prices.add(symbol, date, px)
}

// Price implements interfaces.PriceLookup.
func (t *Table) Price(_ context.Context, symbol string, date time.Time) (float64, error) {
	if v, ok := t.prices.at(symbol, date, t.lookback); ok {
		return v, nil
	}
	return 0, fmt.Errorf("%s on %s: %w", symbol, date.Format("2006-01-02"), models.ErrPriceNotFound)
}

// RateTable is an in-memory FX table quoting currency to base.
type RateTable struct {
	rates *series
}

// NewRateTable creates a rate table. Rates are carried forward without limit.
func NewRateTable(points ...models.FXPoint) *RateTable {
	t := &RateTable{rates: newSeries()}
	for _, p := range points {
		t.Set(p.Currency, p.Date, p.Rate)
	}
	return t
}

// Set records a rate.
func (t *RateTable) Set(currency string, date time.Time, rate float64) {
	t.rates.add(currency, date, rate)
}

// Rate implements interfaces.FXRates. A currency with no rate on or before
// date falls back to its earliest known rate.
func (t *RateTable) Rate(_ context.Context, currency string, date time.Time) (float64, error) {
	if v, ok := t.rates.at(currency, date, 0); ok {
		return v, nil
	}
	key := strings.ToUpper(strings.TrimSpace(currency))
	t.rates.mu.RLock()
	defer t.rates.mu.RUnlock()
	if pts := t.rates.points[key]; len(pts) > 0 {
		return pts[0].value, nil
	}
	return 0, fmt.Errorf("no rate for %s", currency)
}
