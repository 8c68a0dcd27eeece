package timeline

import (
	"sort"
	"time"

	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/fifo"
)

// Timeline holds observed trades and synthetic openings and answers
// position queries at arbitrary dates.
type Timeline struct {
	Inception time.Time

	observed  []models.NormalizedTransactionEvent
	synthetic []models.SyntheticPositionEntry
	matcher   *fifo.Matcher
}

// Synthetic returns a copy of the synthetic entries.
func (t *Timeline) Synthetic() []models.SyntheticPositionEntry {
	out := make([]models.SyntheticPositionEntry, len(t.synthetic))
	copy(out, t.synthetic)
	return out
}

// Observed returns the observed trades in processing order. Synthetic
// entries are never included, so this is the only event source cash
// replay should use.
func (t *Timeline) Observed() []models.NormalizedTransactionEvent {
	out := make([]models.NormalizedTransactionEvent, len(t.observed))
	copy(out, t.observed)
	return out
}

// Entries returns synthetic openings followed by observed trades.
func (t *Timeline) Entries(includeSynthetic bool) []models.NormalizedTransactionEvent {
	out := make([]models.NormalizedTransactionEvent, 0, len(t.synthetic)+len(t.observed))
	if includeSynthetic {
		for _, s := range t.synthetic {
			out = append(out, s.AsEvent())
		}
	}
	return append(out, t.observed...)
}

// SnapshotAt returns the open positions after every event dated on or
// before date. A close larger than the quantity on hand is clamped: the
// position goes to zero, never negative.
func (t *Timeline) SnapshotAt(date time.Time, includeSynthetic bool) models.PositionSnapshot {
	cutoff := models.DateOnly(date)
	var events []models.NormalizedTransactionEvent
	for _, ev := range t.Entries(includeSynthetic) {
		if models.DateOnly(ev.Date).After(cutoff) {
			continue
		}
		events = append(events, ev)
	}

	res, _ := t.matcher.Match(events)

	type agg struct {
		pos   models.OpenPosition
		basis float64
	}
	byKey := make(map[models.PositionKey]*agg)
	for _, lot := range res.Open {
		a, ok := byKey[lot.Key]
		if !ok {
			a = &agg{pos: models.OpenPosition{Key: lot.Key, InstrumentClass: lot.Class}}
			byKey[lot.Key] = a
		}
		a.pos.Quantity += lot.Quantity
		a.basis += lot.Quantity * lot.BasisPrice
		if lot.Source == models.SourceSynthetic {
			a.pos.SyntheticQty += lot.Quantity
		}
	}

	snap := models.PositionSnapshot{
		Date:              cutoff,
		Positions:         make([]models.OpenPosition, 0, len(byKey)),
		RealizedMarginPnL: make(map[string]float64),
	}
	for _, a := range byKey {
		if a.pos.Quantity <= quantityEpsilon {
			continue
		}
		a.pos.AvgBasis = a.basis / a.pos.Quantity
		snap.Positions = append(snap.Positions, a.pos)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Key.String() < snap.Positions[j].Key.String()
	})

	for _, c := range res.Closed {
		if c.Class.IsMargined() {
			snap.RealizedMarginPnL[c.Key.Currency] += c.GrossPnL()
		}
	}
	return snap
}

// Quantity returns the open quantity for key at date.
func (t *Timeline) Quantity(key models.PositionKey, date time.Time, includeSynthetic bool) float64 {
	for _, p := range t.SnapshotAt(date, includeSynthetic).Positions {
		if p.Key == key {
			return p.Quantity
		}
	}
	return 0
}
