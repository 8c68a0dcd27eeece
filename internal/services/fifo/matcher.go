// Package fifo matches closing trades against the oldest open lots
package fifo

import (
	"sort"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

const stage = "fifo"

// quantityEpsilon absorbs float residue from pre-multiplied quantities.
const quantityEpsilon = 1e-9

// Result is the outcome of one matching pass.
type Result struct {
	Open       []models.Lot             `json:"open"`
	Closed     []models.ClosedLot       `json:"closed"`
	Incomplete []models.IncompleteTrade `json:"incomplete"`
}

// OpenQuantity returns the remaining quantity for key.
func (r Result) OpenQuantity(key models.PositionKey) float64 {
	var q float64
	for _, l := range r.Open {
		if l.Key == key {
			q += l.Quantity
		}
	}
	return q
}

// RealizedPnL sums realized P&L per currency. With class set, only lots of
// that instrument class are included.
func (r Result) RealizedPnL(class models.InstrumentClass) map[string]float64 {
	out := make(map[string]float64)
	for _, c := range r.Closed {
		if class != "" && c.Class != class {
			continue
		}
		out[c.Key.Currency] += c.RealizedPnL
	}
	return out
}

// Matcher implements FIFO lot matching.
type Matcher struct {
	logger *common.Logger
}

// NewMatcher creates a matcher.
func NewMatcher(logger *common.Logger) *Matcher {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Matcher{logger: logger}
}

// SortEvents orders events by date with input order breaking same-day ties.
// The input slice is not modified.
func SortEvents(events []models.NormalizedTransactionEvent) []models.NormalizedTransactionEvent {
	sorted := make([]models.NormalizedTransactionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := models.DateOnly(sorted[i].Date), models.DateOnly(sorted[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted
}

// Match runs every event through per-key FIFO queues. A close with no
// open lot left is recorded as an IncompleteTrade; it is never an error.
func (m *Matcher) Match(events []models.NormalizedTransactionEvent) (Result, models.Diagnostics) {
	diag := models.NewDiagnostics()
	queues := make(map[models.PositionKey][]*models.Lot)
	var order []models.PositionKey
	var res Result

	for _, ev := range SortEvents(events) {
		if ev.Quantity <= quantityEpsilon || !models.ValidEventType(ev.Type) {
			continue
		}
		key := ev.Key()

		if ev.Type.IsOpening() {
			if _, ok := queues[key]; !ok {
				order = append(order, key)
			}
			queues[key] = append(queues[key], &models.Lot{
				Key:          key,
				OpenDate:     ev.Date,
				OpenEventID:  ev.ID,
				Quantity:     ev.Quantity,
				OpenQuantity: ev.Quantity,
				BasisPrice:   ev.Price,
				OpenFee:      ev.Fee,
				Class:        ev.InstrumentClass,
				Source:       ev.Source,
			})
			continue
		}

		remaining := ev.Quantity
		queue := queues[key]
		for remaining > quantityEpsilon && len(queue) > 0 {
			lot := queue[0]
			matchQty := remaining
			if lot.Quantity < matchQty {
				matchQty = lot.Quantity
			}

			openFee := lot.OpenFee * matchQty / lot.Quantity
			closeFee := ev.Fee * matchQty / ev.Quantity
			closed := models.ClosedLot{
				Key:          key,
				OpenDate:     lot.OpenDate,
				CloseDate:    ev.Date,
				OpenEventID:  lot.OpenEventID,
				CloseEventID: ev.ID,
				Quantity:     matchQty,
				BasisPrice:   lot.BasisPrice,
				ClosePrice:   ev.Price,
				Fees:         openFee + closeFee,
				Class:        lot.Class,
			}
			closed.RealizedPnL = closed.GrossPnL() - closed.Fees
			res.Closed = append(res.Closed, closed)

			lot.Quantity -= matchQty
			lot.OpenFee -= openFee
			remaining -= matchQty

			if lot.Quantity <= quantityEpsilon {
				queue = queue[1:]
			}
		}
		queues[key] = queue

		if remaining > quantityEpsilon {
			res.Incomplete = append(res.Incomplete, models.IncompleteTrade{
				Key:               key,
				CloseEventID:      ev.ID,
				Date:              ev.Date,
				InferredDirection: key.Direction,
				InferredQuantity:  remaining,
				ClosePrice:        ev.Price,
				Class:             ev.InstrumentClass,
				Provider:          ev.Provider,
				AccountID:         ev.AccountID,
			})
			diag.WarnOn(ev.Date, models.KindIncompleteTrade, models.CodeIncompleteTrade, stage, key.String(),
				"%s of %.4f has no matching open lot for %.4f", ev.Type, ev.Quantity, remaining)
			diag.AddMetric(models.MetricIncompleteTrades, 1)
		}
	}

	for _, key := range order {
		for _, lot := range queues[key] {
			res.Open = append(res.Open, *lot)
		}
	}

	m.logger.Debug().
		Int("events", len(events)).
		Int("closed", len(res.Closed)).
		Int("open", len(res.Open)).
		Int("incomplete", len(res.Incomplete)).
		Msg("FIFO matching complete")

	return res, diag
}
