package models

import "time"

// SyntheticReason records why a placeholder opening was created.
type SyntheticReason string

const (
	SyntheticUnobservedHolding SyntheticReason = "unobserved_holding"
	SyntheticIncompleteTrade   SyntheticReason = "incomplete_trade"
)

// SyntheticPositionEntry is a placeholder opening for a holding with no
// observed acquisition. It is dated one day before the global portfolio
// inception so it sorts ahead of every observed event, and it never feeds
// cash replay.
type SyntheticPositionEntry struct {
	ID              string          `json:"id"`
	Key             PositionKey     `json:"key"`
	Date            time.Time       `json:"date"`
	Quantity        float64         `json:"quantity"`
	BasisPrice      float64         `json:"basis_price,omitempty"`
	InstrumentClass InstrumentClass `json:"instrument_class"`
	Reason          SyntheticReason `json:"reason"`
}

// AsEvent renders the entry as an opening event tagged synthetic.
func (s SyntheticPositionEntry) AsEvent() NormalizedTransactionEvent {
	t := EventBuy
	if s.Key.Direction == DirectionShort {
		t = EventShort
	}
	return NormalizedTransactionEvent{
		ID:              s.ID,
		Seq:             -1,
		Symbol:          s.Key.Symbol,
		Type:            t,
		Date:            s.Date,
		Quantity:        s.Quantity,
		Price:           s.BasisPrice,
		Currency:        s.Key.Currency,
		InstrumentClass: s.InstrumentClass,
		Provider:        "synthetic",
		Source:          SourceSynthetic,
	}
}

// OpenPosition is an aggregated open holding at a point in time.
type OpenPosition struct {
	Key             PositionKey     `json:"key"`
	Quantity        float64         `json:"quantity"`
	AvgBasis        float64         `json:"avg_basis"`
	InstrumentClass InstrumentClass `json:"instrument_class"`
	SyntheticQty    float64         `json:"synthetic_quantity,omitempty"`
}

// PositionSnapshot is the set of open positions at a boundary date.
type PositionSnapshot struct {
	Date      time.Time      `json:"date"`
	Positions []OpenPosition `json:"positions"`
	// RealizedMarginPnL is the cumulative realized P&L before fees, per
	// currency, of margined instruments closed on or before Date. Their fees
	// are already in the cash replay.
	RealizedMarginPnL map[string]float64 `json:"realized_margin_pnl,omitempty"`
}
