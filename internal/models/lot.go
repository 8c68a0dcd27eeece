package models

import "time"

// Lot is an open FIFO lot. Remaining quantity is never negative.
type Lot struct {
	Key          PositionKey     `json:"key"`
	OpenDate     time.Time       `json:"open_date"`
	OpenEventID  string          `json:"open_event_id"`
	Quantity     float64         `json:"quantity"`
	OpenQuantity float64         `json:"open_quantity"` // quantity when the lot was opened
	BasisPrice   float64         `json:"basis_price"`
	OpenFee      float64         `json:"open_fee"` // fee still attributable to the remaining quantity
	Class        InstrumentClass `json:"instrument_class"`
	Source       EventSource     `json:"source"`
}

// ClosedLot is one matched (open, close) portion with its realized P&L.
type ClosedLot struct {
	Key          PositionKey     `json:"key"`
	OpenDate     time.Time       `json:"open_date"`
	CloseDate    time.Time       `json:"close_date"`
	OpenEventID  string          `json:"open_event_id"`
	CloseEventID string          `json:"close_event_id"`
	Quantity     float64         `json:"quantity"`
	BasisPrice   float64         `json:"basis_price"`
	ClosePrice   float64         `json:"close_price"`
	Fees         float64         `json:"fees"`
	RealizedPnL  float64         `json:"realized_pnl"`
	Class        InstrumentClass `json:"instrument_class"`
}

// GrossPnL returns the realized P&L before fees.
func (c ClosedLot) GrossPnL() float64 {
	return (c.ClosePrice - c.BasisPrice) * c.Quantity * c.Key.Direction.Sign()
}

// IncompleteTrade is a close with no matching open lot in the available
// history. It is a flag, not an error.
type IncompleteTrade struct {
	Key               PositionKey     `json:"key"`
	CloseEventID      string          `json:"close_event_id"`
	Date              time.Time       `json:"date"`
	InferredDirection Direction       `json:"inferred_direction"`
	InferredQuantity  float64         `json:"inferred_quantity"`
	ClosePrice        float64         `json:"close_price"`
	Class             InstrumentClass `json:"instrument_class"`
	Provider          string          `json:"provider"`
	AccountID         string          `json:"account_id"`
}
