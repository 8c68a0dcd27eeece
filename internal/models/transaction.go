// Package models defines data structures for realperf
package models

import (
	"fmt"
	"time"
)

// EventType is the canonical trade action.
type EventType string

const (
	EventBuy   EventType = "BUY"
	EventSell  EventType = "SELL"
	EventShort EventType = "SHORT"
	EventCover EventType = "COVER"
)

// IsOpening returns true for events that open or add to a position.
func (t EventType) IsOpening() bool {
	return t == EventBuy || t == EventShort
}

// Direction returns the position side this event acts on.
func (t EventType) Direction() Direction {
	if t == EventShort || t == EventCover {
		return DirectionShort
	}
	return DirectionLong
}

// ValidEventType returns true if t is one of the four trade actions.
func ValidEventType(t EventType) bool {
	switch t {
	case EventBuy, EventSell, EventShort, EventCover:
		return true
	}
	return false
}

// InstrumentClass is the discriminant downstream stages dispatch on.
type InstrumentClass string

const (
	InstrumentEquity  InstrumentClass = "equity"
	InstrumentOption  InstrumentClass = "option"
	InstrumentFutures InstrumentClass = "futures"
	InstrumentCash    InstrumentClass = "cash"
)

// IsMargined returns true for instruments whose notional never moves cash.
func (c InstrumentClass) IsMargined() bool {
	return c == InstrumentFutures
}

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// EventSource distinguishes observed provider records from placeholders.
type EventSource string

const (
	SourceObserved  EventSource = "observed"
	SourceSynthetic EventSource = "synthetic"
)

// NormalizedTransactionEvent is the canonical trade record produced by the
// normalizer. It is passed by value and never mutated downstream.
type NormalizedTransactionEvent struct {
	ID              string          `json:"id"`
	Seq             int             `json:"seq"` // input order, used as the same-day tie-break
	Symbol          string          `json:"symbol"`
	Type            EventType       `json:"type"`
	Date            time.Time       `json:"date"`
	Quantity        float64         `json:"quantity"` // pre-multiplied for options and futures
	Price           float64         `json:"price"`    // as quoted
	Fee             float64         `json:"fee"`
	Currency        string          `json:"currency"`
	InstrumentClass InstrumentClass `json:"instrument_class"`
	Provider        string          `json:"provider"`
	Institution     string          `json:"institution,omitempty"`
	AccountID       string          `json:"account_id"`
	ExternalID      string          `json:"external_id,omitempty"`
	Source          EventSource     `json:"source"`
	Derivative      *DerivativeInfo `json:"derivative,omitempty"`
	// DedupSurplus marks an aggregator copy kept because it outnumbered the
	// authoritative side; later dedup passes leave it alone.
	DedupSurplus    bool            `json:"dedup_surplus,omitempty"`
}

// DerivativeInfo carries the option/futures attributes of an event.
type DerivativeInfo struct {
	IsOption   bool      `json:"is_option,omitempty"`
	IsFutures  bool      `json:"is_futures,omitempty"`
	Multiplier float64   `json:"multiplier"`
	Underlying string    `json:"underlying,omitempty"`
	Strike     string    `json:"strike,omitempty"` // normalized, trailing zeros stripped
	Expiry     time.Time `json:"expiry,omitempty"`
	Right      string    `json:"right,omitempty"` // "C" or "P"
}

// Key returns the FIFO/timeline key for the event.
func (e NormalizedTransactionEvent) Key() PositionKey {
	return PositionKey{Symbol: e.Symbol, Currency: e.Currency, Direction: e.Type.Direction()}
}

// Notional returns quantity × price.
func (e NormalizedTransactionEvent) Notional() float64 {
	return e.Quantity * e.Price
}

// IsSynthetic returns true for placeholder entries.
func (e NormalizedTransactionEvent) IsSynthetic() bool {
	return e.Source == SourceSynthetic
}

// PositionKey identifies a lot queue: (ticker, currency, direction).
type PositionKey struct {
	Symbol    string    `json:"symbol"`
	Currency  string    `json:"currency"`
	Direction Direction `json:"direction"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Symbol, k.Currency, k.Direction)
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns the last calendar day of t's month.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}
