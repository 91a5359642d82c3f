package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an executed order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeStatus is the execution lifecycle state of an order.
type TradeStatus string

const (
	TradeStatusOpen            TradeStatus = "open"
	TradeStatusPartiallyFilled TradeStatus = "partially_filled"
	TradeStatusFilled          TradeStatus = "filled"
	TradeStatusCancelled       TradeStatus = "cancelled"
	TradeStatusRejected        TradeStatus = "rejected"
)

// IsTerminal reports whether the order can no longer change.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusFilled, TradeStatusCancelled, TradeStatusRejected:
		return true
	}
	return false
}

// TradeRecord is one executed order as written by the execution layer.
// Corresponds to trade_records table.
//
// Once Status is terminal, Side, Symbol, Size, Price, Fee and FilledAt never
// change. Notes is the only field that may be edited afterwards.
type TradeRecord struct {
	OrderID  string          // exchange order id, primary key
	Symbol   string          // instrument, e.g. "BTC-USD"
	Side     Side            // buy | sell
	Size     decimal.Decimal // filled base quantity
	Price    decimal.Decimal // average fill price (quote per base unit)
	Fee      decimal.Decimal // total fee in quote currency
	FilledAt time.Time       // fill timestamp, drives FIFO order
	Status   TradeStatus     // execution state
	Notes    string          // free text, never read by matching
}
