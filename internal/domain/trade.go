package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade event, derived from the sign of its quantity.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is one immutable buy or sell of a symbol. Qty is signed:
// positive quantities buy, negative quantities sell. ID is assigned by the
// producer and is the idempotency key for the ledger.
type TradeEvent struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Side reports whether the event buys or sells. A zero quantity reports
// SideBuy; such events never pass validation.
func (e TradeEvent) Side() Side {
	if e.Qty.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// AbsQty returns the unsigned quantity of the event.
func (e TradeEvent) AbsQty() decimal.Decimal {
	return e.Qty.Abs()
}

// NormalizeSymbol trims whitespace and upper-cases a ticker so that "aapl "
// and "AAPL" land on the same lots.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// TradeRequest is an unvalidated trade submission, before an ID is assigned.
type TradeRequest struct {
	Symbol    string          `json:"symbol"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp *time.Time      `json:"ts,omitempty"`
}
