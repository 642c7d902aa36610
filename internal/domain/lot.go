package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a discrete purchased quantity held at a fixed cost basis. Lots are
// created once by a buy and afterwards only have RemainingQty decremented by
// sells. A lot with no remaining quantity is closed but kept for audit.
type Lot struct {
	ID           int64           `json:"id"`
	TradeID      string          `json:"source_trade_id"`
	Symbol       string          `json:"symbol"`
	OriginalQty  decimal.Decimal `json:"original_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	TradedAt     time.Time       `json:"traded_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Open reports whether the lot still has quantity available for matching.
func (l Lot) Open() bool {
	return l.RemainingQty.IsPositive()
}

// NewLot is a lot proposed by the matching engine for a buy event. The
// ledger assigns ID and CreatedAt when it is inserted.
type NewLot struct {
	TradeID     string
	Symbol      string
	Qty         decimal.Decimal
	CostPerUnit decimal.Decimal
	TradedAt    time.Time
}

// LotUpdate decrements the remaining quantity of an existing lot.
type LotUpdate struct {
	LotID     int64
	Decrement decimal.Decimal
	// Before is the remaining quantity the update was computed against.
	Before decimal.Decimal
}

// LotFilter narrows ledger lot queries. An empty Symbol matches all symbols.
type LotFilter struct {
	Symbol   string
	OpenOnly bool
}
