package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchResult is the mutation set the matching engine proposes for one event.
// It is applied to the ledger as a single unit or not at all.
type MatchResult struct {
	Event     TradeEvent
	NewLot    *NewLot
	Updates   []LotUpdate
	Realized  []RealizedPnL
	Unmatched decimal.Decimal
}

// MatchedQty is the quantity of a sell allocated against existing lots.
func (r MatchResult) MatchedQty() decimal.Decimal {
	total := decimal.Zero
	for _, u := range r.Updates {
		total = total.Add(u.Decrement)
	}
	return total
}

// RealizedTotal sums the pnl of every realized record in the result.
func (r MatchResult) RealizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Realized {
		total = total.Add(p.PnL)
	}
	return total
}

// AppliedEvent marks a trade event id as applied to the ledger. It is written
// in the same unit as the event's lot and pnl mutations, so a sell that
// matched nothing is still recognised on redelivery.
type AppliedEvent struct {
	TradeID      string
	Symbol       string
	Side         Side
	UnmatchedQty decimal.Decimal
	AppliedAt    time.Time
}
