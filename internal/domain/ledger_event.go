package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventKind classifies what happened to a trade event in the dispatcher.
type LedgerEventKind string

const (
	LedgerEventApplied       LedgerEventKind = "applied"
	LedgerEventDuplicate     LedgerEventKind = "duplicate"
	LedgerEventUnmatchedSell LedgerEventKind = "unmatched_sell"
	LedgerEventDeadLettered  LedgerEventKind = "dead_lettered"
	LedgerEventRetry         LedgerEventKind = "retry"
)

// LedgerChannelPattern matches the pub/sub channel of every ledger event kind.
const LedgerChannelPattern = "ledger:*"

// LedgerStream is the capped stream every ledger event is appended to.
const LedgerStream = "ledger:events"

// Channel is the pub/sub channel events of kind k are published on.
func (k LedgerEventKind) Channel() string {
	return "ledger:" + string(k)
}

// LedgerEvent is the observability signal emitted for each processed
// delivery. Unmatched, Matched and Realized are set for applied sells.
type LedgerEvent struct {
	Kind      LedgerEventKind  `json:"kind"`
	TradeID   string           `json:"trade_id,omitempty"`
	Symbol    string           `json:"symbol,omitempty"`
	Side      Side             `json:"side,omitempty"`
	Partition int              `json:"partition"`
	Offset    int64            `json:"offset"`
	Matched   *decimal.Decimal `json:"matched_qty,omitempty"`
	Unmatched *decimal.Decimal `json:"unmatched_qty,omitempty"`
	Realized  *decimal.Decimal `json:"realized_pnl,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Attempt   int              `json:"attempt,omitempty"`
	At        time.Time        `json:"at"`
}
