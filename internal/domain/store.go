package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerTx is one atomic apply unit scoped to a single symbol. Every read
// sees the committed state of that symbol plus the unit's own writes; no
// other unit for the same symbol can run until this one commits or rolls
// back.
type LedgerTx interface {
	// IsApplied reports whether the trade id was already applied.
	IsApplied(ctx context.Context, tradeID string) (bool, error)
	// OpenLots returns the symbol's lots with remaining quantity, ordered
	// by created_at then id.
	OpenLots(ctx context.Context) ([]Lot, error)
	InsertLot(ctx context.Context, lot NewLot) (Lot, error)
	// DecrementLot reduces a lot's remaining quantity. It fails if the lot
	// does not hold at least qty.
	DecrementLot(ctx context.Context, lotID int64, qty decimal.Decimal) error
	InsertRealized(ctx context.Context, rec RealizedPnL) (RealizedPnL, error)
	MarkApplied(ctx context.Context, ev AppliedEvent) error
}

// LedgerReader exposes committed ledger state to read paths.
type LedgerReader interface {
	ListLots(ctx context.Context, f LotFilter) ([]Lot, error)
	ListRealized(ctx context.Context, f PnLFilter) ([]RealizedPnL, error)
	IsApplied(ctx context.Context, tradeID string) (bool, error)
}

// Ledger owns lot and realized pnl storage. All mutation goes through
// WithSymbol: if fn returns nil the unit commits, otherwise every write made
// through tx is discarded.
type Ledger interface {
	LedgerReader
	WithSymbol(ctx context.Context, symbol string, fn func(tx LedgerTx) error) error
}

// TradeStore persists accepted trade submissions.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeEvent) error
	GetByID(ctx context.Context, id string) (TradeEvent, error)
	List(ctx context.Context, symbol string, opts ListOpts) ([]TradeEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
