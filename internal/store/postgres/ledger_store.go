package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// LedgerStore implements domain.Ledger. Each unit is one transaction that
// first takes a transaction-scoped advisory lock on the symbol, so units for
// the same symbol serialize even across processes while other symbols
// proceed in parallel.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// WithSymbol runs fn inside a transaction holding the symbol's advisory lock.
// The transaction commits only when fn returns nil.
func (s *LedgerStore) WithSymbol(ctx context.Context, symbol string, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin unit %s: %w", symbol, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := runUnit(ctx, tx, symbol, fn); err != nil {
		return err
	}
	committed = true
	return nil
}

// runUnit takes the symbol lock on tx, runs fn and commits.
func runUnit(ctx context.Context, tx pgx.Tx, symbol string, fn func(tx domain.LedgerTx) error) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "lots:"+symbol); err != nil {
		return fmt.Errorf("postgres: lock symbol %s: %w", symbol, err)
	}

	if err := fn(&ledgerTx{tx: tx, symbol: symbol}); err != nil {
		return unitError(symbol, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit unit %s: %w", symbol, err)
	}
	return nil
}

// unitError marks data exceptions as permanent: retrying a value the
// schema rejects can never succeed.
func unitError(symbol string, err error) error {
	if isDataException(err) {
		return fmt.Errorf("postgres: unit %s: %w: %w", symbol, domain.ErrInvalidEvent, err)
	}
	return err
}

// IsApplied reports whether tradeID has a committed applied marker.
func (s *LedgerStore) IsApplied(ctx context.Context, tradeID string) (bool, error) {
	return isApplied(ctx, s.pool, tradeID)
}

// ListLots returns lots matching f in FIFO order.
func (s *LedgerStore) ListLots(ctx context.Context, f domain.LotFilter) ([]domain.Lot, error) {
	query := `SELECT ` + lotSelectCols + ` FROM lots WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.OpenOnly {
		query += " AND remaining_qty > 0"
	}
	query += " ORDER BY symbol, created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots: %w", err)
	}
	defer rows.Close()

	lots, err := scanLotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots: %w", err)
	}
	return lots, nil
}

// ListRealized returns realized pnl records ordered by symbol then id.
func (s *LedgerStore) ListRealized(ctx context.Context, f domain.PnLFilter) ([]domain.RealizedPnL, error) {
	query := `SELECT id, sell_trade_id, lot_id, symbol, qty::text, buy_cost_per_unit::text,
		sell_price_per_unit::text, pnl::text, created_at
		FROM realized_pnl WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY symbol, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list realized pnl: %w", err)
	}
	defer rows.Close()

	out := []domain.RealizedPnL{}
	for rows.Next() {
		var (
			r                         domain.RealizedPnL
			qty, cost, price, pnlText string
		)
		if err := rows.Scan(&r.ID, &r.SellTradeID, &r.LotID, &r.Symbol,
			&qty, &cost, &price, &pnlText, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan realized pnl: %w", err)
		}
		if err := parseDecimals(
			decimalField{qty, &r.Qty},
			decimalField{cost, &r.BuyCostPerUnit},
			decimalField{price, &r.SellPricePerUnit},
			decimalField{pnlText, &r.PnL},
		); err != nil {
			return nil, fmt.Errorf("postgres: realized pnl %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list realized pnl rows: %w", err)
	}
	return out, nil
}

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isApplied(ctx context.Context, q querier, tradeID string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM applied_events WHERE trade_id = $1)`, tradeID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check applied %s: %w", tradeID, err)
	}
	return exists, nil
}

const lotSelectCols = `id, trade_id, symbol, original_qty::text, remaining_qty::text,
	cost_per_unit::text, traded_at, created_at`

func scanLotRows(rows pgx.Rows) ([]domain.Lot, error) {
	lots := []domain.Lot{}
	for rows.Next() {
		var (
			l                         domain.Lot
			original, remaining, cost string
			tradedAt                  *time.Time
		)
		if err := rows.Scan(&l.ID, &l.TradeID, &l.Symbol, &original, &remaining,
			&cost, &tradedAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			decimalField{original, &l.OriginalQty},
			decimalField{remaining, &l.RemainingQty},
			decimalField{cost, &l.CostPerUnit},
		); err != nil {
			return nil, fmt.Errorf("lot %d: %w", l.ID, err)
		}
		if tradedAt != nil {
			l.TradedAt = tradedAt.UTC()
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

type decimalField struct {
	text string
	dst  *decimal.Decimal
}

// parseDecimals reads NUMERIC columns selected as ::text without going
// through float64.
func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.text)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", f.text, err)
		}
		*f.dst = d
	}
	return nil
}

// ledgerTx implements domain.LedgerTx on an open pgx transaction.
type ledgerTx struct {
	tx     pgx.Tx
	symbol string
}

func (t *ledgerTx) IsApplied(ctx context.Context, tradeID string) (bool, error) {
	return isApplied(ctx, t.tx, tradeID)
}

// OpenLots locks and returns the symbol's open lots in FIFO order.
func (t *ledgerTx) OpenLots(ctx context.Context) ([]domain.Lot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lotSelectCols+` FROM lots
		WHERE symbol = $1 AND remaining_qty > 0
		ORDER BY created_at, id
		FOR UPDATE`, t.symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: open lots %s: %w", t.symbol, err)
	}
	defer rows.Close()

	lots, err := scanLotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: open lots %s: %w", t.symbol, err)
	}
	return lots, nil
}

func (t *ledgerTx) InsertLot(ctx context.Context, nl domain.NewLot) (domain.Lot, error) {
	if nl.Symbol != t.symbol {
		return domain.Lot{}, fmt.Errorf("postgres: insert lot for %s in unit for %s: %w", nl.Symbol, t.symbol, domain.ErrLedgerConflict)
	}

	var tradedAt *time.Time
	if !nl.TradedAt.IsZero() {
		ts := nl.TradedAt.UTC()
		tradedAt = &ts
	}

	lot := domain.Lot{
		TradeID:      nl.TradeID,
		Symbol:       nl.Symbol,
		OriginalQty:  nl.Qty,
		RemainingQty: nl.Qty,
		CostPerUnit:  nl.CostPerUnit,
		TradedAt:     nl.TradedAt,
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO lots (trade_id, symbol, original_qty, remaining_qty, cost_per_unit, traded_at)
		VALUES ($1, $2, $3, $3, $4, $5)
		RETURNING id, created_at`,
		nl.TradeID, nl.Symbol, nl.Qty.String(), nl.CostPerUnit.String(), tradedAt,
	).Scan(&lot.ID, &lot.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Lot{}, fmt.Errorf("postgres: insert lot %s: %w", nl.TradeID, domain.ErrAlreadyExists)
		}
		return domain.Lot{}, fmt.Errorf("postgres: insert lot %s: %w", nl.TradeID, err)
	}
	return lot, nil
}

func (t *ledgerTx) DecrementLot(ctx context.Context, lotID int64, qty decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE lots SET remaining_qty = remaining_qty - $1
		WHERE id = $2 AND symbol = $3 AND remaining_qty >= $1`,
		qty.String(), lotID, t.symbol,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("postgres: decrement lot %d: %w", lotID, domain.ErrLedgerConflict)
		}
		return fmt.Errorf("postgres: decrement lot %d: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: decrement lot %d by %s: %w", lotID, qty, domain.ErrLedgerConflict)
	}
	return nil
}

func (t *ledgerTx) InsertRealized(ctx context.Context, rec domain.RealizedPnL) (domain.RealizedPnL, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO realized_pnl (sell_trade_id, lot_id, symbol, qty, buy_cost_per_unit, sell_price_per_unit, pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rec.SellTradeID, rec.LotID, rec.Symbol, rec.Qty.String(),
		rec.BuyCostPerUnit.String(), rec.SellPricePerUnit.String(), rec.PnL.String(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return domain.RealizedPnL{}, fmt.Errorf("postgres: insert realized pnl %s/%d: %w", rec.SellTradeID, rec.LotID, err)
	}
	return rec, nil
}

func (t *ledgerTx) MarkApplied(ctx context.Context, ev domain.AppliedEvent) error {
	unmatched := ev.UnmatchedQty
	if unmatched.IsNegative() {
		unmatched = decimal.Zero
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO applied_events (trade_id, symbol, side, unmatched_qty)
		VALUES ($1, $2, $3, $4)`,
		ev.TradeID, ev.Symbol, string(ev.Side), unmatched.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: mark %s applied: %w", ev.TradeID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: mark %s applied: %w", ev.TradeID, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger   = (*LedgerStore)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
