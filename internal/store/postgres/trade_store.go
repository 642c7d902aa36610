package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, qty::text, price::text, ts`

func scanTrade(row pgx.Row) (domain.TradeEvent, error) {
	var (
		t          domain.TradeEvent
		qty, price string
	)
	if err := row.Scan(&t.ID, &t.Symbol, &qty, &price, &t.Timestamp); err != nil {
		return domain.TradeEvent{}, err
	}
	if err := parseDecimals(
		decimalField{qty, &t.Qty},
		decimalField{price, &t.Price},
	); err != nil {
		return domain.TradeEvent{}, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}

// Insert records an accepted submission. A second insert of the same id
// returns domain.ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, symbol, qty, price, ts)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Symbol, t.Qty.String(), t.Price.String(), t.Timestamp.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns one trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeEvent{}, fmt.Errorf("postgres: get trade %s: %w", id, domain.ErrNotFound)
		}
		return domain.TradeEvent{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// List returns trades, newest first, optionally narrowed to one symbol.
func (s *TradeStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades := []domain.TradeEvent{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
