// Package memory implements the domain ledger in process memory. It honours
// the same contract as the PostgreSQL ledger: units are serialized per
// symbol, writes are staged until the unit commits, and readers only ever
// observe fully committed units. It backs tests and storage.driver "memory".
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Ledger implements domain.Ledger.
type Ledger struct {
	mu       sync.RWMutex
	lots     map[int64]domain.Lot
	realized []domain.RealizedPnL
	applied  map[string]domain.AppliedEvent

	symbolsMu sync.Mutex
	symbols   map[string]chan struct{}

	lotSeq atomic.Int64
	pnlSeq atomic.Int64
	now    func() time.Time

	clockMu   sync.Mutex
	lastStamp time.Time
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		lots:    make(map[int64]domain.Lot),
		applied: make(map[string]domain.AppliedEvent),
		symbols: make(map[string]chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// stamp returns a creation time that never goes below one already issued,
// so FIFO order survives a wall clock stepping backwards.
func (l *Ledger) stamp() time.Time {
	l.clockMu.Lock()
	defer l.clockMu.Unlock()
	t := l.now()
	if t.Before(l.lastStamp) {
		t = l.lastStamp
	}
	l.lastStamp = t
	return t
}

// symbolSlot returns the single-slot semaphore guarding units of symbol.
func (l *Ledger) symbolSlot(symbol string) chan struct{} {
	l.symbolsMu.Lock()
	defer l.symbolsMu.Unlock()
	slot, ok := l.symbols[symbol]
	if !ok {
		slot = make(chan struct{}, 1)
		l.symbols[symbol] = slot
	}
	return slot
}

// WithSymbol runs fn as one atomic unit for symbol. The unit commits only if
// fn returns nil and ctx is still live.
func (l *Ledger) WithSymbol(ctx context.Context, symbol string, fn func(tx domain.LedgerTx) error) error {
	slot := l.symbolSlot(symbol)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("memory: wait for symbol %s: %w", symbol, ctx.Err())
	}
	defer func() { <-slot }()

	tx := &ledgerTx{
		ledger:     l,
		symbol:     symbol,
		decrements: make(map[int64]decimal.Decimal),
		applied:    make(map[string]domain.AppliedEvent),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: commit %s: %w", symbol, err)
	}
	return l.commit(tx)
}

func (l *Ledger) commit(tx *ledgerTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, dec := range tx.decrements {
		lot, ok := l.lots[id]
		if !ok {
			continue
		}
		lot.RemainingQty = lot.RemainingQty.Sub(dec)
		if lot.RemainingQty.IsNegative() {
			return fmt.Errorf("memory: commit lot %d: %w", id, domain.ErrLedgerConflict)
		}
		l.lots[id] = lot
	}
	for _, lot := range tx.newLots {
		if dec, ok := tx.decrements[lot.ID]; ok {
			lot.RemainingQty = lot.RemainingQty.Sub(dec)
		}
		l.lots[lot.ID] = lot
	}
	l.realized = append(l.realized, tx.realized...)
	for id, ev := range tx.applied {
		l.applied[id] = ev
	}
	return nil
}

// IsApplied reports whether tradeID has been committed.
func (l *Ledger) IsApplied(_ context.Context, tradeID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[tradeID]
	return ok, nil
}

// ListLots returns committed lots matching f, ordered by created_at then id.
func (l *Ledger) ListLots(_ context.Context, f domain.LotFilter) ([]domain.Lot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Lot, 0, len(l.lots))
	for _, lot := range l.lots {
		if f.Symbol != "" && lot.Symbol != f.Symbol {
			continue
		}
		if f.OpenOnly && !lot.Open() {
			continue
		}
		out = append(out, lot)
	}
	sortLots(out)
	return out, nil
}

// ListRealized returns committed pnl records matching f, ordered by symbol
// then id.
func (l *Ledger) ListRealized(_ context.Context, f domain.PnLFilter) ([]domain.RealizedPnL, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.RealizedPnL, 0, len(l.realized))
	for _, rec := range l.realized {
		if f.Symbol != "" && rec.Symbol != f.Symbol {
			continue
		}
		if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && rec.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ID < out[j].ID
	})

	return page(out, f.ListOpts), nil
}

func sortLots(lots []domain.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].CreatedAt.Before(lots[j].CreatedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

// ledgerTx stages the writes of one unit.
type ledgerTx struct {
	ledger     *Ledger
	symbol     string
	newLots    []domain.Lot
	decrements map[int64]decimal.Decimal
	realized   []domain.RealizedPnL
	applied    map[string]domain.AppliedEvent
}

func (tx *ledgerTx) IsApplied(ctx context.Context, tradeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := tx.applied[tradeID]; ok {
		return true, nil
	}
	return tx.ledger.IsApplied(ctx, tradeID)
}

func (tx *ledgerTx) OpenLots(ctx context.Context) ([]domain.Lot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	committed, err := tx.ledger.ListLots(ctx, domain.LotFilter{Symbol: tx.symbol})
	if err != nil {
		return nil, err
	}
	all := append(committed, tx.newLots...)

	out := make([]domain.Lot, 0, len(all))
	for _, lot := range all {
		if dec, ok := tx.decrements[lot.ID]; ok {
			lot.RemainingQty = lot.RemainingQty.Sub(dec)
		}
		if lot.Open() {
			out = append(out, lot)
		}
	}
	sortLots(out)
	return out, nil
}

func (tx *ledgerTx) InsertLot(ctx context.Context, nl domain.NewLot) (domain.Lot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Lot{}, err
	}
	if nl.Symbol != tx.symbol {
		return domain.Lot{}, fmt.Errorf("memory: insert lot for %s in unit for %s: %w", nl.Symbol, tx.symbol, domain.ErrLedgerConflict)
	}
	lot := domain.Lot{
		ID:           tx.ledger.lotSeq.Add(1),
		TradeID:      nl.TradeID,
		Symbol:       nl.Symbol,
		OriginalQty:  nl.Qty,
		RemainingQty: nl.Qty,
		CostPerUnit:  nl.CostPerUnit,
		TradedAt:     nl.TradedAt,
		CreatedAt:    tx.ledger.stamp(),
	}
	tx.newLots = append(tx.newLots, lot)
	return lot, nil
}

func (tx *ledgerTx) DecrementLot(ctx context.Context, lotID int64, qty decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lots, err := tx.OpenLots(ctx)
	if err != nil {
		return err
	}
	for _, lot := range lots {
		if lot.ID != lotID {
			continue
		}
		if lot.RemainingQty.LessThan(qty) {
			return fmt.Errorf("memory: decrement lot %d by %s (remaining %s): %w", lotID, qty, lot.RemainingQty, domain.ErrLedgerConflict)
		}
		tx.decrements[lotID] = tx.decrements[lotID].Add(qty)
		return nil
	}
	return fmt.Errorf("memory: decrement lot %d: %w", lotID, domain.ErrNotFound)
}

func (tx *ledgerTx) InsertRealized(ctx context.Context, rec domain.RealizedPnL) (domain.RealizedPnL, error) {
	if err := ctx.Err(); err != nil {
		return domain.RealizedPnL{}, err
	}
	rec.ID = tx.ledger.pnlSeq.Add(1)
	rec.CreatedAt = tx.ledger.stamp()
	tx.realized = append(tx.realized, rec)
	return rec, nil
}

func (tx *ledgerTx) MarkApplied(ctx context.Context, ev domain.AppliedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	applied, err := tx.IsApplied(ctx, ev.TradeID)
	if err != nil {
		return err
	}
	if applied {
		return fmt.Errorf("memory: mark %s applied: %w", ev.TradeID, domain.ErrAlreadyExists)
	}
	if ev.AppliedAt.IsZero() {
		ev.AppliedAt = tx.ledger.now()
	}
	tx.applied[ev.TradeID] = ev
	return nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
