package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// PnLRow is one realized pnl record as shown to API clients.
type PnLRow struct {
	ID          int64           `json:"id"`
	Symbol      string          `json:"symbol"`
	SellTradeID string          `json:"sell_trade_id"`
	LotID       int64           `json:"lot_id"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Qty         decimal.Decimal `json:"qty"`
	PnL         decimal.Decimal `json:"pnl"`
	CreatedAt   string          `json:"created_at"`
}

// LedgerService is the read-only projection over committed ledger state.
// Nothing is cached; every call recomputes from the ledger.
type LedgerService struct {
	ledger domain.LedgerReader
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService reading from ledger.
func NewLedgerService(ledger domain.LedgerReader, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// ListOpenPositions groups open lots by symbol. AvgCost is weighted by the
// remaining quantity of each lot. Results are ordered by symbol.
func (s *LedgerService) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	lots, err := s.ledger.ListLots(ctx, domain.LotFilter{OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list open lots: %w", err)
	}
	return aggregatePositions(lots), nil
}

func aggregatePositions(lots []domain.Lot) []domain.Position {
	type acc struct {
		qty  decimal.Decimal
		cost decimal.Decimal
	}
	bySymbol := make(map[string]*acc)
	for _, lot := range lots {
		if !lot.Open() {
			continue
		}
		a, ok := bySymbol[lot.Symbol]
		if !ok {
			a = &acc{qty: decimal.Zero, cost: decimal.Zero}
			bySymbol[lot.Symbol] = a
		}
		a.qty = a.qty.Add(lot.RemainingQty)
		a.cost = a.cost.Add(lot.RemainingQty.Mul(lot.CostPerUnit))
	}

	positions := make([]domain.Position, 0, len(bySymbol))
	for symbol, a := range bySymbol {
		positions = append(positions, domain.Position{
			Symbol:  symbol,
			Qty:     a.qty,
			AvgCost: a.cost.Div(a.qty),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// ListRealizedPnL returns realized records ordered by symbol then id,
// optionally narrowed to one symbol.
func (s *LedgerService) ListRealizedPnL(ctx context.Context, symbol string, opts domain.ListOpts) ([]PnLRow, error) {
	recs, err := s.ledger.ListRealized(ctx, domain.PnLFilter{
		Symbol:   domain.NormalizeSymbol(symbol),
		ListOpts: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list realized pnl: %w", err)
	}

	rows := make([]PnLRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, PnLRow{
			ID:          r.ID,
			Symbol:      r.Symbol,
			SellTradeID: r.SellTradeID,
			LotID:       r.LotID,
			BuyPrice:    r.BuyCostPerUnit,
			SellPrice:   r.SellPricePerUnit,
			Qty:         r.Qty,
			PnL:         r.PnL,
			CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return rows, nil
}

// Summary totals realized pnl per symbol.
func (s *LedgerService) Summary(ctx context.Context) ([]domain.PnLSummary, error) {
	recs, err := s.ledger.ListRealized(ctx, domain.PnLFilter{})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: summary: %w", err)
	}

	var out []domain.PnLSummary
	for _, r := range recs {
		// Records arrive grouped by symbol.
		if n := len(out); n == 0 || out[n-1].Symbol != r.Symbol {
			out = append(out, domain.PnLSummary{Symbol: r.Symbol, Qty: decimal.Zero, Realized: decimal.Zero})
		}
		last := &out[len(out)-1]
		last.Qty = last.Qty.Add(r.Qty)
		last.Realized = last.Realized.Add(r.PnL)
		last.Records++
	}
	if out == nil {
		out = []domain.PnLSummary{}
	}
	return out, nil
}
