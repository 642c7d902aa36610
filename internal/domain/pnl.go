package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RealizedPnL records the profit or loss of one sell matched against one
// lot. PnL = Qty * (SellPricePerUnit - BuyCostPerUnit), stored at full
// precision.
type RealizedPnL struct {
	ID               int64           `json:"id"`
	SellTradeID      string          `json:"sell_trade_id"`
	LotID            int64           `json:"lot_id"`
	Symbol           string          `json:"symbol"`
	Qty              decimal.Decimal `json:"qty"`
	BuyCostPerUnit   decimal.Decimal `json:"buy_cost_per_unit"`
	SellPricePerUnit decimal.Decimal `json:"sell_price_per_unit"`
	PnL              decimal.Decimal `json:"pnl"`
	CreatedAt        time.Time       `json:"created_at"`
}

// PnLFilter narrows realized PnL queries. An empty Symbol matches all symbols.
type PnLFilter struct {
	Symbol string
	ListOpts
}

// Position is the aggregate open holding of one symbol.
type Position struct {
	Symbol  string          `json:"symbol"`
	Qty     decimal.Decimal `json:"qty"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// PnLSummary is the realized total of one symbol.
type PnLSummary struct {
	Symbol   string          `json:"symbol"`
	Qty      decimal.Decimal `json:"qty"`
	Realized decimal.Decimal `json:"realized_pnl"`
	Records  int             `json:"records"`
}
