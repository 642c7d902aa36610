// Package matching implements FIFO lot matching. Match is a pure function of
// a trade event and the open lots of its symbol: it never touches storage and
// may be retried freely. The caller applies the returned mutation set.
package matching

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Storable range of a NUMERIC column: digits after and before the point.
const (
	MaxScale         = 16383
	MaxIntegerDigits = 131072
)

// Validate checks that an event can be applied: it needs an id and a symbol,
// a non-zero quantity and a strictly positive price, both within the
// storable range.
func Validate(ev domain.TradeEvent) error {
	switch {
	case ev.ID == "":
		return domain.Invalid("", "id", "required")
	case ev.Symbol == "":
		return domain.Invalid(ev.ID, "symbol", "required")
	case ev.Qty.IsZero():
		return domain.Invalid(ev.ID, "qty", "must be non-zero")
	case !ev.Price.IsPositive():
		return domain.Invalid(ev.ID, "price", "must be greater than zero")
	}
	if reason := checkRange(ev.Qty); reason != "" {
		return domain.Invalid(ev.ID, "qty", reason)
	}
	if reason := checkRange(ev.Price); reason != "" {
		return domain.Invalid(ev.ID, "price", reason)
	}
	return nil
}

// checkRange works on the exponent and coefficient length so that values
// like 1e2000000000 are never expanded.
func checkRange(v decimal.Decimal) string {
	exp := int64(v.Exponent())
	digits := int64(v.NumDigits())
	if exp < 0 && -exp > MaxScale {
		return fmt.Sprintf("more than %d digits after the decimal point", MaxScale)
	}
	if digits+exp > MaxIntegerDigits {
		return fmt.Sprintf("more than %d digits before the decimal point", MaxIntegerDigits)
	}
	return ""
}

// Match computes the ledger mutations for ev against the open lots of
// ev.Symbol. Lots are consumed in FIFO order regardless of the order they are
// passed in; closed lots and lots of other symbols are skipped.
//
// A buy yields one new lot. A sell walks the lots oldest first, allocating
// min(need, remaining) from each and emitting one realized pnl record per
// lot touched. Quantity left over once every lot is exhausted is reported in
// Unmatched and has no ledger effect.
func Match(ev domain.TradeEvent, lots []domain.Lot) (domain.MatchResult, error) {
	if err := Validate(ev); err != nil {
		return domain.MatchResult{}, err
	}

	res := domain.MatchResult{Event: ev, Unmatched: decimal.Zero}

	if ev.Qty.IsPositive() {
		res.NewLot = &domain.NewLot{
			TradeID:     ev.ID,
			Symbol:      ev.Symbol,
			Qty:         ev.Qty,
			CostPerUnit: ev.Price,
			TradedAt:    ev.Timestamp,
		}
		return res, nil
	}

	need := ev.Qty.Abs()
	for _, lot := range SortFIFO(lots) {
		if need.IsZero() {
			break
		}
		if !lot.Open() || lot.Symbol != ev.Symbol {
			continue
		}

		alloc := decimal.Min(need, lot.RemainingQty)
		res.Updates = append(res.Updates, domain.LotUpdate{
			LotID:     lot.ID,
			Decrement: alloc,
			Before:    lot.RemainingQty,
		})
		res.Realized = append(res.Realized, domain.RealizedPnL{
			SellTradeID:      ev.ID,
			LotID:            lot.ID,
			Symbol:           ev.Symbol,
			Qty:              alloc,
			BuyCostPerUnit:   lot.CostPerUnit,
			SellPricePerUnit: ev.Price,
			PnL:              alloc.Mul(ev.Price.Sub(lot.CostPerUnit)),
		})
		need = need.Sub(alloc)
	}

	res.Unmatched = need
	return res, nil
}

// SortFIFO returns a copy of lots ordered by created_at ascending, ties
// broken by id ascending.
func SortFIFO(lots []domain.Lot) []domain.Lot {
	out := make([]domain.Lot, len(lots))
	copy(out, lots)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
