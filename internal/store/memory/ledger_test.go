package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buy(tradeID, qty, cost string) domain.NewLot {
	return domain.NewLot{TradeID: tradeID, Symbol: "AAPL", Qty: dec(qty), CostPerUnit: dec(cost)}
}

func TestWithSymbolCommits(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		if _, err := tx.InsertLot(ctx, buy("b1", "10", "10")); err != nil {
			return err
		}
		return tx.MarkApplied(ctx, domain.AppliedEvent{TradeID: "b1", Symbol: "AAPL", Side: domain.SideBuy})
	})
	require.NoError(t, err)

	lots, err := l.ListLots(ctx, domain.LotFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "b1", lots[0].TradeID)
	assert.True(t, lots[0].RemainingQty.Equal(dec("10")))
	assert.False(t, lots[0].CreatedAt.IsZero())

	applied, err := l.IsApplied(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestWithSymbolRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		_, err := tx.InsertLot(ctx, buy("b1", "10", "10"))
		return err
	}))
	lots, _ := l.ListLots(ctx, domain.LotFilter{})
	lotID := lots[0].ID

	boom := errors.New("crash after first write")
	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		if err := tx.DecrementLot(ctx, lotID, dec("4")); err != nil {
			return err
		}
		if _, err := tx.InsertRealized(ctx, domain.RealizedPnL{SellTradeID: "s1", LotID: lotID, Symbol: "AAPL", Qty: dec("4")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	lots, err = l.ListLots(ctx, domain.LotFilter{})
	require.NoError(t, err)
	assert.True(t, lots[0].RemainingQty.Equal(dec("10")))

	recs, err := l.ListRealized(ctx, domain.PnLFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	applied, _ := l.IsApplied(ctx, "s1")
	assert.False(t, applied)
}

func TestWithSymbolRollsBackOnCancelledContext(t *testing.T) {
	l := NewLedger()
	ctx, cancel := context.WithCancel(context.Background())

	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		if _, err := tx.InsertLot(ctx, buy("b1", "1", "1")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	lots, _ := l.ListLots(context.Background(), domain.LotFilter{})
	assert.Empty(t, lots)
}

func TestTxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		lot, err := tx.InsertLot(ctx, buy("b1", "5", "10"))
		require.NoError(t, err)
		require.NoError(t, tx.DecrementLot(ctx, lot.ID, dec("2")))

		open, err := tx.OpenLots(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.True(t, open[0].RemainingQty.Equal(dec("3")))

		require.NoError(t, tx.MarkApplied(ctx, domain.AppliedEvent{TradeID: "b1"}))
		applied, err := tx.IsApplied(ctx, "b1")
		require.NoError(t, err)
		assert.True(t, applied)
		return nil
	})
	require.NoError(t, err)

	lots, _ := l.ListLots(ctx, domain.LotFilter{})
	require.Len(t, lots, 1)
	assert.True(t, lots[0].RemainingQty.Equal(dec("3")))
	assert.True(t, lots[0].OriginalQty.Equal(dec("5")))
}

func TestDecrementBeyondRemainingConflicts(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		lot, err := tx.InsertLot(ctx, buy("b1", "1", "10"))
		require.NoError(t, err)
		return tx.DecrementLot(ctx, lot.ID, dec("1.5"))
	})
	require.ErrorIs(t, err, domain.ErrLedgerConflict)

	err = l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		return tx.DecrementLot(ctx, 999, dec("1"))
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkAppliedTwiceFails(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	mark := func(tx domain.LedgerTx) error {
		return tx.MarkApplied(ctx, domain.AppliedEvent{TradeID: "t1", Symbol: "AAPL"})
	}

	require.NoError(t, l.WithSymbol(ctx, "AAPL", mark))
	require.ErrorIs(t, l.WithSymbol(ctx, "AAPL", mark), domain.ErrAlreadyExists)
}

func TestOpenLotsIsScopedAndOrdered(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		require.NoError(t, l.WithSymbol(ctx, sym, func(tx domain.LedgerTx) error {
			_, err := tx.InsertLot(ctx, domain.NewLot{TradeID: sym, Symbol: sym, Qty: dec("1"), CostPerUnit: dec("1")})
			return err
		}))
	}

	require.NoError(t, l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		open, err := tx.OpenLots(ctx)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.True(t, open[0].CreatedAt.Before(open[1].CreatedAt))
		for _, lot := range open {
			assert.Equal(t, "AAPL", lot.Symbol)
		}
		return nil
	}))

	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		_, err := tx.InsertLot(ctx, domain.NewLot{TradeID: "x", Symbol: "MSFT", Qty: dec("1"), CostPerUnit: dec("1")})
		return err
	})
	require.ErrorIs(t, err, domain.ErrLedgerConflict)
}

func TestLotOrderSurvivesClockStepBack(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(-2 * time.Hour), base.Add(time.Second)}
	l.now = func() time.Time {
		t := clock[0]
		clock = clock[1:]
		return t
	}

	for _, id := range []string{"b1", "b2", "b3", "b4"} {
		require.NoError(t, l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
			_, err := tx.InsertLot(ctx, buy(id, "1", "10"))
			return err
		}))
	}

	require.NoError(t, l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		open, err := tx.OpenLots(ctx)
		require.NoError(t, err)
		require.Len(t, open, 4)
		for i, want := range []string{"b1", "b2", "b3", "b4"} {
			assert.Equal(t, want, open[i].TradeID)
		}
		for i := 1; i < len(open); i++ {
			assert.False(t, open[i].CreatedAt.Before(open[i-1].CreatedAt))
		}
		assert.Equal(t, base, open[2].CreatedAt)
		return nil
	}))
}

func TestListRealizedFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	for _, sym := range []string{"MSFT", "AAPL", "AAPL"} {
		require.NoError(t, l.WithSymbol(ctx, sym, func(tx domain.LedgerTx) error {
			_, err := tx.InsertRealized(ctx, domain.RealizedPnL{Symbol: sym, Qty: dec("1"), PnL: dec("1")})
			return err
		}))
	}

	all, err := l.ListRealized(ctx, domain.PnLFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AAPL", all[0].Symbol)
	assert.Equal(t, "MSFT", all[2].Symbol)

	msft, err := l.ListRealized(ctx, domain.PnLFilter{Symbol: "MSFT"})
	require.NoError(t, err)
	assert.Len(t, msft, 1)

	page, err := l.ListRealized(ctx, domain.PnLFilter{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "AAPL", page[0].Symbol)

	empty, err := l.ListRealized(ctx, domain.PnLFilter{ListOpts: domain.ListOpts{Offset: 10}})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnitsForSameSymbolSerialize(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		_, err := tx.InsertLot(ctx, buy("b1", "100", "1"))
		return err
	}))
	lots, _ := l.ListLots(ctx, domain.LotFilter{})
	lotID := lots[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
				return tx.DecrementLot(ctx, lotID, dec("1"))
			})
		}()
	}
	wg.Wait()

	lots, _ = l.ListLots(ctx, domain.LotFilter{})
	assert.True(t, lots[0].RemainingQty.IsZero(), "remaining %s", lots[0].RemainingQty)
}

func TestWithSymbolWaitRespectsContext(t *testing.T) {
	l := NewLedger()
	hold := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = l.WithSymbol(context.Background(), "AAPL", func(domain.LedgerTx) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithSymbol(ctx, "AAPL", func(domain.LedgerTx) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}
