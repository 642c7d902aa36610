package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/config"
	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/notify"
	"github.com/alanyoungcy/lotwise/internal/store/memory"
	"github.com/alanyoungcy/lotwise/internal/stream"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// sliceSource replays fixed deliveries on one partition, then reports io.EOF.
type sliceSource struct {
	mu   sync.Mutex
	msgs []domain.Delivery
	next int
}

func (s *sliceSource) add(t *testing.T, id, symbol, qty, price string) {
	t.Helper()
	data, err := stream.EncodeTrade(domain.TradeEvent{
		ID:        id,
		Symbol:    symbol,
		Qty:       decimal.RequireFromString(qty),
		Price:     decimal.RequireFromString(price),
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	s.msgs = append(s.msgs, domain.Delivery{Topic: "trades-topic", Offset: int64(len(s.msgs)), Key: []byte(symbol), Value: data})
}

func (s *sliceSource) Fetch(context.Context) (domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == len(s.msgs) {
		return domain.Delivery{}, io.EOF
	}
	d := s.msgs[s.next]
	s.next++
	return d, nil
}

func (s *sliceSource) Commit(context.Context, domain.Delivery) error { return nil }
func (s *sliceSource) Close() error                                 { return nil }

type stubExporter struct {
	err   error
	calls int
}

func (e *stubExporter) Export(_ context.Context, at time.Time) (domain.ExportResult, error) {
	e.calls++
	if e.err != nil {
		return domain.ExportResult{}, e.err
	}
	return domain.ExportResult{Prefix: "snapshots/x", At: at}, nil
}

func testApp(mode string) *App {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Storage.Driver = "memory"
	return New(&cfg, discard())
}

func TestModeNeeds(t *testing.T) {
	tests := []struct {
		mode                              string
		source, publisher, redis, objects bool
	}{
		{config.ModeFull, true, true, true, true},
		{config.ModeWorker, true, false, true, false},
		{config.ModeAPI, false, true, true, false},
		{config.ModeExport, false, false, false, true},
		{config.ModeMigrate, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			assert.Equal(t, tt.source, needsSource(tt.mode))
			assert.Equal(t, tt.publisher, needsPublisher(tt.mode))
			assert.Equal(t, tt.redis, needsRedis(tt.mode))
			assert.Equal(t, tt.objects, needsS3(tt.mode))
		})
	}
}

func TestWorkerModeDrainsStreamIntoLedger(t *testing.T) {
	src := &sliceSource{}
	src.add(t, "b1", "XYZ", "10", "10")
	src.add(t, "b2", "XYZ", "10", "20")
	src.add(t, "s1", "XYZ", "-15", "30")
	src.add(t, "s2", "ABC", "-1", "5")

	ledger := memory.NewLedger()
	audit := memory.NewAuditStore()
	deps := &Dependencies{
		Ledger:     ledger,
		AuditStore: audit,
		Source:     src,
		Notifier:   notify.NewNotifier(nil, nil, discard()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, testApp(config.ModeWorker).WorkerMode(ctx, deps))
	require.NoError(t, ctx.Err())

	pnl, err := ledger.ListRealized(context.Background(), domain.PnLFilter{Symbol: "XYZ"})
	require.NoError(t, err)
	require.Len(t, pnl, 2)
	assert.True(t, pnl[0].PnL.Equal(decimal.NewFromInt(200)))
	assert.True(t, pnl[1].PnL.Equal(decimal.NewFromInt(50)))

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade.unmatched_sell", entries[0].Event)
}

func TestExportMode(t *testing.T) {
	a := testApp(config.ModeExport)

	err := a.ExportMode(context.Background(), &Dependencies{})
	require.Error(t, err)

	exp := &stubExporter{}
	require.NoError(t, a.ExportMode(context.Background(), &Dependencies{Exporter: exp}))
	assert.Equal(t, 1, exp.calls)

	exp = &stubExporter{err: errors.New("bucket gone")}
	err = a.ExportMode(context.Background(), &Dependencies{Exporter: exp})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestAPIModeRequiresServer(t *testing.T) {
	a := testApp(config.ModeAPI)
	a.cfg.Server.Enabled = false
	err := a.APIMode(context.Background(), &Dependencies{})
	require.Error(t, err)
}
