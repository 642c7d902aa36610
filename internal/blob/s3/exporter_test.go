package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/store/memory"
)

type fakeWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failOn  string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if path == w.failOn {
		return errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

type auditRecorder struct {
	events []string
}

func (a *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditRecorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func seedLedger(t *testing.T) *memory.Ledger {
	t.Helper()
	l := memory.NewLedger()
	ctx := context.Background()
	err := l.WithSymbol(ctx, "AAPL", func(tx domain.LedgerTx) error {
		lot, err := tx.InsertLot(ctx, domain.NewLot{
			TradeID:     "t1",
			Symbol:      "AAPL",
			Qty:         decimal.NewFromInt(10),
			CostPerUnit: decimal.NewFromInt(100),
			TradedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			return err
		}
		if _, err := tx.InsertLot(ctx, domain.NewLot{
			TradeID:     "t2",
			Symbol:      "AAPL",
			Qty:         decimal.NewFromInt(5),
			CostPerUnit: decimal.NewFromInt(110),
			TradedAt:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			return err
		}
		if err := tx.DecrementLot(ctx, lot.ID, decimal.NewFromInt(4)); err != nil {
			return err
		}
		_, err = tx.InsertRealized(ctx, domain.RealizedPnL{
			SellTradeID:      "t3",
			LotID:            lot.ID,
			Symbol:           "AAPL",
			Qty:              decimal.NewFromInt(4),
			BuyCostPerUnit:   decimal.NewFromInt(100),
			SellPricePerUnit: decimal.NewFromInt(120),
			PnL:              decimal.NewFromInt(80),
		})
		return err
	})
	require.NoError(t, err)
	return l
}

func countLines(t *testing.T, data []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &obj))
		n++
	}
	return n
}

func TestExporterWritesSnapshot(t *testing.T) {
	w := newFakeWriter()
	audit := &auditRecorder{}
	exp := NewExporter(w, seedLedger(t), audit, "ledger", slog.New(slog.NewTextHandler(io.Discard, nil)))

	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))
	res, err := exp.Export(context.Background(), at)
	require.NoError(t, err)

	assert.Equal(t, "ledger/20240304T100607Z", res.Prefix)
	assert.Equal(t, 2, res.Lots)
	assert.Equal(t, 1, res.RealizedPnL)
	assert.Equal(t, at.UTC(), res.At)

	require.Contains(t, w.objects, "ledger/20240304T100607Z/lots.jsonl")
	require.Contains(t, w.objects, "ledger/20240304T100607Z/realized_pnl.jsonl")
	require.Contains(t, w.objects, "ledger/20240304T100607Z/manifest.json")
	assert.Equal(t, ndjson, w.types["ledger/20240304T100607Z/lots.jsonl"])
	assert.Equal(t, 2, countLines(t, w.objects["ledger/20240304T100607Z/lots.jsonl"]))
	assert.Equal(t, 1, countLines(t, w.objects["ledger/20240304T100607Z/realized_pnl.jsonl"]))

	var m manifest
	require.NoError(t, json.Unmarshal(w.objects["ledger/20240304T100607Z/manifest.json"], &m))
	assert.Equal(t, 2, m.Lots)
	assert.Len(t, m.Objects, 2)

	assert.Equal(t, []string{"ledger.export"}, audit.events)
}

func TestExporterEmptyLedger(t *testing.T) {
	w := newFakeWriter()
	exp := NewExporter(w, memory.NewLedger(), nil, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := exp.Export(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "snapshots/20240101T000000Z", res.Prefix)
	assert.Zero(t, res.Lots)
	assert.Empty(t, w.objects["snapshots/20240101T000000Z/lots.jsonl"])
}

func TestExporterSkipsManifestOnUploadFailure(t *testing.T) {
	w := newFakeWriter()
	w.failOn = "snapshots/20240101T000000Z/realized_pnl.jsonl"
	audit := &auditRecorder{}
	exp := NewExporter(w, seedLedger(t), audit, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := exp.Export(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.NotContains(t, w.objects, "snapshots/20240101T000000Z/manifest.json")
	assert.Empty(t, audit.events)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
