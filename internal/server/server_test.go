package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/server/handler"
	"github.com/alanyoungcy/lotwise/internal/service"
	"github.com/alanyoungcy/lotwise/internal/store/memory"
)

type nopPublisher struct{ n int }

func (p *nopPublisher) PublishTrade(context.Context, domain.TradeEvent) error {
	p.n++
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type fixture struct {
	ledger    *memory.Ledger
	publisher *nopPublisher
	handler   http.Handler
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := memory.NewLedger()
	pub := &nopPublisher{}

	srv := NewServer(cfg, Handlers{
		Health: handler.NewHealthHandler(checks, func() any { return map[string]int{"applied": 3} }, logger),
		Trades: handler.NewTradeHandler(service.NewTradeService(memory.NewTradeStore(), pub, logger), logger),
		Ledger: handler.NewLedgerHandler(service.NewLedgerService(ledger, logger), logger),
	}, nil, limiter, logger)

	return &fixture{ledger: ledger, publisher: pub, handler: srv.Handler()}
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedLots(t *testing.T, symbol string, lots ...[2]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.WithSymbol(ctx, symbol, func(tx domain.LedgerTx) error {
		for i, l := range lots {
			if _, err := tx.InsertLot(ctx, domain.NewLot{
				TradeID:     symbol + "-" + string(rune('a'+i)),
				Symbol:      symbol,
				Qty:         decimal.RequireFromString(l[0]),
				CostPerUnit: decimal.RequireFromString(l[1]),
				TradedAt:    time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestSubmitTrade(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	rec := f.do(http.MethodPost, "/api/trades", `{"symbol":"aapl","qty":"-3","price":190.5}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got["id"])
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, "-3", got["qty"])
	assert.Equal(t, 1, f.publisher.n)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	list := f.do(http.MethodGet, "/api/trades?symbol=AAPL", "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), got["id"].(string))
}

func TestSubmitTradeRejectsBadInput(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	for name, body := range map[string]string{
		"zero price":    `{"symbol":"AAPL","qty":"1","price":"0"}`,
		"missing qty":   `{"symbol":"AAPL","price":"10"}`,
		"blank symbol":  `{"symbol":" ","qty":"1","price":"10"}`,
		"not a number":  `{"symbol":"AAPL","qty":"abc","price":"10"}`,
		"unknown field": `{"symbol":"AAPL","qty":"1","price":"10","side":"buy"}`,
		"not json":      `qty=1`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/trades", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, f.publisher.n)
}

func TestPositionsAndPnL(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.seedLots(t, "XYZ", [2]string{"10", "10"}, [2]string{"10", "20"})

	rec := f.do(http.MethodGet, "/api/positions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"symbol":"XYZ","qty":"20","avg_cost":"15"}]`, rec.Body.String())

	pnl := f.do(http.MethodGet, "/api/pnl?symbol=XYZ", "", nil)
	require.Equal(t, http.StatusOK, pnl.Code)
	assert.JSONEq(t, `[]`, pnl.Body.String())

	summary := f.do(http.MethodGet, "/api/pnl/summary", "", nil)
	require.Equal(t, http.StatusOK, summary.Code)
	assert.JSONEq(t, `[]`, summary.Body.String())

	bad := f.do(http.MethodGet, "/api/pnl?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/positions", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodGet, "/api/positions", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodGet, "/api/positions", "", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/health", "", nil).Code)
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t, Config{SubmitRateLimit: 1}, denyAll{}, nil)
	rec := f.do(http.MethodPost, "/api/trades", `{"symbol":"AAPL","qty":"1","price":"1"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status     string            `json:"status"`
		Checks     map[string]string `json:"checks"`
		Dispatcher map[string]int    `json:"dispatcher"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.Equal(t, 3, body.Dispatcher["applied"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://app.example.com"}, APIKey: "k"}, nil, nil)
	rec := f.do(http.MethodOptions, "/api/trades", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	other := f.do(http.MethodOptions, "/api/trades", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, other.Header().Get("Access-Control-Allow-Origin"))
}
