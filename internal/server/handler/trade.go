package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// maxTradeBody caps the size of a trade submission.
const maxTradeBody = 16 << 10

// TradeService is what the trade handler needs from the service layer.
type TradeService interface {
	Submit(ctx context.Context, req domain.TradeRequest) (domain.TradeEvent, error)
	ListTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeEvent, error)
}

// TradeHandler serves trade submission and history.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trades"))}
}

// SubmitTrade validates and publishes one trade. qty and price are decimal
// strings or JSON numbers; a negative qty is a sell.
// POST /api/trades
func (h *TradeHandler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req domain.TradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTradeBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.trades.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTrade) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "submit trade failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit trade")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type listTradesResponse struct {
	Trades []domain.TradeEvent `json:"trades"`
}

// ListTrades returns submitted trades, newest first.
// GET /api/trades?symbol=AAPL&limit=100&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.trades.ListTrades(r.Context(), strings.TrimSpace(r.URL.Query().Get("symbol")), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
