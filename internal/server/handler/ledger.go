package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/service"
)

// LedgerService is the read-only projection the ledger handler serves.
type LedgerService interface {
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)
	ListRealizedPnL(ctx context.Context, symbol string, opts domain.ListOpts) ([]service.PnLRow, error)
	Summary(ctx context.Context) ([]domain.PnLSummary, error)
}

// LedgerHandler serves positions and realized pnl.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger.With(slog.String("handler", "ledger"))}
}

// ListPositions returns open positions with their weighted average cost.
// GET /api/positions
func (h *LedgerHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.ledger.ListOpenPositions(r.Context())
	if err != nil {
		h.fail(w, r, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListPnL returns realized pnl records ordered by symbol.
// GET /api/pnl?symbol=AAPL&limit=100&offset=0
func (h *LedgerHandler) ListPnL(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.ledger.ListRealizedPnL(r.Context(), r.URL.Query().Get("symbol"), opts)
	if err != nil {
		h.fail(w, r, "list realized pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// PnLSummary returns realized totals per symbol.
// GET /api/pnl/summary
func (h *LedgerHandler) PnLSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "pnl summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *LedgerHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
