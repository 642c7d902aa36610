package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/matching"
)

// TradeService accepts trade submissions at the edge of the system: it
// validates them, publishes them onto the event stream and records them. The
// ledger is only ever changed by the dispatcher consuming that stream.
type TradeService struct {
	trades    domain.TradeStore
	publisher domain.TradePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	trades domain.TradeStore,
	publisher domain.TradePublisher,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades:    trades,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "trade_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates req, assigns it a new id and publishes it. Malformed
// submissions return an error wrapping domain.ErrInvalidTrade and never reach
// the stream.
func (s *TradeService) Submit(ctx context.Context, req domain.TradeRequest) (domain.TradeEvent, error) {
	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		Symbol:    domain.NormalizeSymbol(req.Symbol),
		Qty:       req.Qty,
		Price:     req.Price,
		Timestamp: s.now(),
	}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}

	if err := matching.Validate(ev); err != nil {
		var inv *domain.InvalidEventError
		if errors.As(err, &inv) {
			return domain.TradeEvent{}, fmt.Errorf("%w: %s %s", domain.ErrInvalidTrade, inv.Field, inv.Reason)
		}
		return domain.TradeEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}

	// The stream is the record of truth: a trade that was never published
	// must not be stored, and a published one is accepted even if the
	// submission record fails to write.
	if err := s.publisher.PublishTrade(ctx, ev); err != nil {
		return domain.TradeEvent{}, fmt.Errorf("trade_service: publish %s: %w", ev.ID, err)
	}
	if err := s.trades.Insert(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "published trade not recorded",
			slog.String("trade_id", ev.ID),
			slog.String("symbol", ev.Symbol),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade submitted",
		slog.String("trade_id", ev.ID),
		slog.String("symbol", ev.Symbol),
		slog.String("side", string(ev.Side())),
		slog.String("qty", ev.Qty.String()),
		slog.String("price", ev.Price.String()),
	)
	return ev, nil
}

// ListTrades returns submitted trades, newest first.
func (s *TradeService) ListTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	trades, err := s.trades.List(ctx, domain.NormalizeSymbol(symbol), opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades: %w", err)
	}
	return trades, nil
}
