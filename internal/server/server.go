// Package server is the HTTP and WebSocket API of lotwise.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/server/handler"
	"github.com/alanyoungcy/lotwise/internal/server/middleware"
	"github.com/alanyoungcy/lotwise/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables authentication on every route except health when set.
	APIKey string
	// SubmitRateLimit caps POST /api/trades per client IP per minute. Zero
	// disables the limit.
	SubmitRateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Trades is nil
// when the process cannot publish (no event stream configured).
type Handlers struct {
	Health *handler.HealthHandler
	Trades *handler.TradeHandler
	Ledger *handler.LedgerHandler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging and
// auth middleware. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Trades != nil {
		var submit http.Handler = http.HandlerFunc(handlers.Trades.SubmitTrade)
		if limiter != nil && cfg.SubmitRateLimit > 0 {
			submit = middleware.RateLimit(limiter, "submit", cfg.SubmitRateLimit, time.Minute, logger)(submit)
		}
		mux.Handle("POST /api/trades", submit)
		mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	}

	mux.HandleFunc("GET /api/positions", handlers.Ledger.ListPositions)
	mux.HandleFunc("GET /api/pnl", handlers.Ledger.ListPnL)
	mux.HandleFunc("GET /api/pnl/summary", handlers.Ledger.PnLSummary)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
