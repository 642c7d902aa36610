package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lotwise/internal/dispatch"
	"github.com/alanyoungcy/lotwise/internal/server"
	"github.com/alanyoungcy/lotwise/internal/server/handler"
	"github.com/alanyoungcy/lotwise/internal/server/ws"
	"github.com/alanyoungcy/lotwise/internal/service"
)

const shutdownTimeout = 10 * time.Second

// WorkerMode consumes the trade stream and applies it to the ledger.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	d := a.newDispatcher(deps, a.newRelay(deps, nil))
	g.Go(func() error {
		return d.Run(ctx)
	})
	return g.Wait()
}

// APIMode serves submissions and ledger reads. Live events reach WebSocket
// clients only through the Redis signal bus.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	if !a.cfg.RunsServer() {
		return fmt.Errorf("app: api mode requires server.enabled")
	}
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "redis disabled; websocket clients will receive no ledger events")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newHub(deps), nil)
	return g.Wait()
}

// FullMode runs the dispatcher, the API and the periodic snapshot export in
// one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.RunsServer() {
		hub = a.newHub(deps)
	}

	// Without a bus the relay feeds the hub directly; with one the hub
	// subscribes to it, so each event reaches clients once.
	var live service.Broadcaster
	if deps.SignalBus == nil && hub != nil {
		live = hub
	}
	d := a.newDispatcher(deps, a.newRelay(deps, live))
	g.Go(func() error {
		return d.Run(ctx)
	})

	if hub != nil {
		a.startHTTPServer(ctx, g, deps, hub, func() any { return d.Stats() })
	}

	if deps.Exporter != nil && a.cfg.S3.ExportInterval.Duration > 0 {
		interval := a.cfg.S3.ExportInterval.Duration
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case t := <-ticker.C:
					if _, err := deps.Exporter.Export(ctx, t); err != nil {
						a.logger.ErrorContext(ctx, "snapshot export failed", slog.String("error", err.Error()))
					}
				}
			}
		})
		a.logger.InfoContext(ctx, "snapshot export scheduled", slog.Duration("interval", interval))
	}

	return g.Wait()
}

// ExportMode writes one ledger snapshot and returns.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	if deps.Exporter == nil {
		return fmt.Errorf("app: export mode requires s3.bucket")
	}
	res, err := deps.Exporter.Export(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("app: export: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot exported",
		slog.String("prefix", res.Prefix),
		slog.Int("lots", res.Lots),
		slog.Int("realized_pnl", res.RealizedPnL),
	)
	return nil
}

// newRelay builds the dispatcher observer. live may be nil.
func (a *App) newRelay(deps *Dependencies, live service.Broadcaster) *service.LedgerEventRelay {
	opts := []service.RelayOption{service.WithAudit(deps.AuditStore)}
	if deps.SignalBus != nil {
		opts = append(opts, service.WithSignalBus(deps.SignalBus))
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		opts = append(opts, service.WithNotifier(deps.Notifier))
	}
	if live != nil {
		opts = append(opts, service.WithBroadcaster(live))
	}
	return service.NewLedgerEventRelay(a.logger, opts...)
}

func (a *App) newDispatcher(deps *Dependencies, relay *service.LedgerEventRelay) *dispatch.Dispatcher {
	dc := a.cfg.Dispatcher
	opts := []dispatch.Option{dispatch.WithObserver(relay)}
	if deps.DeadLetter != nil {
		opts = append(opts, dispatch.WithDeadLetter(deps.DeadLetter))
	}
	if dc.SymbolLock && deps.LockManager != nil {
		opts = append(opts, dispatch.WithSymbolLock(deps.LockManager))
	}
	return dispatch.New(deps.Source, deps.Ledger, dispatch.Config{
		Workers:        dc.Workers,
		MaxInFlight:    dc.MaxInFlight,
		RetryInitial:   dc.RetryInitial.Duration,
		RetryMax:       dc.RetryMax.Duration,
		LockTTL:        dc.SymbolLockTTL.Duration,
		CommitInterval: dc.CommitInterval.Duration,
	}, a.logger, opts...)
}

func (a *App) newHub(deps *Dependencies) *ws.Hub {
	return ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
}

// startHTTPServer runs the hub and the API server on g and shuts the server
// down when ctx ends. stats may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, stats func() any) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, stats, a.logger),
		Ledger: handler.NewLedgerHandler(service.NewLedgerService(deps.Ledger, a.logger), a.logger),
	}
	if deps.Publisher != nil {
		tradeSvc := service.NewTradeService(deps.TradeStore, deps.Publisher, a.logger)
		handlers.Trades = handler.NewTradeHandler(tradeSvc, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		SubmitRateLimit: a.cfg.Server.SubmitRateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
