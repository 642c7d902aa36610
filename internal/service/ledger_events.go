package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

const relayTimeout = 2 * time.Second

// EventNotifier forwards ledger events to operators.
type EventNotifier interface {
	NotifyLedgerEvent(ctx context.Context, ev domain.LedgerEvent) error
}

// Broadcaster pushes a payload to live clients on a channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// LedgerEventRelay fans dispatcher events out to the signal bus, the audit
// log, the notifier and live clients. Every sink is optional. Failures are
// logged and never reach the dispatcher.
type LedgerEventRelay struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier EventNotifier
	live     Broadcaster
	logger   *slog.Logger
}

// RelayOption configures a LedgerEventRelay.
type RelayOption func(*LedgerEventRelay)

// WithSignalBus publishes every event on its kind channel and appends it to
// domain.LedgerStream.
func WithSignalBus(bus domain.SignalBus) RelayOption {
	return func(r *LedgerEventRelay) { r.bus = bus }
}

// WithAudit records dead letters and unmatched sells in the audit log.
func WithAudit(audit domain.AuditStore) RelayOption {
	return func(r *LedgerEventRelay) { r.audit = audit }
}

func WithNotifier(n EventNotifier) RelayOption {
	return func(r *LedgerEventRelay) { r.notifier = n }
}

// WithBroadcaster pushes events straight to live clients. Use it only when no
// signal bus carries events to them.
func WithBroadcaster(b Broadcaster) RelayOption {
	return func(r *LedgerEventRelay) { r.live = b }
}

// NewLedgerEventRelay creates a relay with the given sinks.
func NewLedgerEventRelay(logger *slog.Logger, opts ...RelayOption) *LedgerEventRelay {
	r := &LedgerEventRelay{logger: logger.With(slog.String("component", "ledger_events"))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements dispatch.Observer.
func (r *LedgerEventRelay) Observe(ctx context.Context, ev domain.LedgerEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal ledger event", slog.String("error", err.Error()))
		return
	}

	if r.bus != nil {
		if err := r.bus.Publish(ctx, ev.Kind.Channel(), payload); err != nil {
			r.warn(ctx, "publish ledger event failed", ev, err)
		}
		if err := r.bus.StreamAppend(ctx, domain.LedgerStream, payload); err != nil {
			r.warn(ctx, "append ledger stream failed", ev, err)
		}
	}
	if r.live != nil {
		r.live.Broadcast(ev.Kind.Channel(), payload)
	}

	if r.audit != nil {
		switch ev.Kind {
		case domain.LedgerEventDeadLettered, domain.LedgerEventUnmatchedSell:
			if err := r.audit.Log(ctx, "trade."+string(ev.Kind), auditDetail(ev)); err != nil {
				r.warn(ctx, "audit log failed", ev, err)
			}
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyLedgerEvent(ctx, ev); err != nil {
			r.warn(ctx, "notify failed", ev, err)
		}
	}
}

func auditDetail(ev domain.LedgerEvent) map[string]any {
	detail := map[string]any{
		"trade_id":  ev.TradeID,
		"symbol":    ev.Symbol,
		"partition": ev.Partition,
		"offset":    ev.Offset,
	}
	if ev.Reason != "" {
		detail["reason"] = ev.Reason
	}
	if ev.Unmatched != nil {
		detail["unmatched_qty"] = ev.Unmatched.String()
	}
	return detail
}

func (r *LedgerEventRelay) warn(ctx context.Context, msg string, ev domain.LedgerEvent, err error) {
	r.logger.WarnContext(ctx, msg,
		slog.String("kind", string(ev.Kind)),
		slog.String("trade_id", ev.TradeID),
		slog.String("error", err.Error()),
	)
}
