// Package notify forwards selected ledger events to operator chat channels
// (Telegram, Discord).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches ledger events to every registered Sender. Only event
// kinds in the allowed set are forwarded; an empty set allows all kinds.
type Notifier struct {
	senders []Sender
	kinds   map[domain.LedgerEventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event kinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.LedgerEventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.LedgerEventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyLedgerEvent formats ev and sends it if its kind is allowed.
func (n *Notifier) NotifyLedgerEvent(ctx context.Context, ev domain.LedgerEvent) error {
	if len(n.kinds) > 0 && !n.kinds[ev.Kind] {
		return nil
	}
	title, message := format(ev)
	return n.dispatch(ctx, title, message)
}

// format renders a one-line title and a short body for ev.
func format(ev domain.LedgerEvent) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "trade %s", ev.TradeID)
	if ev.Symbol != "" {
		fmt.Fprintf(&b, " on %s", ev.Symbol)
	}
	fmt.Fprintf(&b, " (partition %d offset %d)", ev.Partition, ev.Offset)

	switch ev.Kind {
	case domain.LedgerEventUnmatchedSell:
		if ev.Unmatched != nil {
			fmt.Fprintf(&b, "\nunmatched qty %s dropped", ev.Unmatched.String())
		}
		return "Unmatched sell", b.String()
	case domain.LedgerEventDeadLettered:
		fmt.Fprintf(&b, "\nreason: %s", ev.Reason)
		return "Trade dead-lettered", b.String()
	case domain.LedgerEventRetry:
		fmt.Fprintf(&b, "\nattempt %d: %s", ev.Attempt, ev.Reason)
		return "Ledger apply retrying", b.String()
	case domain.LedgerEventApplied:
		if ev.Realized != nil {
			fmt.Fprintf(&b, "\nrealized pnl %s", ev.Realized.String())
		}
		return "Trade applied", b.String()
	default:
		return "Ledger " + string(ev.Kind), b.String()
	}
}

// dispatch sends to every sender. One failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
