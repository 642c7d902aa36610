package dispatch

import (
	"context"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Observer receives a LedgerEvent for every delivery outcome. Implementations
// must not block for long: they run on the symbol worker.
type Observer interface {
	Observe(ctx context.Context, ev domain.LedgerEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev domain.LedgerEvent)

func (f ObserverFunc) Observe(ctx context.Context, ev domain.LedgerEvent) { f(ctx, ev) }

// Observers fans one event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, ev domain.LedgerEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, domain.LedgerEvent) {}
