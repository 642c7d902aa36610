// Package dispatch applies trade events from an at-least-once stream to the
// lot ledger. Events are partitioned onto workers by symbol so one symbol is
// only ever processed by one goroutine, in fetch order. Each event is matched
// and applied inside a single ledger unit, and the stream cursor only moves
// past an event once that unit has committed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/matching"
	"github.com/alanyoungcy/lotwise/internal/stream"
)

// Config tunes a Dispatcher. Zero values fall back to defaults.
//
// MaxInFlight caps the deliveries fetched but not yet finished across all
// workers. A symbol stuck in retries only stops fetching once its backlog
// alone reaches that cap.
type Config struct {
	Workers        int
	MaxInFlight    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	LockTTL        time.Duration
	CommitInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4096
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 100 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = time.Second
	}
	return c
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Fetched      int64 `json:"fetched"`
	Applied      int64 `json:"applied"`
	Duplicates   int64 `json:"duplicates"`
	Unmatched    int64 `json:"unmatched_sells"`
	DeadLettered int64 `json:"dead_lettered"`
	Retries      int64 `json:"retries"`
	Committed    int64 `json:"commits"`
	Pending      int   `json:"pending"`
	Lag          int64 `json:"lag"`
}

// lagReporter is implemented by sources that know how far the group trails
// the head of the stream.
type lagReporter interface {
	Lag() int64
}

type counters struct {
	fetched      atomic.Int64
	applied      atomic.Int64
	duplicates   atomic.Int64
	unmatched    atomic.Int64
	deadLettered atomic.Int64
	retries      atomic.Int64
	committed    atomic.Int64
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithDeadLetter forwards invalid events to p before the cursor skips them.
func WithDeadLetter(p domain.DeadLetterPublisher) Option {
	return func(d *Dispatcher) { d.dlq = p }
}

// WithSymbolLock wraps every apply unit in a distributed lock on the symbol.
func WithSymbolLock(l domain.LockManager) Option {
	return func(d *Dispatcher) { d.locks = l }
}

// WithObserver registers the receiver of ledger events.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher is the sequential, per-symbol apply loop.
type Dispatcher struct {
	source   domain.EventSource
	ledger   domain.Ledger
	dlq      domain.DeadLetterPublisher
	locks    domain.LockManager
	observer Observer
	cfg      Config
	cursor   *CursorTracker
	logger   *slog.Logger
	now      func() time.Time
	stats    counters

	// unacked holds watermarks whose commit failed; only the committer
	// goroutine touches it.
	unacked map[partitionKey]domain.Delivery
}

// New creates a Dispatcher reading from source and applying to ledger.
func New(source domain.EventSource, ledger domain.Ledger, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:   source,
		ledger:   ledger,
		observer: nopObserver{},
		cfg:      cfg.withDefaults(),
		cursor:   NewCursorTracker(),
		logger:   logger.With(slog.String("component", "dispatcher")),
		now:      func() time.Time { return time.Now().UTC() },
		unacked:  make(map[partitionKey]domain.Delivery),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Fetched:      d.stats.fetched.Load(),
		Applied:      d.stats.applied.Load(),
		Duplicates:   d.stats.duplicates.Load(),
		Unmatched:    d.stats.unmatched.Load(),
		DeadLettered: d.stats.deadLettered.Load(),
		Retries:      d.stats.retries.Load(),
		Committed:    d.stats.committed.Load(),
		Pending:      d.cursor.Pending(),
	}
	if lr, ok := d.source.(lagReporter); ok {
		st.Lag = lr.Lag()
	}
	return st
}

// job is one fetched delivery bound for a worker. err is set when the
// payload could not be decoded.
type job struct {
	delivery domain.Delivery
	event    domain.TradeEvent
	err      error
}

// Run fetches and applies events until ctx is cancelled or the source is
// exhausted (io.EOF). Completed offsets are committed periodically and once
// more on the way out; offsets of aborted units are never committed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("max_in_flight", d.cfg.MaxInFlight),
		slog.Bool("symbol_lock", d.locks != nil),
	)

	g, gctx := errgroup.WithContext(ctx)

	inflight := semaphore.NewWeighted(int64(d.cfg.MaxInFlight))
	queues := make([]*mailbox, d.cfg.Workers)
	var workers sync.WaitGroup
	for i := range queues {
		q := newMailbox()
		queues[i] = q
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			d.work(gctx, q, inflight)
			return nil
		})
	}

	stopped := make(chan struct{})
	g.Go(func() error {
		workers.Wait()
		close(stopped)
		return nil
	})

	g.Go(func() error {
		d.commitLoop(gctx, stopped)
		return nil
	})

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				q.close()
			}
		}()
		return d.fetchLoop(gctx, queues, inflight)
	})

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.commitReady(flushCtx)

	if err != nil && ctx.Err() == nil {
		d.logger.Error("dispatcher stopped with error", slog.String("error", err.Error()))
		return err
	}
	d.logger.Info("dispatcher stopped", slog.Int("pending", d.cursor.Pending()))
	return nil
}

// fetchLoop never blocks on a single worker: pushes are unbounded and only
// the shared in-flight budget holds the fetcher back.
func (d *Dispatcher) fetchLoop(ctx context.Context, queues []*mailbox, inflight *semaphore.Weighted) error {
	bo := newBackoff(d.cfg.RetryInitial, d.cfg.RetryMax)
	for {
		if err := inflight.Acquire(ctx, 1); err != nil {
			return nil
		}
		del, err := d.source.Fetch(ctx)
		if err != nil {
			inflight.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				d.logger.Info("event source exhausted")
				return nil
			}
			delay := bo.Next()
			d.logger.Warn("fetch failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}
		bo.Reset()
		d.stats.fetched.Add(1)

		j := job{delivery: del}
		j.event, j.err = stream.DecodeTrade(del.Value)

		routeKey := string(del.Key)
		if j.err == nil {
			routeKey = j.event.Symbol
		}

		d.cursor.Track(del)
		queues[route(routeKey, len(queues))].push(j)
	}
}

// route binds a symbol to one worker.
func route(symbol string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(workers))
}

func (d *Dispatcher) work(ctx context.Context, q *mailbox, inflight *semaphore.Weighted) {
	for {
		j, ok := q.pop(ctx)
		if !ok {
			return
		}
		err := d.process(ctx, j)
		if err != nil {
			// Aborted by shutdown: leave the offset uncommitted.
			inflight.Release(1)
			return
		}
		d.cursor.Complete(j.delivery)
		inflight.Release(1)
	}
}

// process drives one delivery to a terminal outcome. It only returns an
// error when ctx is cancelled first.
func (d *Dispatcher) process(ctx context.Context, j job) error {
	if j.err != nil {
		return d.deadLetter(ctx, j, j.err)
	}
	if err := matching.Validate(j.event); err != nil {
		return d.deadLetter(ctx, j, err)
	}

	bo := newBackoff(d.cfg.RetryInitial, d.cfg.RetryMax)
	for attempt := 1; ; attempt++ {
		out, err := d.apply(ctx, j.event)
		if err == nil {
			d.report(ctx, j, out)
			return nil
		}
		if errors.Is(err, domain.ErrInvalidEvent) {
			return d.deadLetter(ctx, j, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := bo.Next()
		d.stats.retries.Add(1)
		d.logger.WarnContext(ctx, "apply failed, retrying",
			slog.String("trade_id", j.event.ID),
			slog.String("symbol", j.event.Symbol),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		d.observer.Observe(ctx, d.event(domain.LedgerEventRetry, j, func(ev *domain.LedgerEvent) {
			ev.Attempt = attempt
			ev.Reason = err.Error()
		}))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// outcome is what one committed apply unit did.
type outcome struct {
	duplicate bool
	result    domain.MatchResult
}

// apply runs the idempotency check, the match and the resulting writes as
// one ledger unit.
func (d *Dispatcher) apply(ctx context.Context, ev domain.TradeEvent) (outcome, error) {
	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, "symbol:"+ev.Symbol, d.cfg.LockTTL)
		if err != nil {
			return outcome{}, fmt.Errorf("dispatch: lock %s: %w", ev.Symbol, err)
		}
		defer unlock()
	}

	var out outcome
	err := d.ledger.WithSymbol(ctx, ev.Symbol, func(tx domain.LedgerTx) error {
		out = outcome{}

		applied, err := tx.IsApplied(ctx, ev.ID)
		if err != nil {
			return err
		}
		if applied {
			out.duplicate = true
			return nil
		}

		lots, err := tx.OpenLots(ctx)
		if err != nil {
			return err
		}
		res, err := matching.Match(ev, lots)
		if err != nil {
			return err
		}

		if res.NewLot != nil {
			if _, err := tx.InsertLot(ctx, *res.NewLot); err != nil {
				return err
			}
		}
		for _, u := range res.Updates {
			if err := tx.DecrementLot(ctx, u.LotID, u.Decrement); err != nil {
				return err
			}
		}
		for _, rec := range res.Realized {
			if _, err := tx.InsertRealized(ctx, rec); err != nil {
				return err
			}
		}
		if err := tx.MarkApplied(ctx, domain.AppliedEvent{
			TradeID:      ev.ID,
			Symbol:       ev.Symbol,
			Side:         ev.Side(),
			UnmatchedQty: res.Unmatched,
		}); err != nil {
			return err
		}

		out.result = res
		return nil
	})
	if err != nil {
		return outcome{}, fmt.Errorf("dispatch: apply %s: %w", ev.ID, err)
	}
	return out, nil
}

// report emits the post-commit signals for one delivery.
func (d *Dispatcher) report(ctx context.Context, j job, out outcome) {
	if out.duplicate {
		d.stats.duplicates.Add(1)
		d.logger.DebugContext(ctx, "duplicate trade skipped",
			slog.String("trade_id", j.event.ID),
			slog.String("symbol", j.event.Symbol),
		)
		d.observer.Observe(ctx, d.event(domain.LedgerEventDuplicate, j, nil))
		return
	}

	d.stats.applied.Add(1)
	res := out.result
	d.observer.Observe(ctx, d.event(domain.LedgerEventApplied, j, func(ev *domain.LedgerEvent) {
		if ev.Side == domain.SideSell {
			matched, realized := res.MatchedQty(), res.RealizedTotal()
			ev.Matched = &matched
			ev.Realized = &realized
		}
	}))

	if res.Unmatched.IsPositive() {
		d.stats.unmatched.Add(1)
		d.logger.WarnContext(ctx, "sell exceeds open lots",
			slog.String("trade_id", j.event.ID),
			slog.String("symbol", j.event.Symbol),
			slog.String("unmatched_qty", res.Unmatched.String()),
		)
		unmatched := res.Unmatched
		d.observer.Observe(ctx, d.event(domain.LedgerEventUnmatchedSell, j, func(ev *domain.LedgerEvent) {
			ev.Unmatched = &unmatched
		}))
	}
}

// deadLetter forwards an event that can never be applied. Publication is
// retried until it succeeds so the cursor never skips an unrecorded event.
func (d *Dispatcher) deadLetter(ctx context.Context, j job, cause error) error {
	reason := cause.Error()
	d.logger.WarnContext(ctx, "invalid trade event",
		slog.String("topic", j.delivery.Topic),
		slog.Int("partition", j.delivery.Partition),
		slog.Int64("offset", j.delivery.Offset),
		slog.String("error", reason),
	)

	if d.dlq != nil {
		bo := newBackoff(d.cfg.RetryInitial, d.cfg.RetryMax)
		for {
			err := d.dlq.PublishDeadLetter(ctx, j.delivery, reason)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := bo.Next()
			d.logger.WarnContext(ctx, "dead letter publish failed",
				slog.Int64("offset", j.delivery.Offset),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	d.stats.deadLettered.Add(1)
	d.observer.Observe(ctx, d.event(domain.LedgerEventDeadLettered, j, func(ev *domain.LedgerEvent) {
		ev.Reason = reason
	}))
	return nil
}

func (d *Dispatcher) event(kind domain.LedgerEventKind, j job, fill func(*domain.LedgerEvent)) domain.LedgerEvent {
	ev := domain.LedgerEvent{
		Kind:      kind,
		TradeID:   j.event.ID,
		Symbol:    j.event.Symbol,
		Partition: j.delivery.Partition,
		Offset:    j.delivery.Offset,
		At:        d.now(),
	}
	if j.err == nil {
		ev.Side = j.event.Side()
	}
	if fill != nil {
		fill(&ev)
	}
	return ev
}

func (d *Dispatcher) commitLoop(ctx context.Context, stopped <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.CommitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case <-ticker.C:
			d.commitReady(ctx)
		}
	}
}

// commitReady commits every new partition watermark. Failed commits are
// kept and retried on the next call unless a higher watermark replaces them.
func (d *Dispatcher) commitReady(ctx context.Context) {
	for _, del := range d.cursor.Ready() {
		d.unacked[partitionKey{topic: del.Topic, partition: del.Partition}] = del
	}
	for k, del := range d.unacked {
		if err := d.source.Commit(ctx, del); err != nil {
			d.logger.Warn("commit failed",
				slog.String("topic", del.Topic),
				slog.Int("partition", del.Partition),
				slog.Int64("offset", del.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.stats.committed.Add(1)
		delete(d.unacked, k)
	}
}
