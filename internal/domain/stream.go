package domain

import (
	"context"
	"time"
)

// Delivery is one message fetched from the trade event stream, together with
// the position needed to commit it.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// EventSource is a replayable, at-least-once stream of trade events. Commit
// marks every message of the delivery's partition up to and including the
// delivery as processed.
type EventSource interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, d Delivery) error
	Close() error
}

// TradePublisher publishes accepted trades onto the event stream.
type TradePublisher interface {
	PublishTrade(ctx context.Context, trade TradeEvent) error
}

// DeadLetterPublisher forwards deliveries that can never be applied.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, d Delivery, reason string) error
}
