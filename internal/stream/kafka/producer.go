package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/stream"
)

// Producer publishes trade events keyed by symbol, so every event of one
// symbol lands on the same partition and keeps its order.
type Producer struct {
	writer *kafkago.Writer
}

// NewProducer creates a synchronous writer that waits for all in-sync
// replicas.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.TradesTopic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			Async:                  false,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// PublishTrade encodes and writes one trade event.
func (p *Producer) PublishTrade(ctx context.Context, t domain.TradeEvent) error {
	msg, err := tradeMessage(t)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish trade %s: %w", t.ID, err)
	}
	return nil
}

func tradeMessage(t domain.TradeEvent) (kafkago.Message, error) {
	value, err := stream.EncodeTrade(t)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(t.Symbol),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte(stream.ContentType)},
		},
		Time: t.Timestamp,
	}, nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Compile-time interface check.
var _ domain.TradePublisher = (*Producer)(nil)
