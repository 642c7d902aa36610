// Package kafka carries trade events over Kafka: a consumer-group event
// source with explicit commits, a trade publisher keyed by symbol, and a
// dead-letter publisher.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Config holds broker and topic settings shared by the consumer and the
// publishers.
type Config struct {
	Brokers         []string
	TradesTopic     string
	GroupID         string
	DeadLetterTopic string
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
	// StartOffset is "earliest" or "latest" and applies only when the group
	// has no committed offset for a partition.
	StartOffset string
}

func (c Config) startOffset() int64 {
	if strings.EqualFold(c.StartOffset, "latest") {
		return kafkago.LastOffset
	}
	return kafkago.FirstOffset
}

// Consumer implements domain.EventSource on a kafka-go consumer group reader.
// Offsets are committed only through Commit; the reader never auto-commits.
type Consumer struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewConsumer joins cfg.GroupID on cfg.TradesTopic.
func NewConsumer(cfg Config, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.GroupID == "" || cfg.TradesTopic == "" {
		return nil, fmt.Errorf("kafka: group id and trades topic are required")
	}

	logger = logger.With(slog.String("component", "kafka_consumer"))
	rc := kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.TradesTopic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: cfg.startOffset(),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
	if rc.MinBytes <= 0 {
		rc.MinBytes = 1
	}
	if rc.MaxBytes <= 0 {
		rc.MaxBytes = 10e6
	}
	if rc.MaxWait <= 0 {
		rc.MaxWait = 500 * time.Millisecond
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: reader config: %w", err)
	}

	logger.Info("joining consumer group",
		slog.String("group_id", cfg.GroupID),
		slog.String("topic", cfg.TradesTopic),
		slog.String("start_offset", cfg.StartOffset),
	)
	return &Consumer{reader: kafkago.NewReader(rc), logger: logger}, nil
}

// Fetch blocks until the next message is available.
func (c *Consumer) Fetch(ctx context.Context) (domain.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("kafka: fetch: %w", err)
	}
	return toDelivery(msg), nil
}

// Commit marks d and every earlier offset of its partition as consumed.
func (c *Consumer) Commit(ctx context.Context, d domain.Delivery) error {
	if err := c.reader.CommitMessages(ctx, fromDelivery(d)); err != nil {
		return fmt.Errorf("kafka: commit %s/%d@%d: %w", d.Topic, d.Partition, d.Offset, err)
	}
	return nil
}

// Lag returns the reader's last known lag.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toDelivery(m kafkago.Message) domain.Delivery {
	return domain.Delivery{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
}

func fromDelivery(d domain.Delivery) kafkago.Message {
	return kafkago.Message{
		Topic:     d.Topic,
		Partition: d.Partition,
		Offset:    d.Offset,
	}
}

// Compile-time interface check.
var _ domain.EventSource = (*Consumer)(nil)
