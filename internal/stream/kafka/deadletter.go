package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// Dead-letter record headers.
const (
	HeaderReason          = "x-dead-letter-reason"
	HeaderSourceTopic     = "x-source-topic"
	HeaderSourcePartition = "x-source-partition"
	HeaderSourceOffset    = "x-source-offset"
)

// DeadLetterPublisher forwards undecodable or invalid trade events to the
// dead-letter topic with a sarama sync producer.
type DeadLetterPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewDeadLetterPublisher connects a sync producer to cfg.Brokers.
func NewDeadLetterPublisher(cfg Config) (*DeadLetterPublisher, error) {
	if cfg.DeadLetterTopic == "" {
		return nil, fmt.Errorf("kafka: dead letter topic is required")
	}

	sc := sarama.NewConfig()
	sc.ClientID = "lotwise-dlq"
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: dead letter producer: %w", err)
	}
	return newDeadLetterPublisher(producer, cfg.DeadLetterTopic), nil
}

func newDeadLetterPublisher(producer sarama.SyncProducer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

// PublishDeadLetter writes the original key and payload unchanged, with the
// failure reason and source position in headers.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, d domain.Delivery, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := p.producer.SendMessage(deadLetterMessage(p.topic, d, reason)); err != nil {
		return fmt.Errorf("kafka: dead letter %s/%d@%d: %w", d.Topic, d.Partition, d.Offset, err)
	}
	return nil
}

func deadLetterMessage(topic string, d domain.Delivery, reason string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(d.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderReason), Value: []byte(reason)},
			{Key: []byte(HeaderSourceTopic), Value: []byte(d.Topic)},
			{Key: []byte(HeaderSourcePartition), Value: []byte(strconv.Itoa(d.Partition))},
			{Key: []byte(HeaderSourceOffset), Value: []byte(strconv.FormatInt(d.Offset, 10))},
		},
	}
	if len(d.Key) > 0 {
		msg.Key = sarama.ByteEncoder(d.Key)
	}
	return msg
}

// Close shuts the producer down.
func (p *DeadLetterPublisher) Close() error {
	return p.producer.Close()
}

// Compile-time interface check.
var _ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
