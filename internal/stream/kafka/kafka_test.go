package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lotwise/internal/domain"
	"github.com/alanyoungcy/lotwise/internal/stream"
)

func TestTradeMessageIsKeyedBySymbol(t *testing.T) {
	ev := domain.TradeEvent{
		ID:        "t-1",
		Symbol:    "AAPL",
		Qty:       decimal.RequireFromString("-2.5"),
		Price:     decimal.RequireFromString("190.01"),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	msg, err := tradeMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAPL"), msg.Key)
	assert.Equal(t, ev.Timestamp, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, stream.ContentType, string(msg.Headers[0].Value))

	back, err := stream.DecodeTrade(msg.Value)
	require.NoError(t, err)
	assert.True(t, back.Qty.Equal(ev.Qty))
}

func TestDeliveryConversion(t *testing.T) {
	m := kafkago.Message{Topic: "trades-topic", Partition: 3, Offset: 41, Key: []byte("MSFT"), Value: []byte("{}")}
	d := toDelivery(m)
	assert.Equal(t, 3, d.Partition)
	assert.Equal(t, int64(41), d.Offset)

	back := fromDelivery(d)
	assert.Equal(t, "trades-topic", back.Topic)
	assert.Equal(t, 3, back.Partition)
	assert.Equal(t, int64(41), back.Offset)
}

func TestStartOffset(t *testing.T) {
	assert.Equal(t, kafkago.FirstOffset, Config{}.startOffset())
	assert.Equal(t, kafkago.FirstOffset, Config{StartOffset: "earliest"}.startOffset())
	assert.Equal(t, kafkago.LastOffset, Config{StartOffset: "LATEST"}.startOffset())
}

func headerMap(hs []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestDeadLetterPublisher(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	var sent *sarama.ProducerMessage
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		sent = m
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("leader not available"))

	p := newDeadLetterPublisher(producer, "trades-dlq")
	d := domain.Delivery{Topic: "trades-topic", Partition: 2, Offset: 17, Key: []byte("AAPL"), Value: []byte(`{"qty":"NaN"}`)}

	require.NoError(t, p.PublishDeadLetter(context.Background(), d, "invalid trade event: qty: not a finite number"))
	require.NotNil(t, sent)
	assert.Equal(t, "trades-dlq", sent.Topic)

	headers := headerMap(sent.Headers)
	assert.Equal(t, "invalid trade event: qty: not a finite number", headers[HeaderReason])
	assert.Equal(t, "trades-topic", headers[HeaderSourceTopic])
	assert.Equal(t, "2", headers[HeaderSourcePartition])
	assert.Equal(t, "17", headers[HeaderSourceOffset])

	err := p.PublishDeadLetter(context.Background(), d, "again")
	require.Error(t, err)

	require.NoError(t, p.Close())
}

func TestDeadLetterMessageWithoutKey(t *testing.T) {
	msg := deadLetterMessage("dlq", domain.Delivery{Value: []byte("x")}, "payload")
	assert.Nil(t, msg.Key)
	v, err := msg.Value.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), v)
}
