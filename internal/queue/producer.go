package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kchenfs/PrepDeck/internal/config"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// NewWriter builds a topic-less writer: every message names its topic, so one
// writer serves the main topic, redeliveries and the dead-letter topic.
func NewWriter(cfg config.Kafka) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer enqueues webhook bodies onto the order topic.
type Producer struct {
	writer Writer
	topic  string
	now    func() time.Time
}

func NewProducer(w Writer, topic string) *Producer {
	return &Producer{writer: w, topic: topic, now: time.Now}
}

// Enqueue writes body unchanged, keyed by order so all events of an order land
// on one partition.
func (p *Producer) Enqueue(ctx context.Context, key string, body []byte, receivedAt time.Time) error {
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: body,
		Headers: []kafkago.Header{
			{Key: HeaderAttempt, Value: []byte("1")},
			{Key: HeaderReceivedAt, Value: []byte(receivedAt.UTC().Format(time.RFC3339Nano))},
			{Key: HeaderEventID, Value: []byte(uuid.NewString())},
		},
	})
}
