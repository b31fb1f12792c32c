package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/data-repository-service/internal/observability"
)

// KafkaConfig holds Kafka settings for change events.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic change events are written to and read from.
	Topic string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration
	// GroupID is the consumer group of the Listener.
	GroupID string
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes change events to a Kafka topic as JSON.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
// Messages are hash-partitioned on ChangeEvent.Key.
func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       observability.NewPrintfLogger(logger, "kafka_writer", zerolog.DebugLevel),
		ErrorLogger:  observability.NewPrintfLogger(logger, "kafka_writer", zerolog.ErrorLevel),
	}
	return newKafkaPublisher(w, cfg.Topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish implements Publisher. All events are written in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal change event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Key()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Collection + "." + string(ev.Operation))},
				{Key: "source", Value: []byte(ev.Source)},
			},
			Time: ev.OccurredAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
