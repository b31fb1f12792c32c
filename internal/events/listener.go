package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler reacts to a consumed change event.
type Handler func(ctx context.Context, ev ChangeEvent) error

// messageReader is the subset of *kafka.Reader used by Listener.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes change events from Kafka and passes them to a Handler.
type Listener struct {
	reader       messageReader
	handler      Handler
	ignoreSource string
	logger       zerolog.Logger
}

// NewListener creates a change event listener. Events stamped with
// ignoreSource (usually this instance's own emitter source) are skipped.
func NewListener(cfg KafkaConfig, ignoreSource string, handler Handler, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		// New groups only care about changes made from now on.
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     3 * time.Second,
	})
	return newListener(reader, ignoreSource, handler, logger)
}

func newListener(reader messageReader, ignoreSource string, handler Handler, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:       reader,
		handler:      handler,
		ignoreSource: ignoreSource,
		logger:       logger.With().Str("component", "change_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting change event listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("change event listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received change event")

		var ev ChangeEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal change event")
			continue
		}

		if l.ignoreSource != "" && ev.Source == l.ignoreSource {
			continue
		}

		if err := l.handler(ctx, ev); err != nil {
			l.logger.Error().Err(err).
				Str("collection", ev.Collection).
				Str("item_id", ev.ItemID).
				Str("operation", string(ev.Operation)).
				Msg("failed to handle change event")
		}
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing change event listener")
	return l.reader.Close()
}
