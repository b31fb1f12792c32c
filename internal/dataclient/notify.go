package dataclient

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/events"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
)

// NotifyConfig configures the change event decorator.
type NotifyConfig struct {
	Collection string
	IDField    string
}

// NotifyingClient publishes a change event after every successful write.
// Publishing failures are logged and counted but never returned.
type NotifyingClient[T any] struct {
	next      repository.DataClient[T]
	cfg       NotifyConfig
	emitter   *events.Emitter
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// Notify wraps next. A nil metrics disables metric recording.
func Notify[T any](next repository.DataClient[T], cfg NotifyConfig, emitter *events.Emitter, publisher events.Publisher, metrics *observability.Metrics, logger zerolog.Logger) *NotifyingClient[T] {
	if cfg.IDField == "" {
		cfg.IDField = DefaultIDField
	}
	return &NotifyingClient[T]{
		next:      next,
		cfg:       cfg,
		emitter:   emitter,
		publisher: publisher,
		metrics:   metrics,
		logger:    observability.WithCollectionContext(logger, cfg.Collection),
	}
}

func (c *NotifyingClient[T]) publish(ctx context.Context, op events.Operation, id string, userID *string) {
	log := observability.WithItemContext(observability.LoggerFromContext(ctx, c.logger), string(op), id)

	ev, err := c.emitter.Emit(ctx, events.EmitParams{
		Collection: c.cfg.Collection,
		Operation:  op,
		ItemID:     id,
		UserID:     userID,
	})
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to publish change event")
		if c.metrics != nil {
			c.metrics.RecordEventFailed(c.cfg.Collection, string(op))
		}
		return
	}
	if c.metrics != nil {
		c.metrics.RecordEventPublished(c.cfg.Collection, string(op))
	}
}

func (c *NotifyingClient[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	env, err := c.next.Create(ctx, item, userID)
	if err != nil {
		return env, err
	}
	id, idErr := ItemID(env.Data, c.cfg.IDField)
	if idErr != nil {
		c.logger.Warn().Err(idErr).Msg("created item has no id, change event skipped")
		return env, nil
	}
	c.publish(ctx, events.OperationCreate, id, userID)
	return env, nil
}

func (c *NotifyingClient[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	return c.next.Read(ctx, id, userID)
}

func (c *NotifyingClient[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	return c.next.ReadAll(ctx, q)
}

func (c *NotifyingClient[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	env, err := c.next.Update(ctx, id, item, userID)
	if err != nil {
		return env, err
	}
	c.publish(ctx, events.OperationUpdate, id, userID)
	return env, nil
}

func (c *NotifyingClient[T]) Delete(ctx context.Context, id string, userID *string) error {
	if err := c.next.Delete(ctx, id, userID); err != nil {
		return err
	}
	c.publish(ctx, events.OperationDelete, id, userID)
	return nil
}

func (c *NotifyingClient[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	return c.next.Count(ctx, filter, userID)
}

func (c *NotifyingClient[T]) Aggregate(ctx context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	return c.next.Aggregate(ctx, pipeline, userID)
}
