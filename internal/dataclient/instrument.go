package dataclient

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
)

// InstrumentedClient records metrics and debug logs for every call.
type InstrumentedClient[T any] struct {
	next       repository.DataClient[T]
	collection string
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// Instrument wraps next. A nil metrics disables metric recording.
func Instrument[T any](next repository.DataClient[T], collection string, metrics *observability.Metrics, logger zerolog.Logger) *InstrumentedClient[T] {
	return &InstrumentedClient[T]{
		next:       next,
		collection: collection,
		metrics:    metrics,
		logger:     observability.WithCollectionContext(logger, collection),
	}
}

func (c *InstrumentedClient[T]) observe(ctx context.Context, op, id string, start time.Time, err error) {
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordClientCall(c.collection, op, elapsed.Seconds(), err)
	}

	log := observability.LoggerFromContext(ctx, c.logger)
	ev := log.Debug()
	if err != nil && !isCallerError(err) {
		ev = log.Warn()
	}
	if id != "" {
		ev = ev.Str("item_id", id)
	}
	ev.Str("operation", op).
		Dur("duration", elapsed).
		Err(err).
		Msg("data client call")
}

// isCallerError reports errors caused by the request rather than the store.
func isCallerError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrBadRequest,
		domain.ErrConflict,
		domain.ErrForbidden,
		domain.ErrUnauthorized,
		domain.ErrInvalidInput,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *InstrumentedClient[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	start := time.Now()
	env, err := c.next.Create(ctx, item, userID)
	c.observe(ctx, OpCreate, "", start, err)
	return env, err
}

func (c *InstrumentedClient[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	start := time.Now()
	env, err := c.next.Read(ctx, id, userID)
	c.observe(ctx, OpRead, id, start, err)
	return env, err
}

func (c *InstrumentedClient[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	start := time.Now()
	env, err := c.next.ReadAll(ctx, q)
	c.observe(ctx, OpReadAll, "", start, err)
	if err == nil && c.metrics != nil {
		c.metrics.RecordPageSize(c.collection, len(env.Data.Items))
	}
	return env, err
}

func (c *InstrumentedClient[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	start := time.Now()
	env, err := c.next.Update(ctx, id, item, userID)
	c.observe(ctx, OpUpdate, id, start, err)
	return env, err
}

func (c *InstrumentedClient[T]) Delete(ctx context.Context, id string, userID *string) error {
	start := time.Now()
	err := c.next.Delete(ctx, id, userID)
	c.observe(ctx, OpDelete, id, start, err)
	return err
}

func (c *InstrumentedClient[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	start := time.Now()
	env, err := c.next.Count(ctx, filter, userID)
	c.observe(ctx, OpCount, "", start, err)
	return env, err
}

func (c *InstrumentedClient[T]) Aggregate(ctx context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	start := time.Now()
	env, err := c.next.Aggregate(ctx, pipeline, userID)
	c.observe(ctx, OpAggregate, "", start, err)
	return env, err
}
