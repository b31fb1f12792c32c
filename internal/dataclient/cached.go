package dataclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/cache"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
)

// CacheConfig configures the read-through cache decorator.
type CacheConfig struct {
	Collection string
	IDField    string
	TTL        time.Duration
}

// CachedClient serves Read from a cache and keeps the cache coherent with writes.
// Entries are keyed by collection and id and remember the scoping user they were
// read with; an entry is only served to a call with the same scope.
type CachedClient[T any] struct {
	next    repository.DataClient[T]
	cfg     CacheConfig
	cache   cache.Cache
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type cacheEntry[T any] struct {
	UserID *string `json:"user_id"`
	Data   T       `json:"data"`
}

// Cached wraps next with a read-through cache. A nil metrics disables metric recording.
func Cached[T any](next repository.DataClient[T], cfg CacheConfig, c cache.Cache, metrics *observability.Metrics, logger zerolog.Logger) *CachedClient[T] {
	if cfg.IDField == "" {
		cfg.IDField = DefaultIDField
	}
	return &CachedClient[T]{
		next:    next,
		cfg:     cfg,
		cache:   c,
		metrics: metrics,
		logger:  observability.WithCollectionContext(logger, cfg.Collection),
	}
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (c *CachedClient[T]) lookup(ctx context.Context, id string, userID *string) (T, bool) {
	var zero T
	raw, ok := c.cache.Get(ctx, CacheKey(c.cfg.Collection, id))
	if !ok {
		return zero, false
	}
	var entry cacheEntry[T]
	if err := unmarshalNumbers(raw, &entry); err != nil {
		c.logger.Warn().Err(err).Str("item_id", id).Msg("dropping undecodable cache entry")
		c.invalidate(ctx, id)
		return zero, false
	}
	if !sameScope(entry.UserID, userID) {
		return zero, false
	}
	return entry.Data, true
}

func (c *CachedClient[T]) store(ctx context.Context, id string, userID *string, data T) {
	raw, err := json.Marshal(cacheEntry[T]{UserID: userID, Data: data})
	if err != nil {
		c.logger.Warn().Err(err).Str("item_id", id).Msg("cannot encode cache entry")
		return
	}
	if err := c.cache.Set(ctx, CacheKey(c.cfg.Collection, id), raw, c.cfg.TTL); err != nil {
		c.logger.Warn().Err(err).Str("item_id", id).Msg("cache write failed")
	}
}

func (c *CachedClient[T]) invalidate(ctx context.Context, id string) {
	if err := c.cache.Delete(ctx, CacheKey(c.cfg.Collection, id)); err != nil {
		c.logger.Warn().Err(err).Str("item_id", id).Msg("cache invalidation failed")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordCacheInvalidation(c.cfg.Collection)
	}
}

func (c *CachedClient[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	env, err := c.next.Create(ctx, item, userID)
	if err != nil {
		return env, err
	}
	if id, idErr := ItemID(env.Data, c.cfg.IDField); idErr == nil {
		c.store(ctx, id, userID, env.Data)
	}
	return env, nil
}

func (c *CachedClient[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	if data, ok := c.lookup(ctx, id, userID); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit(c.cfg.Collection)
		}
		return domain.NewEnvelope(data, NewMeta(ctx)), nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(c.cfg.Collection)
	}

	env, err := c.next.Read(ctx, id, userID)
	if err != nil {
		return env, err
	}
	c.store(ctx, id, userID, env.Data)
	return env, nil
}

func (c *CachedClient[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	return c.next.ReadAll(ctx, q)
}

// Update invalidates the entry whether or not the update succeeded, since a
// failed call may still have been applied by the store.
func (c *CachedClient[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	env, err := c.next.Update(ctx, id, item, userID)
	c.invalidate(ctx, id)
	return env, err
}

func (c *CachedClient[T]) Delete(ctx context.Context, id string, userID *string) error {
	err := c.next.Delete(ctx, id, userID)
	c.invalidate(ctx, id)
	return err
}

func (c *CachedClient[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	return c.next.Count(ctx, filter, userID)
}

func (c *CachedClient[T]) Aggregate(ctx context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	return c.next.Aggregate(ctx, pipeline, userID)
}
