package main

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/cache"
	"github.com/helixir/data-repository-service/internal/config"
	"github.com/helixir/data-repository-service/internal/database"
	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/dataclient/httpclient"
	"github.com/helixir/data-repository-service/internal/dataclient/memclient"
	"github.com/helixir/data-repository-service/internal/dataclient/pgclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/events"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
	httpserver "github.com/helixir/data-repository-service/internal/server/http"
)

// clientFactory builds the decorated data client chain for collections.
type clientFactory struct {
	cfg     *config.Config
	db      database.DBTX
	cache   cache.Cache
	emitter *events.Emitter
	pub     events.Publisher
	metrics *observability.Metrics
	logger  zerolog.Logger

	transportOnce sync.Once
	transport     *httpclient.Transport
}

// remoteTransport returns the transport shared by every remote collection, so
// the upstream rate limit applies to the service as a whole.
func (f *clientFactory) remoteTransport() *httpclient.Transport {
	f.transportOnce.Do(func() {
		remote := f.cfg.Remote
		f.transport = httpclient.NewTransport(httpclient.TransportConfig{
			Timeout:       remote.Timeout,
			RateLimit:     remote.RateLimit,
			BurstSize:     remote.BurstSize,
			MaxRetries:    remote.MaxRetries,
			RetryDelay:    remote.RetryDelay,
			MaxRetryDelay: remote.MaxRetryDelay,
			UserAgent:     "data-repository-service",
			APIKey:        remote.APIKey,
			APIKeyHeader:  remote.APIKeyHeader,
		})
	})
	return f.transport
}

// newClient returns the storage client for collection wrapped as
// cache -> change events -> instrumentation, outermost last.
func (f *clientFactory) newClient(collection string) (repository.DataClient[domain.Document], error) {
	idField := f.cfg.Storage.IDField

	var client repository.DataClient[domain.Document]
	switch f.cfg.Storage.Driver {
	case config.DriverMemory:
		client = memclient.New[domain.Document](memclient.Config{Collection: collection, IDField: idField})
	case config.DriverPostgres:
		if f.db == nil {
			return nil, fmt.Errorf("collection %s: postgres driver without a database", collection)
		}
		client = pgclient.New[domain.Document](f.db, pgclient.Config{
			Collection: collection,
			IDField:    idField,
			Table:      f.cfg.Storage.Table,
		})
	case config.DriverHTTP:
		c, err := httpclient.New[domain.Document](httpclient.Config{
			BaseURL:    f.cfg.Remote.BaseURL,
			Collection: collection,
			Transport:  f.remoteTransport(),
		})
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown storage driver %q", f.cfg.Storage.Driver)
	}

	if f.cache != nil {
		client = dataclient.Cached(client, dataclient.CacheConfig{
			Collection: collection,
			IDField:    idField,
			TTL:        f.cfg.Cache.TTL,
		}, f.cache, f.metrics, f.logger)
	}
	if f.pub != nil {
		client = dataclient.Notify(client, dataclient.NotifyConfig{
			Collection: collection,
			IDField:    idField,
		}, f.emitter, f.pub, f.metrics, f.logger)
	}
	return dataclient.Instrument(client, collection, f.metrics, f.logger), nil
}

// collectionRegistry serves the configured collections. With no configured
// collections it runs open: any name is created on first use.
type collectionRegistry struct {
	factory *clientFactory
	open    bool

	mu    sync.RWMutex
	repos map[string]*httpserver.DocumentRepository
}

func newCollectionRegistry(factory *clientFactory, names []string) (*collectionRegistry, error) {
	r := &collectionRegistry{
		factory: factory,
		open:    len(names) == 0,
		repos:   make(map[string]*httpserver.DocumentRepository, len(names)),
	}
	for _, name := range names {
		client, err := factory.newClient(name)
		if err != nil {
			return nil, err
		}
		r.repos[name] = repository.New(client)
	}
	return r, nil
}

// Lookup implements httpserver.Registry. In open mode a collection is kept
// once an item is created through it; other requests for an unknown name get
// a repository that is not kept, so reads still reach the store without
// growing the registry.
func (r *collectionRegistry) Lookup(name string, create bool) (*httpserver.DocumentRepository, bool) {
	r.mu.RLock()
	repo, ok := r.repos[name]
	r.mu.RUnlock()
	if ok || !r.open || !config.ValidCollectionName(name) {
		return repo, ok
	}

	if !create {
		client, err := r.factory.newClient(name)
		if err != nil {
			r.factory.logger.Error().Err(err).Str("collection", name).Msg("failed to create collection client")
			return nil, false
		}
		return repository.New(client), true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if repo, ok := r.repos[name]; ok {
		return repo, true
	}
	client, err := r.factory.newClient(name)
	if err != nil {
		r.factory.logger.Error().Err(err).Str("collection", name).Msg("failed to create collection client")
		return nil, false
	}
	repo = repository.New(client)
	r.repos[name] = repo
	r.factory.logger.Info().Str("collection", name).Msg("collection created")
	return repo, true
}

// Names implements httpserver.Registry.
func (r *collectionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.repos))
	for name := range r.repos {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// invalidationHandler drops cached items changed by other instances.
func invalidationHandler(c cache.Cache, metrics *observability.Metrics) events.Handler {
	return func(ctx context.Context, ev events.ChangeEvent) error {
		if ev.Operation == events.OperationCreate {
			return nil
		}
		if err := c.Delete(ctx, dataclient.CacheKey(ev.Collection, ev.ItemID)); err != nil {
			return fmt.Errorf("invalidate %s/%s: %w", ev.Collection, ev.ItemID, err)
		}
		if metrics != nil {
			metrics.RecordCacheInvalidation(ev.Collection)
		}
		return nil
	}
}
