// Package repository provides the generic data-access repository used by the
// data repository service.
//
// # Overview
//
// Repository[T] sits in front of an injected DataClient[T]. Each method calls the
// matching client method exactly once, unwraps the success envelope and returns the
// bare payload. Client errors are returned unchanged: the repository performs no
// translation, wrapping, retry or logging.
//
// # Data Clients
//
// Implementations live under internal/dataclient:
//
//   - memclient: in-process store, used for development and tests
//   - pgclient: PostgreSQL JSONB documents
//   - httpclient: a remote instance of this service over REST
//
// # Optional Arguments
//
// The user-scoping identifier and the ReadAll filter, pagination and sort are passed
// as options. Options that are not supplied are forwarded as nil:
//
//	repo := repository.New[Note](client)
//	page, err := repo.ReadAll(ctx,
//	    repository.WithUserID("user-1"),
//	    repository.WithFilter(domain.Filter{"archived": false}),
//	    repository.WithSort(domain.SortOption{Field: "title", Direction: domain.SortAscending}),
//	)
//
// # Thread Safety
//
// Repository holds no mutable state. It is safe for concurrent use whenever the
// injected client is.
package repository

import (
	"context"

	"github.com/helixir/data-repository-service/internal/domain"
)

// DataClient is the capability set a Repository delegates to.
// Implementations return transport errors as *domain.HTTPError and decoding
// failures as *domain.FormatError.
type DataClient[T any] interface {
	Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error)
	Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error)
	ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error)
	Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error)
	Delete(ctx context.Context, id string, userID *string) error
	Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error)
	Aggregate(ctx context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error)
}

// Repository is a generic delegating repository over a DataClient.
type Repository[T any] struct {
	client DataClient[T]
}

// New creates a repository backed by client.
func New[T any](client DataClient[T]) *Repository[T] {
	return &Repository[T]{client: client}
}

// Client returns the injected data client.
func (r *Repository[T]) Client() DataClient[T] {
	return r.client
}

// Create stores item and returns the created item.
func (r *Repository[T]) Create(ctx context.Context, item T, opts ...Option) (T, error) {
	o := collect(opts)
	env, err := r.client.Create(ctx, item, o.userID)
	if err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

// Read returns the item with the given id.
// A missing item is reported by the client's error (domain.ErrNotFound).
func (r *Repository[T]) Read(ctx context.Context, id string, opts ...Option) (T, error) {
	o := collect(opts)
	env, err := r.client.Read(ctx, id, o.userID)
	if err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

// ReadAll returns one page of items. Filter, pagination and sort are forwarded as given.
func (r *Repository[T]) ReadAll(ctx context.Context, opts ...Option) (domain.PaginatedResult[T], error) {
	o := collect(opts)
	env, err := r.client.ReadAll(ctx, domain.Query{
		UserID:     o.userID,
		Filter:     o.filter,
		Pagination: o.pagination,
		Sort:       o.sort,
	})
	if err != nil {
		return domain.PaginatedResult[T]{}, err
	}
	return env.Data, nil
}

// Update replaces the item with the given id and returns the updated item.
func (r *Repository[T]) Update(ctx context.Context, id string, item T, opts ...Option) (T, error) {
	o := collect(opts)
	env, err := r.client.Update(ctx, id, item, o.userID)
	if err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

// Delete removes the item with the given id.
func (r *Repository[T]) Delete(ctx context.Context, id string, opts ...Option) error {
	o := collect(opts)
	return r.client.Delete(ctx, id, o.userID)
}

// Count returns the number of items matching filter. A nil filter is forwarded as nil.
func (r *Repository[T]) Count(ctx context.Context, filter domain.Filter, opts ...Option) (int64, error) {
	o := collect(opts)
	env, err := r.client.Count(ctx, filter, o.userID)
	if err != nil {
		return 0, err
	}
	return env.Data, nil
}

// Aggregate runs pipeline and returns the result documents.
func (r *Repository[T]) Aggregate(ctx context.Context, pipeline []domain.Document, opts ...Option) ([]domain.Document, error) {
	o := collect(opts)
	env, err := r.client.Aggregate(ctx, pipeline, o.userID)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}
