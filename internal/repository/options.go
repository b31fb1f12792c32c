package repository

import "github.com/helixir/data-repository-service/internal/domain"

// Option supplies an optional argument to a Repository call.
type Option func(*callOptions)

type callOptions struct {
	userID     *string
	filter     domain.Filter
	pagination *domain.PaginationOptions
	sort       []domain.SortOption
}

func collect(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithUserID scopes the call to a user's data partition.
func WithUserID(userID string) Option {
	return func(o *callOptions) {
		o.userID = &userID
	}
}

// WithFilter sets the ReadAll filter.
func WithFilter(filter domain.Filter) Option {
	return func(o *callOptions) {
		o.filter = filter
	}
}

// WithPagination sets the ReadAll pagination options.
func WithPagination(p *domain.PaginationOptions) Option {
	return func(o *callOptions) {
		o.pagination = p
	}
}

// WithSort sets the ReadAll sort keys in priority order.
func WithSort(sort ...domain.SortOption) Option {
	return func(o *callOptions) {
		o.sort = sort
	}
}
