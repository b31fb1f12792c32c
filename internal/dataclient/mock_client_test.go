package dataclient

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/repository"
)

type note struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type mockClient[T any] struct {
	mock.Mock
}

var _ repository.DataClient[note] = (*mockClient[note])(nil)

func (m *mockClient[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	args := m.Called(ctx, item, userID)
	return args.Get(0).(domain.Envelope[T]), args.Error(1)
}

func (m *mockClient[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	args := m.Called(ctx, id, userID)
	return args.Get(0).(domain.Envelope[T]), args.Error(1)
}

func (m *mockClient[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	args := m.Called(ctx, q)
	return args.Get(0).(domain.Envelope[domain.PaginatedResult[T]]), args.Error(1)
}

func (m *mockClient[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	args := m.Called(ctx, id, item, userID)
	return args.Get(0).(domain.Envelope[T]), args.Error(1)
}

func (m *mockClient[T]) Delete(ctx context.Context, id string, userID *string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func (m *mockClient[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	args := m.Called(ctx, filter, userID)
	return args.Get(0).(domain.Envelope[int64]), args.Error(1)
}

func (m *mockClient[T]) Aggregate(ctx context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	args := m.Called(ctx, pipeline, userID)
	return args.Get(0).(domain.Envelope[[]domain.Document]), args.Error(1)
}

var noUser = (*string)(nil)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }
