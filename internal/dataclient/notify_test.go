package dataclient

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/events"
	"github.com/helixir/data-repository-service/internal/observability"
)

var notifyMetrics = observability.NewMetrics("test_dataclient_notify")

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newNotify(collection string, pub events.Publisher) (*NotifyingClient[note], *mockClient[note]) {
	next := new(mockClient[note])
	emitter := events.NewEmitter(events.EmitterConfig{ServiceName: "test"})
	return Notify[note](next, NotifyConfig{Collection: collection}, emitter, pub, notifyMetrics, zerolog.Nop()), next
}

func TestNotify_PublishesWrites(t *testing.T) {
	pub := &recordingPublisher{}
	c, next := newNotify("notify_notes", pub)
	ctx := context.Background()
	user := strPtr("u-1")
	created := note{ID: "gen-1", Title: "x"}

	next.On("Create", ctx, note{Title: "x"}, user).Return(domain.NewEnvelope(created, nil), nil).Once()
	next.On("Update", ctx, "gen-1", created, user).Return(domain.NewEnvelope(created, nil), nil).Once()
	next.On("Delete", ctx, "gen-1", user).Return(nil).Once()

	_, err := c.Create(ctx, note{Title: "x"}, user)
	require.NoError(t, err)
	_, err = c.Update(ctx, "gen-1", created, user)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "gen-1", user))

	require.Len(t, pub.events, 3)
	ops := []events.Operation{pub.events[0].Operation, pub.events[1].Operation, pub.events[2].Operation}
	assert.Equal(t, []events.Operation{events.OperationCreate, events.OperationUpdate, events.OperationDelete}, ops)
	for _, ev := range pub.events {
		assert.Equal(t, "notify_notes", ev.Collection)
		assert.Equal(t, "gen-1", ev.ItemID)
		assert.Equal(t, "u-1", ev.UserID)
		assert.Equal(t, "test", ev.Source)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(notifyMetrics.EventsPublished.WithLabelValues("notify_notes", "delete")))
}

func TestNotify_NoEventOnFailure(t *testing.T) {
	pub := &recordingPublisher{}
	c, next := newNotify("notify_fail", pub)
	ctx := context.Background()
	conflict := domain.NewConflictError("notify_fail", "n-1")
	notFound := domain.NewNotFoundError("notify_fail", "n-1")

	next.On("Create", ctx, note{ID: "n-1"}, noUser).Return(domain.Envelope[note]{}, conflict).Once()
	next.On("Delete", ctx, "n-1", noUser).Return(notFound).Once()

	_, err := c.Create(ctx, note{ID: "n-1"}, nil)
	assert.Same(t, conflict, err)
	err = c.Delete(ctx, "n-1", nil)
	assert.Same(t, notFound, err)

	assert.Empty(t, pub.events)
}

func TestNotify_PublishFailureIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	c, next := newNotify("notify_swallow", pub)
	ctx := context.Background()
	item := note{ID: "n-1"}

	next.On("Update", ctx, "n-1", item, noUser).Return(domain.NewEnvelope(item, nil), nil).Once()

	got, err := c.Update(ctx, "n-1", item, nil)
	require.NoError(t, err)
	assert.Equal(t, item, got.Data)
	assert.Equal(t, float64(1), testutil.ToFloat64(notifyMetrics.EventsFailed.WithLabelValues("notify_swallow", "update")))
}

func TestNotify_ReadsPassThrough(t *testing.T) {
	pub := &recordingPublisher{}
	c, next := newNotify("notify_reads", pub)
	ctx := context.Background()

	next.On("Read", ctx, "n-1", noUser).Return(domain.NewEnvelope(note{ID: "n-1"}, nil), nil).Once()
	next.On("ReadAll", ctx, domain.Query{}).Return(domain.NewEnvelope(domain.PaginatedResult[note]{}, nil), nil).Once()
	next.On("Count", ctx, domain.Filter(nil), noUser).Return(domain.NewEnvelope(int64(0), nil), nil).Once()
	next.On("Aggregate", ctx, []domain.Document(nil), noUser).Return(domain.NewEnvelope([]domain.Document(nil), nil), nil).Once()

	_, err := c.Read(ctx, "n-1", nil)
	require.NoError(t, err)
	_, err = c.ReadAll(ctx, domain.Query{})
	require.NoError(t, err)
	_, err = c.Count(ctx, nil, nil)
	require.NoError(t, err)
	_, err = c.Aggregate(ctx, nil, nil)
	require.NoError(t, err)

	next.AssertExpectations(t)
	assert.Empty(t, pub.events)
}
