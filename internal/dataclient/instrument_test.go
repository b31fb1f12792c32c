package dataclient

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
)

var instrumentMetrics = observability.NewMetrics("test_dataclient_instrument")

func TestInstrument_RecordsCalls(t *testing.T) {
	next := new(mockClient[note])
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	c := Instrument[note](next, "inst_notes", instrumentMetrics, logger)

	var _ repository.DataClient[note] = c

	ctx := observability.WithRequestID(context.Background(), "req-7")
	item := note{ID: "n-1", Title: "a"}
	next.On("Read", ctx, "n-1", noUser).Return(domain.NewEnvelope(item, nil), nil).Once()

	got, err := c.Read(ctx, "n-1", nil)
	require.NoError(t, err)
	assert.Equal(t, item, got.Data)
	next.AssertExpectations(t)

	assert.Equal(t, float64(1), testutil.ToFloat64(instrumentMetrics.ClientCallsTotal.WithLabelValues("inst_notes", OpRead)))
	assert.Contains(t, buf.String(), `"operation":"read"`)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"collection":"inst_notes"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
}

func TestInstrument_ReturnsSameError(t *testing.T) {
	next := new(mockClient[note])
	var buf bytes.Buffer
	c := Instrument[note](next, "inst_err", instrumentMetrics, zerolog.New(&buf))

	ctx := context.Background()
	notFound := domain.NewNotFoundError("inst_err", "x")
	unavailable := domain.NewHTTPError(503, "down")

	next.On("Delete", ctx, "x", noUser).Return(notFound).Once()
	next.On("Count", ctx, domain.Filter(nil), noUser).Return(domain.Envelope[int64]{}, unavailable).Once()

	err := c.Delete(ctx, "x", nil)
	assert.Same(t, notFound, err)

	_, err = c.Count(ctx, nil, nil)
	assert.Same(t, unavailable, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(instrumentMetrics.ClientCallsFailed.WithLabelValues("inst_err", OpDelete, "not_found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(instrumentMetrics.ClientCallsFailed.WithLabelValues("inst_err", OpCount, "unavailable")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"debug"`)
	assert.Contains(t, lines[1], `"level":"warn"`)
}

func TestInstrument_PassesAllOperations(t *testing.T) {
	next := new(mockClient[note])
	c := Instrument[note](next, "inst_all", nil, zerolog.Nop())
	ctx := context.Background()
	user := strPtr("u-1")
	item := note{ID: "n-1"}
	q := domain.Query{UserID: user}
	pipeline := []domain.Document{{"$count": "n"}}

	next.On("Create", ctx, item, user).Return(domain.NewEnvelope(item, nil), nil).Once()
	next.On("ReadAll", ctx, q).Return(domain.NewEnvelope(domain.PaginatedResult[note]{Items: []note{item}}, nil), nil).Once()
	next.On("Update", ctx, "n-1", item, user).Return(domain.NewEnvelope(item, nil), nil).Once()
	next.On("Aggregate", ctx, pipeline, user).Return(domain.NewEnvelope([]domain.Document{{"n": 1}}, nil), nil).Once()

	_, err := c.Create(ctx, item, user)
	require.NoError(t, err)
	page, err := c.ReadAll(ctx, q)
	require.NoError(t, err)
	assert.Len(t, page.Data.Items, 1)
	_, err = c.Update(ctx, "n-1", item, user)
	require.NoError(t, err)
	docs, err := c.Aggregate(ctx, pipeline, user)
	require.NoError(t, err)
	assert.Len(t, docs.Data, 1)

	next.AssertExpectations(t)
	next.AssertNumberOfCalls(t, "Create", 1)
	next.AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything)
}
