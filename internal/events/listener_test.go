package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued results, then blocks until the context is cancelled.
type fakeReader struct {
	mu      sync.Mutex
	queue   []readResult
	closed  bool
	drained chan struct{}
}

type readResult struct {
	msg kafka.Message
	err error
}

func newFakeReader(results ...readResult) *fakeReader {
	return &fakeReader{queue: results, drained: make(chan struct{})}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return next.msg, next.err
	}
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func eventMessage(t *testing.T, ev ChangeEvent) readResult {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return readResult{msg: kafka.Message{Value: b}}
}

func TestListener_Run(t *testing.T) {
	own := testEvent("mine")
	own.Source = "self"
	other := testEvent("theirs")
	failing := testEvent("fails")

	reader := newFakeReader(
		readResult{err: errors.New("transient")},
		readResult{msg: kafka.Message{Value: []byte("not json")}},
		eventMessage(t, own),
		eventMessage(t, failing),
		eventMessage(t, other),
	)

	var (
		mu      sync.Mutex
		handled []string
	)
	handler := func(_ context.Context, ev ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, ev.ItemID)
		if ev.ItemID == "fails" {
			return errors.New("handler failed")
		}
		return nil
	}

	l := newListener(reader, "self", handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not drain the queue")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fails", "theirs"}, handled)

	require.NoError(t, l.Close())
	assert.True(t, reader.closed)
}
