package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
)

type note struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

func strPtr(s string) *string { return &s }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client[note] {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	c, err := New[note](Config{
		BaseURL:    server.URL + "/",
		Collection: "notes",
		RateLimit:  1000,
		BurstSize:  100,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew_Validation(t *testing.T) {
	_, err := New[note](Config{BaseURL: "not a url", Collection: "notes"})
	assert.Error(t, err)

	_, err = New[note](Config{BaseURL: "ftp://example.com", Collection: "notes"})
	assert.Error(t, err)

	_, err = New[note](Config{BaseURL: "http://example.com"})
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/collections/notes/items", r.URL.Path)
		assert.Equal(t, "u-1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "req-7", r.Header.Get("X-Correlation-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in note
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "hello", in.Title)

		writeBody(w, http.StatusCreated, `{"data":{"id":"n-1","title":"hello"},"meta":{"request_id":"req-7","timestamp":"2026-01-02T03:04:05Z"}}`)
	})

	ctx := observability.WithRequestID(context.Background(), "req-7")
	env, err := c.Create(ctx, note{Title: "hello"}, strPtr("u-1"))
	require.NoError(t, err)
	assert.Equal(t, note{ID: "n-1", Title: "hello"}, env.Data)
	require.NotNil(t, env.Meta)
	assert.Equal(t, "req-7", env.Meta.RequestID)
}

func TestRead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/collections/notes/items/a b", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-User-ID"))
		writeBody(w, http.StatusOK, `{"data":{"id":"a b","title":"spaced"}}`)
	})

	env, err := c.Read(context.Background(), "a b", nil)
	require.NoError(t, err)
	assert.Equal(t, "spaced", env.Data.Title)
	assert.Nil(t, env.Meta)
}

func TestReadAll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.JSONEq(t, `{"title":{"$ne":"x"}}`, q.Get("filter"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "c1", q.Get("cursor"))
		assert.Equal(t, "title:desc", q.Get("sort"))
		writeBody(w, http.StatusOK, `{"data":{"items":[{"id":"1","title":"b"},{"id":"2","title":"a"}],"next_cursor":"c2","has_more":true}}`)
	})

	limit := 2
	env, err := c.ReadAll(context.Background(), domain.Query{
		Filter:     domain.Filter{"title": map[string]any{"$ne": "x"}},
		Pagination: &domain.PaginationOptions{Cursor: strPtr("c1"), Limit: &limit},
		Sort:       []domain.SortOption{{Field: "title", Direction: domain.SortDescending}},
	})
	require.NoError(t, err)
	assert.Len(t, env.Data.Items, 2)
	assert.True(t, env.Data.HasMore)
	require.NotNil(t, env.Data.NextCursor)
	assert.Equal(t, "c2", *env.Data.NextCursor)
}

func TestReadAll_EmptyItemsNeverNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		writeBody(w, http.StatusOK, `{"data":{"items":null,"next_cursor":null,"has_more":false}}`)
	})

	env, err := c.ReadAll(context.Background(), domain.Query{})
	require.NoError(t, err)
	assert.NotNil(t, env.Data.Items)
	assert.Empty(t, env.Data.Items)
}

func TestUpdateAndDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/collections/notes/items/n-1", r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			writeBody(w, http.StatusOK, `{"data":{"id":"n-1","title":"new"}}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	env, err := c.Update(context.Background(), "n-1", note{Title: "new"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", env.Data.Title)

	require.NoError(t, c.Delete(context.Background(), "n-1", nil))
}

func TestCountAndAggregate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/collections/notes/count":
			assert.JSONEq(t, `{"done":true}`, r.URL.Query().Get("filter"))
			writeBody(w, http.StatusOK, `{"data":42}`)
		case "/api/v1/collections/notes/aggregate":
			var body struct {
				Pipeline []map[string]any `json:"pipeline"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Pipeline, 1)
			writeBody(w, http.StatusOK, `{"data":[{"n":3}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	n, err := c.Count(context.Background(), domain.Filter{"done": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.Data)

	out, err := c.Aggregate(context.Background(), []domain.Document{{"$count": "n"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{"n": json.Number("3")}}, out.Data)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{name: "not found with error body", status: 404, body: `{"error":"notes not found: x","code":"not_found"}`, sentinel: domain.ErrNotFound, message: "notes not found: x"},
		{name: "conflict", status: 409, body: `{"error":"exists"}`, sentinel: domain.ErrConflict, message: "exists"},
		{name: "plain text body", status: 400, body: "bad filter\n", sentinel: domain.ErrBadRequest, message: "bad filter"},
		{name: "empty body", status: 403, body: "", sentinel: domain.ErrForbidden},
		{name: "server error after retries", status: 500, body: `{"error":"boom"}`, sentinel: domain.ErrInternalError, message: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Read(context.Background(), "x", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))

			httpErr, ok := domain.AsHTTPError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.message, httpErr.Message)
		})
	}
}

func TestUndecodableBodyIsFormatError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{"data":{"id":7,"title":["not","a","string"]}}`)
	})

	_, err := c.Read(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidFormat))
	var formatErr *domain.FormatError
	assert.True(t, errors.As(err, &formatErr))
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New[note](Config{BaseURL: url, Collection: "notes", MaxRetries: 1, RetryDelay: time.Millisecond, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Read(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
}

func TestCanceledContextPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `{"data":{}}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Read(ctx, "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
