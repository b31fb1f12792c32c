// Package httpclient implements repository.DataClient against a remote
// instance of the data repository REST API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/wire"
)

const maxResponseSize = 10 << 20

// Config configures a remote data client for one collection.
type Config struct {
	BaseURL    string
	Collection string

	Timeout      time.Duration
	RateLimit    float64
	BurstSize    int
	// MaxRetries of zero disables retries; see DefaultMaxRetries.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	UserAgent     string
	APIKey        string
	APIKeyHeader  string

	// Transport, when set, is used instead of building one from the fields
	// above, so several collections can share one rate limit upstream.
	Transport *Transport
}

// Client talks to the REST API of a remote data repository.
type Client[T any] struct {
	baseURL    *url.URL
	collection string
	transport  *Transport
}

// New creates a remote client. BaseURL must be an absolute http(s) URL.
func New[T any](cfg Config) (*Client[T], error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(cfg.transportConfig())
	}
	return &Client[T]{
		baseURL:    base,
		collection: cfg.Collection,
		transport:  transport,
	}, nil
}

func (cfg Config) transportConfig() TransportConfig {
	return TransportConfig{
		Timeout:       cfg.Timeout,
		RateLimit:     cfg.RateLimit,
		BurstSize:     cfg.BurstSize,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: cfg.MaxRetryDelay,
		UserAgent:     cfg.UserAgent,
		APIKey:        cfg.APIKey,
		APIKeyHeader:  cfg.APIKeyHeader,
	}
}

func (c *Client[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	return call[T](ctx, c, http.MethodPost, wire.ItemsPath(c.collection), nil, item, userID)
}

func (c *Client[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	return call[T](ctx, c, http.MethodGet, wire.ItemPath(c.collection, id), nil, nil, userID)
}

func (c *Client[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	query, err := wire.EncodeQuery(q)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}
	env, err := call[domain.PaginatedResult[T]](ctx, c, http.MethodGet, wire.ItemsPath(c.collection), query, nil, q.UserID)
	if err != nil {
		return env, err
	}
	if env.Data.Items == nil {
		env.Data.Items = []T{}
	}
	return env, nil
}

func (c *Client[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	return call[T](ctx, c, http.MethodPut, wire.ItemPath(c.collection, id), nil, item, userID)
}

func (c *Client[T]) Delete(ctx context.Context, id string, userID *string) error {
	resp, err := c.send(ctx, http.MethodDelete, wire.ItemPath(c.collection, id), nil, nil, userID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	return nil
}

func (c *Client[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	raw, err := wire.EncodeFilter(filter)
	if err != nil {
		return domain.Envelope[int64]{}, err
	}
	var query url.Values
	if raw != "" {
		query = url.Values{wire.ParamFilter: {raw}}
	}
	return call[int64](ctx, c, http.MethodGet, wire.CountPath(c.collection), query, nil, userID)
}

func (c *Client[T]) Aggregate(ctx context.Context, stages []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	if stages == nil {
		stages = []domain.Document{}
	}
	env, err := call[[]domain.Document](ctx, c, http.MethodPost, wire.AggregatePath(c.collection), nil,
		wire.AggregateRequest{Pipeline: stages}, userID)
	if err != nil {
		return env, err
	}
	if env.Data == nil {
		env.Data = []domain.Document{}
	}
	return env, nil
}

// call sends a request and decodes a {"data": ..., "meta": ...} body into an envelope of R.
func call[R, T any](ctx context.Context, c *Client[T], method, path string, query url.Values, body any, userID *string) (domain.Envelope[R], error) {
	resp, err := c.send(ctx, method, path, query, body, userID)
	if err != nil {
		return domain.Envelope[R]{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Envelope[R]{}, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	return dataclient.DecodeJSON[domain.Envelope[R]](raw)
}

// send performs the request and turns non-2xx answers into *domain.HTTPError.
func (c *Client[T]) send(ctx context.Context, method, path string, query url.Values, body any, userID *string) (*http.Response, error) {
	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.collection, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", wire.ContentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", wire.ContentTypeJSON)
	}
	if userID != nil {
		req.Header.Set(wire.HeaderUserID, *userID)
	}
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(wire.HeaderCorrelationID, requestID)
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    fmt.Sprintf("%s %s: remote unavailable", method, path),
			Cause:      err,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

// responseError builds the error for a non-2xx response, preferring the server's message.
func responseError(resp *http.Response) *domain.HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body wire.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return domain.NewHTTPError(resp.StatusCode, body.Error)
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return domain.NewHTTPError(resp.StatusCode, msg)
	}
	return domain.NewHTTPError(resp.StatusCode, "")
}
