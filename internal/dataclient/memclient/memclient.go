// Package memclient implements an in-process repository.DataClient.
//
// Items are stored as JSON documents in insertion order, together with the
// user that created them. Calls that pass a user id only see that user's
// items; calls without one see everything.
package memclient

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/pipeline"
)

// Config configures a memory client.
type Config struct {
	// Collection names the stored items in error messages and metrics.
	Collection string
	// IDField is the document field holding the item id. Defaults to "id".
	IDField string
}

type record struct {
	id      string
	ownerID *string
	doc     domain.Document
}

// Client is an in-memory data client for one collection. It is safe for concurrent use.
type Client[T any] struct {
	cfg Config

	mu      sync.RWMutex
	records []*record
	byID    map[string]*record
}

// New creates an empty memory client.
func New[T any](cfg Config) *Client[T] {
	if cfg.IDField == "" {
		cfg.IDField = dataclient.DefaultIDField
	}
	return &Client[T]{
		cfg:  cfg,
		byID: make(map[string]*record),
	}
}

func visible(r *record, userID *string) bool {
	if userID == nil {
		return true
	}
	return r.ownerID != nil && *r.ownerID == *userID
}

// lookup returns the record visible to userID. Callers must hold mu.
func (c *Client[T]) lookup(id string, userID *string) (*record, error) {
	r, ok := c.byID[id]
	if !ok || !visible(r, userID) {
		return nil, domain.NewNotFoundError(c.cfg.Collection, id)
	}
	return r, nil
}

// scoped returns the documents visible to userID in insertion order. Callers must hold mu.
func (c *Client[T]) scoped(userID *string) []domain.Document {
	docs := make([]domain.Document, 0, len(c.records))
	for _, r := range c.records {
		if visible(r, userID) {
			docs = append(docs, r.doc)
		}
	}
	return docs
}

func (c *Client[T]) Create(ctx context.Context, item T, userID *string) (domain.Envelope[T], error) {
	doc, err := dataclient.Encode(item)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	id, ok := dataclient.IDOf(doc, c.cfg.IDField)
	if !ok {
		id = uuid.NewString()
		doc[c.cfg.IDField] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[id]; exists {
		return domain.Envelope[T]{}, domain.NewConflictError(c.cfg.Collection, id)
	}
	r := &record{id: id, ownerID: copyString(userID), doc: doc}
	c.records = append(c.records, r)
	c.byID[id] = r

	return c.envelope(ctx, doc)
}

func (c *Client[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, err := c.lookup(id, userID)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	return c.envelope(ctx, r.doc)
}

func (c *Client[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	window, err := dataclient.ResolvePage(q.Pagination)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}
	if err := pipeline.Validate(q.Filter); err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}

	c.mu.RLock()
	matched := make([]domain.Document, 0, len(c.records))
	for _, doc := range c.scoped(q.UserID) {
		ok, err := pipeline.Match(doc, q.Filter)
		if err != nil {
			c.mu.RUnlock()
			return domain.Envelope[domain.PaginatedResult[T]]{}, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	c.mu.RUnlock()

	if err := pipeline.Sort(matched, q.Sort); err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}

	page := dataclient.Paginate(matched, window)
	items := make([]T, 0, len(page.Items))
	for _, doc := range page.Items {
		item, err := dataclient.Decode[T](doc)
		if err != nil {
			return domain.Envelope[domain.PaginatedResult[T]]{}, err
		}
		items = append(items, item)
	}

	return domain.NewEnvelope(domain.PaginatedResult[T]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, dataclient.NewMeta(ctx)), nil
}

func (c *Client[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	doc, err := dataclient.Encode(item)
	if err != nil {
		return domain.Envelope[T]{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.lookup(id, userID)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	// The stored id keeps its JSON type; a numeric id stays numeric.
	doc[c.cfg.IDField] = r.doc[c.cfg.IDField]
	r.doc = doc
	return c.envelope(ctx, doc)
}

func (c *Client[T]) Delete(_ context.Context, id string, userID *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.lookup(id, userID)
	if err != nil {
		return err
	}
	delete(c.byID, id)
	for i, existing := range c.records {
		if existing == r {
			c.records = append(c.records[:i], c.records[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Client[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	if err := pipeline.Validate(filter); err != nil {
		return domain.Envelope[int64]{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	for _, doc := range c.scoped(userID) {
		ok, err := pipeline.Match(doc, filter)
		if err != nil {
			return domain.Envelope[int64]{}, err
		}
		if ok {
			n++
		}
	}
	return domain.NewEnvelope(n, dataclient.NewMeta(ctx)), nil
}

func (c *Client[T]) Aggregate(ctx context.Context, stages []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	c.mu.RLock()
	docs := make([]domain.Document, 0, len(c.records))
	for _, doc := range c.scoped(userID) {
		// Stages may hand documents back unchanged; never expose stored maps.
		clone, err := dataclient.Decode[domain.Document](doc)
		if err != nil {
			c.mu.RUnlock()
			return domain.Envelope[[]domain.Document]{}, err
		}
		docs = append(docs, clone)
	}
	c.mu.RUnlock()

	out, err := pipeline.Run(docs, stages)
	if err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}
	return domain.NewEnvelope(out, dataclient.NewMeta(ctx)), nil
}

// Len returns the number of stored items.
func (c *Client[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Client[T]) envelope(ctx context.Context, doc domain.Document) (domain.Envelope[T], error) {
	item, err := dataclient.Decode[T](doc)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	return domain.NewEnvelope(item, dataclient.NewMeta(ctx)), nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
