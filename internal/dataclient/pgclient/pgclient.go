// Package pgclient implements repository.DataClient on PostgreSQL, storing
// every item as a JSONB document in a shared documents table.
package pgclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/helixir/data-repository-service/internal/database"
	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/pipeline"
)

// DefaultTable is the table created by the bundled migrations.
const DefaultTable = "documents"

const uniqueViolation = "23505"

// Config configures a PostgreSQL data client for one collection.
type Config struct {
	Collection string
	// IDField is the document field holding the item id. Defaults to "id".
	IDField string
	// Table defaults to DefaultTable.
	Table string
}

// Client stores the items of one collection in PostgreSQL.
type Client[T any] struct {
	db    database.DBTX
	cfg   Config
	table string
	idKey string
}

// New creates a PostgreSQL data client.
func New[T any](db database.DBTX, cfg Config) *Client[T] {
	if cfg.IDField == "" {
		cfg.IDField = dataclient.DefaultIDField
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	return &Client[T]{
		db:    db,
		cfg:   cfg,
		table: pq.QuoteIdentifier(cfg.Table),
		idKey: pq.QuoteLiteral(cfg.IDField),
	}
}

// scope starts a WHERE clause restricted to the collection and, when set, the owner.
func (c *Client[T]) scope(b *builder, userID *string) string {
	clause := "collection = " + b.bind(c.cfg.Collection)
	if userID != nil {
		clause += " AND owner_id = " + b.bind(*userID)
	}
	return clause
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
	body, err := json.Marshal(doc)
	if err != nil {
		return domain.Envelope[T]{}, fmt.Errorf("encode %s document: %w", c.cfg.Collection, err)
	}

	query := `INSERT INTO ` + c.table + ` (collection, id, owner_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING body`

	var stored []byte
	err = c.db.QueryRow(ctx, query, c.cfg.Collection, id, userID, body).Scan(&stored)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Envelope[T]{}, domain.NewConflictError(c.cfg.Collection, id)
		}
		return domain.Envelope[T]{}, c.storeError("create", err)
	}
	return c.envelope(ctx, stored)
}

func (c *Client[T]) Read(ctx context.Context, id string, userID *string) (domain.Envelope[T], error) {
	b := &builder{}
	where := c.scope(b, userID) + " AND id = " + b.bind(id)
	query := `SELECT body FROM ` + c.table + ` WHERE ` + where

	var stored []byte
	if err := c.db.QueryRow(ctx, query, b.args...).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Envelope[T]{}, domain.NewNotFoundError(c.cfg.Collection, id)
		}
		return domain.Envelope[T]{}, c.storeError("read", err)
	}
	return c.envelope(ctx, stored)
}

func (c *Client[T]) ReadAll(ctx context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[T]], error) {
	window, err := dataclient.ResolvePage(q.Pagination)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}
	if err := pipeline.Validate(q.Filter); err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}

	b := &builder{}
	where := c.scope(b, q.UserID)
	filter, err := b.where(q.Filter)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}
	orderBy, err := b.orderBy(q.Sort)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT body FROM ` + c.table + ` WHERE ` + where + ` AND ` + filter + ` ORDER BY ` + orderBy)
	if window.Bounded {
		// One extra row tells us whether another page exists.
		sb.WriteString(` LIMIT ` + b.bind(window.Limit+1))
	}
	if window.Offset > 0 {
		sb.WriteString(` OFFSET ` + b.bind(window.Offset))
	}

	bodies, err := c.queryBodies(ctx, sb.String(), b.args)
	if err != nil {
		return domain.Envelope[domain.PaginatedResult[T]]{}, err
	}

	page := domain.PaginatedResult[T]{Items: make([]T, 0, len(bodies))}
	if window.Bounded && len(bodies) > window.Limit {
		bodies = bodies[:window.Limit]
		next := dataclient.EncodeCursor(window.Offset + window.Limit)
		page.NextCursor, page.HasMore = &next, true
	}
	for _, raw := range bodies {
		item, err := dataclient.DecodeJSON[T](raw)
		if err != nil {
			return domain.Envelope[domain.PaginatedResult[T]]{}, err
		}
		page.Items = append(page.Items, item)
	}
	return domain.NewEnvelope(page, dataclient.NewMeta(ctx)), nil
}

func (c *Client[T]) Update(ctx context.Context, id string, item T, userID *string) (domain.Envelope[T], error) {
	doc, err := dataclient.Encode(item)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	doc[c.cfg.IDField] = id
	body, err := json.Marshal(doc)
	if err != nil {
		return domain.Envelope[T]{}, fmt.Errorf("encode %s document: %w", c.cfg.Collection, err)
	}

	b := &builder{}
	set := b.bind(body)
	where := c.scope(b, userID) + " AND id = " + b.bind(id)
	// The stored id keeps its JSON type; a numeric id stays numeric.
	query := `UPDATE ` + c.table + ` SET body = ` + set + `::jsonb || jsonb_build_object(` + c.idKey +
		`, COALESCE(body -> ` + c.idKey + `, ` + set + `::jsonb -> ` + c.idKey + `)), updated_at = NOW() WHERE ` + where + ` RETURNING body`

	var stored []byte
	if err := c.db.QueryRow(ctx, query, b.args...).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Envelope[T]{}, domain.NewNotFoundError(c.cfg.Collection, id)
		}
		return domain.Envelope[T]{}, c.storeError("update", err)
	}
	return c.envelope(ctx, stored)
}

func (c *Client[T]) Delete(ctx context.Context, id string, userID *string) error {
	b := &builder{}
	where := c.scope(b, userID) + " AND id = " + b.bind(id)
	query := `DELETE FROM ` + c.table + ` WHERE ` + where

	tag, err := c.db.Exec(ctx, query, b.args...)
	if err != nil {
		return c.storeError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError(c.cfg.Collection, id)
	}
	return nil
}

func (c *Client[T]) Count(ctx context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	if err := pipeline.Validate(filter); err != nil {
		return domain.Envelope[int64]{}, err
	}
	b := &builder{}
	where := c.scope(b, userID)
	cond, err := b.where(filter)
	if err != nil {
		return domain.Envelope[int64]{}, err
	}
	query := `SELECT COUNT(*) FROM ` + c.table + ` WHERE ` + where + ` AND ` + cond

	var n int64
	if err := c.db.QueryRow(ctx, query, b.args...).Scan(&n); err != nil {
		return domain.Envelope[int64]{}, c.storeError("count", err)
	}
	return domain.NewEnvelope(n, dataclient.NewMeta(ctx)), nil
}

// Aggregate pushes a leading $match down to SQL and evaluates the remaining
// stages in memory over the selected documents.
func (c *Client[T]) Aggregate(ctx context.Context, stages []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	filter, rest, err := pipeline.SplitLeadingMatch(stages)
	if err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}
	if err := pipeline.Validate(filter); err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}

	b := &builder{}
	where := c.scope(b, userID)
	cond, err := b.where(filter)
	if err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}
	query := `SELECT body FROM ` + c.table + ` WHERE ` + where + ` AND ` + cond + ` ORDER BY seq ASC`

	bodies, err := c.queryBodies(ctx, query, b.args)
	if err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}
	docs := make([]domain.Document, 0, len(bodies))
	for _, raw := range bodies {
		doc, err := dataclient.DecodeDocument(raw)
		if err != nil {
			return domain.Envelope[[]domain.Document]{}, err
		}
		docs = append(docs, doc)
	}

	out, err := pipeline.Run(docs, rest)
	if err != nil {
		return domain.Envelope[[]domain.Document]{}, err
	}
	return domain.NewEnvelope(out, dataclient.NewMeta(ctx)), nil
}

func (c *Client[T]) queryBodies(ctx context.Context, query string, args []any) ([][]byte, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, c.storeError("query", err)
	}
	defer rows.Close()

	var bodies [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, c.storeError("scan", err)
		}
		bodies = append(bodies, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, c.storeError("iterate", err)
	}
	return bodies, nil
}

// storeError reports a driver failure as 503 with the cause attached.
// Context cancellation and deadlines are returned unchanged.
func (c *Client[T]) storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.HTTPError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    fmt.Sprintf("%s %s: store unavailable", op, c.cfg.Collection),
		Cause:      err,
	}
}

func (c *Client[T]) envelope(ctx context.Context, raw []byte) (domain.Envelope[T], error) {
	item, err := dataclient.DecodeJSON[T](raw)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	return domain.NewEnvelope(item, dataclient.NewMeta(ctx)), nil
}
