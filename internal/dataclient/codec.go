// Package dataclient holds what the concrete data clients share: the JSON
// document codec, opaque cursors, response metadata, and decorators that add
// metrics, caching and change events around any repository.DataClient.
//
// Concrete clients live in subpackages:
//
//   - memclient: in-process store
//   - pgclient: PostgreSQL JSONB documents
//   - httpclient: remote instance of this service over REST
//
// Decorators never alter a client's error: whatever the wrapped client returns
// is returned to the caller as the same value.
package dataclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
)

// DefaultIDField is the document field holding the item id.
const DefaultIDField = "id"

// Operation names used in metrics and logs.
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpReadAll   = "read_all"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpCount     = "count"
	OpAggregate = "aggregate"
)

// Encode converts item to a document via its JSON representation.
// Numbers are kept as json.Number so integer precision survives the round trip.
func Encode[T any](item T) (domain.Document, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return nil, domain.NewFormatError(typeName[T](), err)
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return nil, domain.NewFormatError(typeName[T](), err)
	}
	if doc == nil {
		return nil, domain.NewFormatError(typeName[T](), fmt.Errorf("item encodes to null"))
	}
	return doc, nil
}

// Decode converts a document to T. Failures are *domain.FormatError.
func Decode[T any](doc domain.Document) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, domain.NewFormatError(typeName[T](), err)
	}
	if err := unmarshalNumbers(b, &out); err != nil {
		return out, domain.NewFormatError(typeName[T](), err)
	}
	return out, nil
}

// DecodeJSON decodes a raw JSON document body into T. Failures are *domain.FormatError.
func DecodeJSON[T any](raw []byte) (T, error) {
	var out T
	if err := unmarshalNumbers(raw, &out); err != nil {
		return out, domain.NewFormatError(typeName[T](), err)
	}
	return out, nil
}

// DecodeDocument decodes a raw JSON object into a document.
func DecodeDocument(raw []byte) (domain.Document, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, domain.NewFormatError("document", err)
	}
	return doc, nil
}

func decodeDocument(raw []byte) (domain.Document, error) {
	var doc domain.Document
	if err := unmarshalNumbers(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func typeName[T any]() string {
	var zero T
	return strings.TrimPrefix(fmt.Sprintf("%T", zero), "*")
}

// IDOf returns the id field of doc.
func IDOf(doc domain.Document, idField string) (string, bool) {
	switch v := doc[idField].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// ItemID encodes item and returns its id field.
func ItemID[T any](item T, idField string) (string, error) {
	doc, err := Encode(item)
	if err != nil {
		return "", err
	}
	id, ok := IDOf(doc, idField)
	if !ok {
		return "", fmt.Errorf("item has no %q field", idField)
	}
	return id, nil
}

const cursorPrefix = "o:"

// EncodeCursor returns the opaque continuation token for an offset.
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset encoded in cursor. A nil or empty cursor is offset 0.
func DecodeCursor(cursor *string) (int, error) {
	if cursor == nil || *cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(*cursor)
	if err != nil || !bytes.HasPrefix(raw, []byte(cursorPrefix)) {
		return 0, domain.NewBadRequestError("invalid cursor")
	}
	offset, err := strconv.Atoi(string(raw[len(cursorPrefix):]))
	if err != nil || offset < 0 {
		return 0, domain.NewBadRequestError("invalid cursor")
	}
	return offset, nil
}

// PageWindow is the resolved offset and limit of a ReadAll call.
type PageWindow struct {
	Offset  int
	Limit   int
	Bounded bool
}

// ResolvePage decodes the cursor and validates the limit. A nil limit is unbounded.
func ResolvePage(p *domain.PaginationOptions) (PageWindow, error) {
	if p == nil {
		return PageWindow{}, nil
	}
	offset, err := DecodeCursor(p.Cursor)
	if err != nil {
		return PageWindow{}, err
	}
	w := PageWindow{Offset: offset}
	if p.Limit != nil {
		if *p.Limit <= 0 {
			return PageWindow{}, domain.NewBadRequestError("limit must be positive")
		}
		w.Limit, w.Bounded = *p.Limit, true
	}
	return w, nil
}

// Paginate cuts one page out of items, which must already be filtered and sorted.
func Paginate[T any](items []T, w PageWindow) domain.PaginatedResult[T] {
	if w.Offset >= len(items) {
		return domain.PaginatedResult[T]{Items: []T{}}
	}
	rest := items[w.Offset:]
	if !w.Bounded || len(rest) <= w.Limit {
		page := make([]T, len(rest))
		copy(page, rest)
		return domain.PaginatedResult[T]{Items: page}
	}
	page := make([]T, w.Limit)
	copy(page, rest[:w.Limit])
	next := EncodeCursor(w.Offset + w.Limit)
	return domain.PaginatedResult[T]{Items: page, NextCursor: &next, HasMore: true}
}

// NewMeta returns response metadata for ctx. The request id comes from ctx,
// or a fresh uuid when none is set.
func NewMeta(ctx context.Context) *domain.ResponseMeta {
	requestID := observability.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &domain.ResponseMeta{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// CacheKey is the cache key of an item.
func CacheKey(collection, id string) string {
	return "item:" + collection + ":" + id
}
