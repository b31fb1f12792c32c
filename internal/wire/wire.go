// Package wire defines the REST wire format shared by the HTTP API and the
// remote data client: routes, headers, query parameters and bodies.
package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Header names.
const (
	HeaderUserID        = "X-User-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRetryAfter    = "Retry-After"
	ContentTypeJSON     = "application/json"
)

// Query parameter names.
const (
	ParamFilter = "filter"
	ParamCursor = "cursor"
	ParamLimit  = "limit"
	ParamSort   = "sort"
)

// APIPrefix is the root of every collection route.
const APIPrefix = "/api/v1/collections"

// ItemsPath is the path of a collection's items.
func ItemsPath(collection string) string {
	return APIPrefix + "/" + url.PathEscape(collection) + "/items"
}

// ItemPath is the path of one item.
func ItemPath(collection, id string) string {
	return ItemsPath(collection) + "/" + url.PathEscape(id)
}

// CountPath is the path of a collection's count endpoint.
func CountPath(collection string) string {
	return APIPrefix + "/" + url.PathEscape(collection) + "/count"
}

// AggregatePath is the path of a collection's aggregate endpoint.
func AggregatePath(collection string) string {
	return APIPrefix + "/" + url.PathEscape(collection) + "/aggregate"
}

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AggregateRequest is the JSON body of an aggregate call.
type AggregateRequest struct {
	Pipeline []domain.Document `json:"pipeline"`
}

// EncodeFilter renders a filter as compact JSON. A nil filter encodes to "".
func EncodeFilter(filter domain.Filter) (string, error) {
	if filter == nil {
		return "", nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("encode filter: %w", err)
	}
	return string(b), nil
}

// DecodeFilter parses a JSON filter. An empty string is a nil filter.
// Numbers are kept as json.Number.
func DecodeFilter(raw string) (domain.Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var filter domain.Filter
	if err := dec.Decode(&filter); err != nil {
		return nil, domain.NewValidationError(ParamFilter, "filter must be a JSON object")
	}
	if dec.More() {
		return nil, domain.NewValidationError(ParamFilter, "unexpected data after filter")
	}
	if filter == nil {
		return nil, domain.NewValidationError(ParamFilter, "filter must be a JSON object")
	}
	return filter, nil
}

// EncodeSort renders sort keys as "field:asc,other:desc".
func EncodeSort(keys []domain.SortOption) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.Field+":"+string(k.Direction))
	}
	return strings.Join(parts, ",")
}

// DecodeSort parses "field:asc,other:desc". A key without a direction sorts ascending.
func DecodeSort(raw string) ([]domain.SortOption, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var keys []domain.SortOption
	for _, part := range strings.Split(raw, ",") {
		field, dir, hasDir := strings.Cut(strings.TrimSpace(part), ":")
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, domain.NewValidationError(ParamSort, fmt.Sprintf("empty sort field in %q", raw))
		}
		direction := domain.SortAscending
		if hasDir {
			d, err := domain.ParseSortDirection(dir)
			if err != nil {
				return nil, domain.NewValidationError(ParamSort, fmt.Sprintf("invalid sort direction %q", dir))
			}
			direction = d
		}
		keys = append(keys, domain.SortOption{Field: field, Direction: direction})
	}
	return keys, nil
}

// EncodeQuery renders the list parameters of q. UserID travels in a header, not here.
func EncodeQuery(q domain.Query) (url.Values, error) {
	v := url.Values{}
	filter, err := EncodeFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	if filter != "" {
		v.Set(ParamFilter, filter)
	}
	if p := q.Pagination; p != nil {
		if p.Cursor != nil && *p.Cursor != "" {
			v.Set(ParamCursor, *p.Cursor)
		}
		if p.Limit != nil {
			v.Set(ParamLimit, strconv.Itoa(*p.Limit))
		}
	}
	if len(q.Sort) > 0 {
		v.Set(ParamSort, EncodeSort(q.Sort))
	}
	return v, nil
}

// DecodeQuery parses list parameters. Parse failures are *domain.ValidationError.
func DecodeQuery(v url.Values) (domain.Query, error) {
	var q domain.Query

	filter, err := DecodeFilter(v.Get(ParamFilter))
	if err != nil {
		return q, err
	}
	q.Filter = filter

	var p domain.PaginationOptions
	if c := v.Get(ParamCursor); c != "" {
		p.Cursor = &c
	}
	if l := v.Get(ParamLimit); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return q, domain.NewValidationError(ParamLimit, fmt.Sprintf("limit must be an integer, got %q", l))
		}
		p.Limit = &n
	}
	if p.Cursor != nil || p.Limit != nil {
		q.Pagination = &p
	}

	q.Sort, err = DecodeSort(v.Get(ParamSort))
	if err != nil {
		return q, err
	}
	return q, nil
}

// ErrorCode returns the machine-readable code sent with an error response.
func ErrorCode(status int) string {
	switch status {
	case 400:
		return "bad_request"
	case 401:
		return "unauthorized"
	case 403:
		return "forbidden"
	case 404:
		return "not_found"
	case 409:
		return "conflict"
	case 429:
		return "rate_limited"
	case 503:
		return "unavailable"
	}
	if status >= 500 {
		return "internal"
	}
	return "error"
}
