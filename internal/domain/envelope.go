package domain

import "time"

// ResponseMeta is optional metadata attached to a successful data client response.
// The repository layer does not consume it.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope wraps a successful data client payload.
type Envelope[T any] struct {
	Data T             `json:"data"`
	Meta *ResponseMeta `json:"meta,omitempty"`
}

// NewEnvelope wraps data with the given metadata.
func NewEnvelope[T any](data T, meta *ResponseMeta) Envelope[T] {
	return Envelope[T]{Data: data, Meta: meta}
}

// PaginatedResult is one page of items plus a continuation cursor.
type PaginatedResult[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}
