// Package domain holds the types shared by the repository, its data clients and
// the HTTP API: documents, queries, response envelopes and the error family.
package domain

import (
	"fmt"
	"strings"
)

// Filter maps a field name to a constraint. It is passed through the repository verbatim.
type Filter map[string]any

// Document is a loosely typed document used for aggregate stages and results.
type Document map[string]any

// SortDirection is the direction of a sort key.
type SortDirection string

// Sort direction constants.
const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// IsValid checks if the sort direction is a known value.
func (d SortDirection) IsValid() bool {
	return d == SortAscending || d == SortDescending
}

// ParseSortDirection parses "asc"/"desc" (case-insensitive).
func ParseSortDirection(s string) (SortDirection, error) {
	d := SortDirection(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", NewValidationError("sort", fmt.Sprintf("invalid sort direction %q", s))
	}
	return d, nil
}

// SortOption is a single (field, direction) sort key.
type SortOption struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// PaginationOptions configures cursor pagination. A nil Limit means unbounded.
type PaginationOptions struct {
	Cursor *string `json:"cursor,omitempty"`
	Limit  *int    `json:"limit,omitempty"`
}

// Query bundles the optional ReadAll parameters forwarded to a data client.
// Nil fields mean "not supplied".
type Query struct {
	UserID     *string
	Filter     Filter
	Pagination *PaginationOptions
	Sort       []SortOption
}
