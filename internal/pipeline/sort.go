package pipeline

import (
	"cmp"
	"slices"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Sort orders docs in place by the given keys. The sort is stable; documents
// with a missing or null key sort first in ascending order.
func Sort(docs []domain.Document, keys []domain.SortOption) error {
	for _, k := range keys {
		if k.Field == "" {
			return badRequest("sort field must not be empty")
		}
		if !k.Direction.IsValid() {
			return badRequest("invalid sort direction %q for field %q", k.Direction, k.Field)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	slices.SortStableFunc(docs, func(a, b domain.Document) int {
		for _, k := range keys {
			av, _ := Lookup(a, k.Field)
			bv, _ := Lookup(b, k.Field)
			c := orderValues(av, bv)
			if k.Direction == domain.SortDescending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

// orderValues is a total order over values: null < numbers < strings < booleans < other.
func orderValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return 0
}

func typeRank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	}
	return 4
}
