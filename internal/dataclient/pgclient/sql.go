package pgclient

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/pipeline"
)

// builder accumulates positional arguments while SQL fragments are rendered.
type builder struct {
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// path renders the jsonb value at a dot-separated field path.
func (b *builder) path(field string) string {
	return "body #> " + b.bind(strings.Split(field, "."))
}

func (b *builder) jsonValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", domain.NewBadRequestError(fmt.Sprintf("filter value is not JSON: %v", err))
	}
	return b.bind(string(raw)) + "::jsonb", nil
}

// where renders filter as a boolean SQL expression. Keys are visited in sorted
// order so the same filter always yields the same statement.
func (b *builder) where(filter map[string]any) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, 0, len(filter))
	for _, key := range slices.Sorted(maps.Keys(filter)) {
		cond := filter[key]
		var (
			part string
			err  error
		)
		switch {
		case key == pipeline.OpAnd || key == pipeline.OpOr:
			part, err = b.logical(key, cond)
		case strings.HasPrefix(key, "$"):
			err = domain.NewBadRequestError(fmt.Sprintf("unknown filter operator %q", key))
		default:
			part, err = b.field(key, cond)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *builder) logical(op string, cond any) (string, error) {
	clauses, ok := pipeline.AsList(cond)
	if !ok || len(clauses) == 0 {
		return "", domain.NewBadRequestError(op + " requires a non-empty list of filters")
	}
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		sub, ok := pipeline.AsDocument(c)
		if !ok {
			return "", domain.NewBadRequestError(op + " entries must be filter documents")
		}
		part, err := b.where(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	joiner := " AND "
	if op == pipeline.OpOr {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (b *builder) field(field string, cond any) (string, error) {
	ops, isOps := pipeline.OperatorDocument(cond)
	if !isOps {
		return b.equals(field, cond)
	}

	parts := make([]string, 0, len(ops))
	for _, op := range slices.Sorted(maps.Keys(ops)) {
		part, err := b.operator(field, op, ops[op])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *builder) operator(field, op string, arg any) (string, error) {
	switch op {
	case pipeline.OpEq:
		return b.equals(field, arg)
	case pipeline.OpNe:
		eq, err := b.equals(field, arg)
		if err != nil {
			return "", err
		}
		return "NOT " + eq, nil
	case pipeline.OpGt, pipeline.OpGte, pipeline.OpLt, pipeline.OpLte:
		return b.compare(field, op, arg)
	case pipeline.OpIn, pipeline.OpNin:
		list, ok := pipeline.AsList(arg)
		if !ok {
			return "", domain.NewBadRequestError(op + " requires a list")
		}
		if len(list) == 0 {
			if op == pipeline.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		parts := make([]string, 0, len(list))
		for _, candidate := range list {
			eq, err := b.equals(field, candidate)
			if err != nil {
				return "", err
			}
			parts = append(parts, eq)
		}
		in := "(" + strings.Join(parts, " OR ") + ")"
		if op == pipeline.OpNin {
			return "NOT " + in, nil
		}
		return in, nil
	case pipeline.OpExists:
		want, ok := arg.(bool)
		if !ok {
			return "", domain.NewBadRequestError(op + " requires a boolean")
		}
		if want {
			return "(" + b.path(field) + ") IS NOT NULL", nil
		}
		return "(" + b.path(field) + ") IS NULL", nil
	}
	return "", domain.NewBadRequestError(fmt.Sprintf("unknown filter operator %q", op))
}

// equals matches a value exactly, or as an element when the stored value is a
// list and the operand is not. A nil operand matches a missing or null field.
func (b *builder) equals(field string, v any) (string, error) {
	p := b.path(field)
	if v == nil {
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", p, p), nil
	}
	val, err := b.jsonValue(v)
	if err != nil {
		return "", err
	}
	if _, isList := pipeline.AsList(v); isList {
		return fmt.Sprintf("COALESCE(%s = %s, false)", p, val), nil
	}
	return fmt.Sprintf(
		"COALESCE(%[1]s = %[2]s OR CASE WHEN jsonb_typeof(%[1]s) = 'array' THEN EXISTS (SELECT 1 FROM jsonb_array_elements(%[1]s) AS e(v) WHERE e.v = %[2]s) ELSE false END, false)",
		p, val), nil
}

// compare orders scalars of the same JSON type; anything else never matches.
func (b *builder) compare(field, op string, arg any) (string, error) {
	if arg == nil {
		return "FALSE", nil
	}
	if _, isList := pipeline.AsList(arg); isList {
		return "FALSE", nil
	}
	if _, isDoc := pipeline.AsDocument(arg); isDoc {
		return "FALSE", nil
	}
	sqlOp := map[string]string{
		pipeline.OpGt:  ">",
		pipeline.OpGte: ">=",
		pipeline.OpLt:  "<",
		pipeline.OpLte: "<=",
	}[op]

	p := b.path(field)
	val, err := b.jsonValue(arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("COALESCE(jsonb_typeof(%[1]s) = jsonb_typeof(%[2]s) AND %[1]s %[3]s %[2]s, false)", p, val, sqlOp), nil
}

// orderBy renders sort keys with the in-memory type order: null, numbers,
// strings, booleans, then everything else. Ties fall back to insertion order.
func (b *builder) orderBy(keys []domain.SortOption) (string, error) {
	parts := make([]string, 0, 2*len(keys)+1)
	for _, k := range keys {
		if k.Field == "" {
			return "", domain.NewBadRequestError("sort field must not be empty")
		}
		if !k.Direction.IsValid() {
			return "", domain.NewBadRequestError(fmt.Sprintf("invalid sort direction %q for field %q", k.Direction, k.Field))
		}
		dir := "ASC"
		if k.Direction == domain.SortDescending {
			dir = "DESC"
		}
		p := b.path(k.Field)
		parts = append(parts,
			fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'number' THEN 1 WHEN 'string' THEN 2 WHEN 'boolean' THEN 3 WHEN 'object' THEN 4 WHEN 'array' THEN 4 ELSE 0 END %s", p, dir),
			fmt.Sprintf("COALESCE(%s, 'null'::jsonb) %s", p, dir),
		)
	}
	parts = append(parts, "seq ASC")
	return strings.Join(parts, ", "), nil
}
