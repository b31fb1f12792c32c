// Package pipeline evaluates filters, sort keys and aggregate pipelines against
// loosely typed documents held in memory.
//
// Field paths are dot separated ("author.name"); a numeric segment indexes into a
// list. Numbers compare numerically regardless of their Go representation, so a
// filter value of int 3 matches a decoded float64 3 or a json.Number "3".
//
// Malformed filters and stages are reported as 400 *domain.HTTPError values so
// that data clients can return them to callers unchanged.
package pipeline

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Filter operators.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
	OpAnd    = "$and"
	OpOr     = "$or"
)

// Match reports whether doc satisfies filter. A nil or empty filter matches every document.
func Match(doc domain.Document, filter domain.Filter) (bool, error) {
	return matchMap(map[string]any(doc), map[string]any(filter))
}

// Validate checks filter for unknown operators and malformed operands without
// evaluating it against a document.
func Validate(filter domain.Filter) error {
	_, err := Match(domain.Document{}, filter)
	return err
}

func matchMap(doc, filter map[string]any) (bool, error) {
	matched := true
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)
		switch {
		case key == OpAnd || key == OpOr:
			ok, err = matchLogical(doc, key, cond)
		case strings.HasPrefix(key, "$"):
			return false, badRequest("unknown filter operator %q", key)
		default:
			ok, err = matchField(doc, key, cond)
		}
		if err != nil {
			return false, err
		}
		// Keep going after a miss so malformed clauses are always reported.
		matched = matched && ok
	}
	return matched, nil
}

func matchLogical(doc map[string]any, op string, cond any) (bool, error) {
	clauses, ok := toList(cond)
	if !ok || len(clauses) == 0 {
		return false, badRequest("%s requires a non-empty list of filters", op)
	}
	result := op == OpAnd
	for _, c := range clauses {
		sub, ok := toMap(c)
		if !ok {
			return false, badRequest("%s entries must be filter documents", op)
		}
		m, err := matchMap(doc, sub)
		if err != nil {
			return false, err
		}
		if op == OpAnd {
			result = result && m
		} else {
			result = result || m
		}
	}
	return result, nil
}

func matchField(doc map[string]any, path string, cond any) (bool, error) {
	value, present := Lookup(doc, path)

	ops, isOps := operatorDoc(cond)
	if !isOps {
		return valueEquals(value, present, cond), nil
	}

	matched := true
	for op, arg := range ops {
		ok, err := applyOperator(op, value, present, arg)
		if err != nil {
			return false, err
		}
		matched = matched && ok
	}
	return matched, nil
}

func applyOperator(op string, value any, present bool, arg any) (bool, error) {
	switch op {
	case OpEq:
		return valueEquals(value, present, arg), nil
	case OpNe:
		return !valueEquals(value, present, arg), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false, nil
		}
		c, ok := Compare(value, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpIn, OpNin:
		list, ok := toList(arg)
		if !ok {
			return false, badRequest("%s requires a list", op)
		}
		in := false
		for _, candidate := range list {
			if valueEquals(value, present, candidate) {
				in = true
				break
			}
		}
		if op == OpIn {
			return in, nil
		}
		return !in, nil
	case OpExists:
		want, ok := arg.(bool)
		if !ok {
			return false, badRequest("%s requires a boolean", op)
		}
		return present == want, nil
	default:
		return false, badRequest("unknown filter operator %q", op)
	}
}

// valueEquals implements equality with list membership: a list-valued field
// matches a scalar when any element is equal. A nil operand matches a missing field.
func valueEquals(value any, present bool, arg any) bool {
	if arg == nil {
		return !present || value == nil
	}
	if !present {
		return false
	}
	if Equal(value, arg) {
		return true
	}
	if _, argIsList := toList(arg); argIsList {
		return false
	}
	if list, ok := toList(value); ok {
		for _, elem := range list {
			if Equal(elem, arg) {
				return true
			}
		}
	}
	return false
}

// operatorDoc returns cond as an operator document when every key is an operator.
func operatorDoc(cond any) (map[string]any, bool) {
	m, ok := toMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// OperatorDocument returns cond as an operator document such as {"$gt": 1}.
func OperatorDocument(cond any) (map[string]any, bool) {
	return operatorDoc(cond)
}

// AsList returns v as a list when it is a slice or array other than []byte.
func AsList(v any) ([]any, bool) {
	return toList(v)
}

// AsDocument returns v as a map when it is an object value.
func AsDocument(v any) (map[string]any, bool) {
	return toMap(v)
}

// Lookup resolves a dot-separated path in doc.
func Lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, segment := range strings.Split(path, ".") {
		if m, ok := toMap(current); ok {
			v, found := m[segment]
			if !found {
				return nil, false
			}
			current = v
			continue
		}
		if list, ok := toList(current); ok {
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
			continue
		}
		return nil, false
	}
	return current, true
}

// Compare orders two scalar values. It reports false when the values are not
// mutually comparable (for example a string and a number).
func Compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// Equal reports deep equality with numeric normalisation.
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	if m, ok := toMap(v); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = normalize(e)
		}
		return out
	}
	if list, ok := toList(v); ok {
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case domain.Document:
		return m, true
	case domain.Filter:
		return m, true
	}
	return nil, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// []byte is a scalar, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func badRequest(format string, args ...any) error {
	return domain.NewBadRequestError(fmt.Sprintf(format, args...))
}
