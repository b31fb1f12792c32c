package pipeline

import (
	"strings"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Group accumulators.
const (
	AccSum   = "$sum"
	AccAvg   = "$avg"
	AccMin   = "$min"
	AccMax   = "$max"
	AccPush  = "$push"
	AccFirst = "$first"
	AccLast  = "$last"
)

type accumulator struct {
	field string
	op    string
	arg   any
}

type groupState struct {
	id     any
	values map[string]*accState
}

type accState struct {
	sum    float64
	allInt bool
	count  int
	best   any
	set    bool
	items  []any
}

func groupStage(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := toMap(arg)
	if !ok {
		return nil, badRequest("%s requires a document", StageGroup)
	}
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, badRequest("%s requires an _id expression", StageGroup)
	}

	accs := make([]accumulator, 0, len(spec)-1)
	for field, v := range spec {
		if field == "_id" {
			continue
		}
		m, ok := toMap(v)
		if !ok || len(m) != 1 {
			return nil, badRequest("%s field %q must be a single accumulator", StageGroup, field)
		}
		for op, a := range m {
			switch op {
			case AccSum, AccAvg, AccMin, AccMax, AccPush, AccFirst, AccLast:
			default:
				return nil, badRequest("unknown %s accumulator %q", StageGroup, op)
			}
			if op != AccSum {
				if _, isRef := fieldRef(a); !isRef {
					return nil, badRequest("%s requires a \"$field\" reference", op)
				}
			}
			accs = append(accs, accumulator{field: field, op: op, arg: a})
		}
	}

	var (
		order  []string
		groups = map[string]*groupState{}
	)
	for _, d := range docs {
		id := evalExpr(d, idExpr)
		key := groupKey(id)
		g, ok := groups[key]
		if !ok {
			g = &groupState{id: id, values: map[string]*accState{}}
			for _, a := range accs {
				g.values[a.field] = &accState{allInt: true}
			}
			groups[key] = g
			order = append(order, key)
		}
		for _, a := range accs {
			accumulate(g.values[a.field], a, d)
		}
	}

	out := make([]domain.Document, 0, len(order))
	for _, key := range order {
		g := groups[key]
		doc := domain.Document{"_id": g.id}
		for _, a := range accs {
			doc[a.field] = finish(g.values[a.field], a.op)
		}
		out = append(out, doc)
	}
	return out, nil
}

func fieldRef(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") || len(s) < 2 {
		return "", false
	}
	return s[1:], true
}

// evalExpr resolves "$field" references against doc; any other value is a constant.
func evalExpr(doc domain.Document, expr any) any {
	if path, ok := fieldRef(expr); ok {
		v, _ := Lookup(doc, path)
		return v
	}
	return expr
}

func accumulate(st *accState, a accumulator, doc domain.Document) {
	v := evalExpr(doc, a.arg)
	switch a.op {
	case AccSum, AccAvg:
		f, ok := toFloat(v)
		if !ok {
			return
		}
		if _, isInt := toInt(v); !isInt || isFloatKind(v) {
			st.allInt = false
		}
		st.sum += f
		st.count++
	case AccMin, AccMax:
		if v == nil {
			return
		}
		if !st.set {
			st.best, st.set = v, true
			return
		}
		c := orderValues(v, st.best)
		if (a.op == AccMin && c < 0) || (a.op == AccMax && c > 0) {
			st.best = v
		}
	case AccPush:
		st.items = append(st.items, v)
	case AccFirst:
		if !st.set {
			st.best, st.set = v, true
		}
	case AccLast:
		st.best, st.set = v, true
	}
}

func finish(st *accState, op string) any {
	switch op {
	case AccSum:
		if st.allInt {
			return int64(st.sum)
		}
		return st.sum
	case AccAvg:
		if st.count == 0 {
			return nil
		}
		return st.sum / float64(st.count)
	case AccPush:
		if st.items == nil {
			return []any{}
		}
		return st.items
	default:
		return st.best
	}
}

func isFloatKind(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}
