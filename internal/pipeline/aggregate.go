package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/helixir/data-repository-service/internal/domain"
)

// Aggregate stage operators.
const (
	StageMatch   = "$match"
	StageSort    = "$sort"
	StageSkip    = "$skip"
	StageLimit   = "$limit"
	StageProject = "$project"
	StageCount   = "$count"
	StageGroup   = "$group"
)

// Run applies stages to docs in order and returns the resulting documents.
// The input documents are not modified.
func Run(docs []domain.Document, stages []domain.Document) ([]domain.Document, error) {
	current := slices.Clone(docs)
	for _, stage := range stages {
		op, arg, err := stageOperator(stage)
		if err != nil {
			return nil, err
		}
		current, err = runStage(current, op, arg)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// SplitLeadingMatch separates a leading $match stage from the rest of the
// pipeline. It returns a nil filter when the pipeline does not start with one.
func SplitLeadingMatch(stages []domain.Document) (domain.Filter, []domain.Document, error) {
	if len(stages) == 0 {
		return nil, stages, nil
	}
	op, arg, err := stageOperator(stages[0])
	if err != nil {
		return nil, nil, err
	}
	if op != StageMatch {
		return nil, stages, nil
	}
	m, ok := toMap(arg)
	if !ok {
		return nil, nil, badRequest("%s requires a filter document", StageMatch)
	}
	return domain.Filter(m), stages[1:], nil
}

func stageOperator(stage domain.Document) (string, any, error) {
	if len(stage) != 1 {
		return "", nil, badRequest("aggregate stage must have exactly one operator, got %d", len(stage))
	}
	for op, arg := range stage {
		return op, arg, nil
	}
	return "", nil, nil
}

func runStage(docs []domain.Document, op string, arg any) ([]domain.Document, error) {
	switch op {
	case StageMatch:
		return matchStage(docs, arg)
	case StageSort:
		keys, err := sortKeys(arg)
		if err != nil {
			return nil, err
		}
		if err := Sort(docs, keys); err != nil {
			return nil, err
		}
		return docs, nil
	case StageSkip:
		n, ok := toInt(arg)
		if !ok || n < 0 {
			return nil, badRequest("%s requires a non-negative integer", op)
		}
		if n >= len(docs) {
			return []domain.Document{}, nil
		}
		return docs[n:], nil
	case StageLimit:
		n, ok := toInt(arg)
		if !ok || n <= 0 {
			return nil, badRequest("%s requires a positive integer", op)
		}
		if n < len(docs) {
			return docs[:n], nil
		}
		return docs, nil
	case StageProject:
		return projectStage(docs, arg)
	case StageCount:
		name, ok := arg.(string)
		if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, badRequest("%s requires a plain field name", op)
		}
		return []domain.Document{{name: int64(len(docs))}}, nil
	case StageGroup:
		return groupStage(docs, arg)
	default:
		return nil, badRequest("unknown aggregate stage %q", op)
	}
}

func matchStage(docs []domain.Document, arg any) ([]domain.Document, error) {
	m, ok := toMap(arg)
	if !ok {
		return nil, badRequest("%s requires a filter document", StageMatch)
	}
	if err := Validate(domain.Filter(m)); err != nil {
		return nil, err
	}
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		ok, err := Match(d, domain.Filter(m))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// sortKeys accepts {"field": 1|-1|"asc"|"desc"} or, for multiple keys in a
// defined order, a list of such single-key documents.
func sortKeys(arg any) ([]domain.SortOption, error) {
	var specs []map[string]any
	if m, ok := toMap(arg); ok {
		if len(m) != 1 {
			return nil, badRequest("%s document must name one field; use a list for multiple keys", StageSort)
		}
		specs = append(specs, m)
	} else if list, ok := toList(arg); ok && len(list) > 0 {
		for _, e := range list {
			m, ok := toMap(e)
			if !ok || len(m) != 1 {
				return nil, badRequest("%s list entries must name one field each", StageSort)
			}
			specs = append(specs, m)
		}
	} else {
		return nil, badRequest("%s requires a sort document", StageSort)
	}

	keys := make([]domain.SortOption, 0, len(specs))
	for _, spec := range specs {
		for field, dir := range spec {
			d, err := sortDirection(dir)
			if err != nil {
				return nil, err
			}
			keys = append(keys, domain.SortOption{Field: field, Direction: d})
		}
	}
	return keys, nil
}

func sortDirection(v any) (domain.SortDirection, error) {
	if n, ok := toInt(v); ok {
		switch n {
		case 1:
			return domain.SortAscending, nil
		case -1:
			return domain.SortDescending, nil
		}
	}
	if s, ok := v.(string); ok {
		if d := domain.SortDirection(strings.ToLower(s)); d.IsValid() {
			return d, nil
		}
	}
	return "", badRequest("invalid %s direction %v", StageSort, v)
}

func projectStage(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := toMap(arg)
	if !ok || len(spec) == 0 {
		return nil, badRequest("%s requires a non-empty field document", StageProject)
	}

	include := map[string]bool{}
	for field, v := range spec {
		on, ok := projectionFlag(v)
		if !ok {
			return nil, badRequest("%s value for %q must be 0, 1 or a boolean", StageProject, field)
		}
		include[field] = on
	}
	inclusive := false
	for _, on := range include {
		if on {
			inclusive = true
		}
	}
	if inclusive {
		for field, on := range include {
			if !on {
				return nil, badRequest("%s cannot mix inclusion and exclusion (field %q)", StageProject, field)
			}
		}
	}

	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		var projected domain.Document
		if inclusive {
			projected = domain.Document{}
			for field := range include {
				if v, ok := Lookup(d, field); ok {
					setPath(projected, field, v)
				}
			}
		} else {
			projected = cloneDocument(d)
			for field := range include {
				deletePath(projected, field)
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

func projectionFlag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if n, ok := toInt(v); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[p] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func deletePath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := toMap(current[p])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// cloneDocument deep-copies nested maps so that exclusions never touch the source document.
func cloneDocument(d domain.Document) domain.Document {
	out := make(domain.Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := toMap(v); ok {
		c := make(map[string]any, len(m))
		for k, e := range m {
			c[k] = cloneValue(e)
		}
		return c
	}
	return v
}

// groupKey returns a comparable key for an arbitrary group identifier.
func groupKey(v any) string {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
