package filter

import (
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/hfql/internal/domain"
)

// ParseFilterSpec converts a JSON-like filter description into a FilterSet.
// Periods are resolved against the current time.
func ParseFilterSpec(spec map[string]any) (FilterSet, error) {
	return ParseFilterSpecAt(spec, time.Now())
}

// ParseFilterSpecAt is ParseFilterSpec with an explicit reference time.
//
// Recognized keys:
//   - "period": a period name or {"start", "end"} object
//   - "and" / "or": lists of nested conditions
//   - an entity name: scalar (eq), list (in) or {"operator", "value", "field"}
//     object, which may itself hold "and"/"or" lists of field conditions
//
// Nothing is returned on error.
func ParseFilterSpecAt(spec map[string]any, now time.Time) (FilterSet, error) {
	p := parser{now: now}
	var fs FilterSet
	for _, key := range sortedKeys(spec) {
		value := spec[key]
		switch key {
		case "period":
			period, err := p.period(value)
			if err != nil {
				return FilterSet{}, err
			}
			fs.Period = &period
		case string(And), string(Or):
			logical, err := p.logical(LogicalOperator(key), value, key)
			if err != nil {
				return FilterSet{}, err
			}
			fs.LogicalFilters = append(fs.LogicalFilters, logical)
		default:
			cond, err := p.entityKey(key, value)
			if err != nil {
				return FilterSet{}, err
			}
			switch c := cond.(type) {
			case UniversalFilter:
				fs.CrossEntityFilters = append(fs.CrossEntityFilters, c)
			case LogicalFilter:
				fs.LogicalFilters = append(fs.LogicalFilters, c)
			}
		}
	}
	return fs, nil
}

type parser struct {
	now time.Time
}

func (p parser) period(value any) (PeriodFilter, error) {
	switch v := value.(type) {
	case string:
		return NewPeriodFilter(v, p.now)
	case map[string]any:
		start, okStart := v["start"].(string)
		end, okEnd := v["end"].(string)
		if !okStart || !okEnd {
			return PeriodFilter{}, &ValidationError{Path: "period", Value: value, Reason: "custom period needs start and end"}
		}
		return NewRangePeriod(start, end)
	}
	return PeriodFilter{}, &ValidationError{Path: "period", Value: value, Reason: fmt.Sprintf("unsupported period value %v", value)}
}

func (p parser) logical(op LogicalOperator, value any, path string) (LogicalFilter, error) {
	items, ok := asList(value)
	if !ok {
		return LogicalFilter{}, &ValidationError{Path: path, Value: value, Reason: fmt.Sprintf("%s expects a list of conditions", op)}
	}
	if len(items) == 0 {
		return LogicalFilter{}, &ValidationError{Path: path, Value: value, Reason: fmt.Sprintf("%s list is empty", op)}
	}
	lf := LogicalFilter{Operator: op, Children: make([]Condition, 0, len(items))}
	for i, item := range items {
		child, err := p.condition(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return LogicalFilter{}, err
		}
		lf.Children = append(lf.Children, child)
	}
	return lf, nil
}

// condition parses one element of an and/or list. Several keys in one
// element form an implicit and.
func (p parser) condition(item any, path string) (Condition, error) {
	m, ok := item.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, &ValidationError{Path: path, Value: item, Reason: "condition must be a non-empty object"}
	}
	conds := make([]Condition, 0, len(m))
	for _, key := range sortedKeys(m) {
		cond, err := p.keyed(key, m[key], path+"."+key)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return LogicalFilter{Operator: And, Children: conds}, nil
}

func (p parser) keyed(key string, value any, path string) (Condition, error) {
	switch key {
	case "period":
		return p.period(value)
	case string(And), string(Or):
		return p.logical(LogicalOperator(key), value, path)
	}
	return p.entityKey(key, value)
}

func (p parser) entityKey(key string, value any) (Condition, error) {
	kind, err := domain.ParseEntityKind(key)
	if err != nil {
		return nil, &ValidationError{Path: key, Value: key, Reason: fmt.Sprintf("unknown entity %q", key)}
	}
	return p.entityValue(kind, value, key)
}

func (p parser) entityValue(kind domain.EntityKind, value any, path string) (Condition, error) {
	switch v := value.(type) {
	case map[string]any:
		if _, hasOp := v["operator"]; !hasOp {
			for _, op := range []LogicalOperator{And, Or} {
				if nested, ok := v[string(op)]; ok {
					return p.entityLogical(kind, op, nested, path+"."+string(op))
				}
			}
		}
		return p.explicit(kind, v, path)
	case nil:
		return nil, &ValidationError{Path: path, Value: nil, Reason: "value must not be empty"}
	}
	if list, ok := asList(value); ok {
		return NewUniversalFilter(kind, "id", OpIn, list)
	}
	return NewUniversalFilter(kind, "id", OpEq, value)
}

// entityLogical parses and/or lists scoped to one entity. Children are field
// condition objects or further nested lists.
func (p parser) entityLogical(kind domain.EntityKind, op LogicalOperator, value any, path string) (LogicalFilter, error) {
	items, ok := asList(value)
	if !ok || len(items) == 0 {
		return LogicalFilter{}, &ValidationError{Path: path, Value: value, Reason: fmt.Sprintf("%s expects a non-empty list", op)}
	}
	lf := LogicalFilter{Operator: op, Children: make([]Condition, 0, len(items))}
	for i, item := range items {
		child, err := p.entityValue(kind, item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return LogicalFilter{}, err
		}
		lf.Children = append(lf.Children, child)
	}
	return lf, nil
}

func (p parser) explicit(kind domain.EntityKind, m map[string]any, path string) (Condition, error) {
	op := OpEq
	if raw, ok := m["operator"]; ok {
		name, isString := raw.(string)
		if !isString {
			return nil, &ValidationError{Path: path + ".operator", Value: raw, Reason: fmt.Sprintf("operator must be a string, got %v", raw)}
		}
		parsed, err := ParseOperator(name)
		if err != nil {
			return nil, &ValidationError{Path: path + ".operator", Value: name, Reason: fmt.Sprintf("unknown operator %q", name)}
		}
		op = parsed
	}

	field := "id"
	if raw, ok := m["field"]; ok {
		name, isString := raw.(string)
		if !isString || name == "" {
			return nil, &ValidationError{Path: path + ".field", Value: raw, Reason: "field must be a non-empty string"}
		}
		field = name
	}

	value, hasValue := m["value"]
	if !hasValue {
		if op != OpExists {
			return nil, &ValidationError{Path: path + ".value", Reason: fmt.Sprintf("missing value for operator %q", op)}
		}
		value = true
	}
	if _, explicitOp := m["operator"]; !explicitOp && isListValue(value) {
		op = OpIn
	}
	if (op == OpIn || op == OpNotIn) && !isListValue(value) {
		value = []any{value}
	}

	f, err := NewUniversalFilter(kind, field, op, value)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Path = path
		}
		return nil, err
	}
	return f, nil
}

func isListValue(v any) bool {
	_, ok := asList(v)
	return ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
