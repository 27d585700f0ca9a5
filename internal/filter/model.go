package filter

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rpattn/hfql/internal/domain"
)

// Operator is a comparison applied to a record field.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpBetween  Operator = "between"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

var operators = map[string]Operator{
	"eq":         OpEq,
	"equals":     OpEq,
	"ne":         OpNe,
	"not_equals": OpNe,
	"in":         OpIn,
	"not_in":     OpNotIn,
	"gt":         OpGt,
	"gte":        OpGte,
	"lt":         OpLt,
	"lte":        OpLte,
	"between":    OpBetween,
	"contains":   OpContains,
	"exists":     OpExists,
}

// ParseOperator resolves an operator name or alias.
func ParseOperator(name string) (Operator, error) {
	op, ok := operators[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", &ValidationError{Path: "operator", Value: name, Reason: fmt.Sprintf("unknown operator %q", name)}
	}
	return op, nil
}

// LogicalOperator composes child conditions.
type LogicalOperator string

const (
	And LogicalOperator = "and"
	Or  LogicalOperator = "or"
)

// Condition is any filter that can appear in a logical list.
type Condition interface {
	isCondition()
}

// UniversalFilter applies Operator to Field of Entity records.
type UniversalFilter struct {
	Entity   domain.EntityKind `json:"entity"`
	Field    string            `json:"field"`
	Operator Operator          `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// NewUniversalFilter validates and constructs a filter. The field defaults to "id".
func NewUniversalFilter(entity domain.EntityKind, field string, op Operator, value any) (UniversalFilter, error) {
	if !entity.IsValid() {
		return UniversalFilter{}, &ValidationError{Path: "entity", Value: string(entity), Reason: fmt.Sprintf("unknown entity %q", entity)}
	}
	if field == "" {
		field = "id"
	}
	f := UniversalFilter{Entity: entity, Field: field, Operator: op, Value: value}
	if err := f.validate(); err != nil {
		return UniversalFilter{}, err
	}
	return f, nil
}

func (f UniversalFilter) validate() error {
	path := string(f.Entity) + "." + f.Field
	if _, ok := operators[string(f.Operator)]; !ok {
		return &ValidationError{Path: path, Value: string(f.Operator), Reason: fmt.Sprintf("unknown operator %q", f.Operator)}
	}
	if f.Operator == OpExists {
		return nil
	}
	if isEmptyValue(f.Value) {
		return &ValidationError{Path: path, Value: f.Value, Reason: "value must not be empty"}
	}
	if f.Operator == OpBetween {
		bounds, ok := asList(f.Value)
		if !ok || len(bounds) != 2 {
			return &ValidationError{Path: path, Value: f.Value, Reason: "between expects a [low, high] pair"}
		}
	}
	return nil
}

func (UniversalFilter) isCondition() {}

// LogicalFilter combines children with and/or. Children may nest.
type LogicalFilter struct {
	Operator LogicalOperator `json:"operator"`
	Children []Condition     `json:"children"`
}

func (LogicalFilter) isCondition() {}

// PeriodFilter keeps records whose timestamp falls in [Start, End].
type PeriodFilter struct {
	PeriodType string    `json:"period_type"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

func (PeriodFilter) isCondition() {}

// Contains reports whether t lies within the inclusive bounds.
func (p PeriodFilter) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// FilterSet groups every filter of a query. The zero value filters nothing.
type FilterSet struct {
	Period             *PeriodFilter     `json:"period,omitempty"`
	EntityFilters      []UniversalFilter `json:"entity_filters,omitempty"`
	CrossEntityFilters []UniversalFilter `json:"cross_entity_filters,omitempty"`
	LogicalFilters     []LogicalFilter   `json:"logical_filters,omitempty"`
}

// IsEmpty reports whether the set would leave any input unchanged.
func (fs FilterSet) IsEmpty() bool {
	return fs.Period == nil && len(fs.EntityFilters) == 0 && len(fs.CrossEntityFilters) == 0 && len(fs.LogicalFilters) == 0
}

// ForTarget moves cross-entity filters that name the target itself into
// the direct filters.
func (fs FilterSet) ForTarget(target domain.EntityKind) FilterSet {
	out := FilterSet{
		Period:         fs.Period,
		EntityFilters:  append([]UniversalFilter(nil), fs.EntityFilters...),
		LogicalFilters: fs.LogicalFilters,
	}
	for _, f := range fs.CrossEntityFilters {
		if f.Entity == target {
			out.EntityFilters = append(out.EntityFilters, f)
			continue
		}
		out.CrossEntityFilters = append(out.CrossEntityFilters, f)
	}
	return out
}

// ValidationError reports a malformed filter description.
type ValidationError struct {
	Path   string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid filter: " + e.Reason
	}
	return fmt.Sprintf("invalid filter at %s: %s", e.Path, e.Reason)
}

// isEmptyValue treats nil, blank strings and empty lists as empty. Zero and false are values.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// asList converts slices of any element type to []any.
func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
