package query

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/fetcher"
	"github.com/rpattn/hfql/internal/filter"
)

// Operation is what a query returns.
type Operation string

const (
	OpCount Operation = "count"
	OpList  Operation = "list"
)

// Query is a validated request for records of one entity.
type Query struct {
	Entity    domain.EntityKind
	Operation Operation
	Filters   filter.FilterSet
	GroupBy   string
}

// Request is the inbound JSON shape of a query.
type Request struct {
	Entity    string         `json:"entity"`
	Operation string         `json:"operation"`
	Filters   map[string]any `json:"filters,omitempty"`
	GroupBy   string         `json:"groupBy,omitempty"`
}

// Parse validates a request and parses its filters.
func Parse(req Request) (Query, error) {
	kind, err := domain.ParseEntityKind(req.Entity)
	if err != nil {
		return Query{}, &filter.ValidationError{Path: "entity", Value: req.Entity, Reason: fmt.Sprintf("unknown entity %q", req.Entity)}
	}
	op := Operation(strings.ToLower(strings.TrimSpace(req.Operation)))
	if op == "" {
		op = OpCount
	}
	if op != OpCount && op != OpList {
		return Query{}, &filter.ValidationError{Path: "operation", Value: req.Operation, Reason: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
	groupBy := strings.TrimSpace(req.GroupBy)
	if groupBy != "" && !domain.HasField(kind, groupBy) {
		return Query{}, &filter.ValidationError{Path: "groupBy", Value: groupBy, Reason: fmt.Sprintf("%s has no field %q", kind, groupBy)}
	}
	fs, err := filter.ParseFilterSpec(req.Filters)
	if err != nil {
		return Query{}, err
	}
	return Query{Entity: kind, Operation: op, Filters: fs, GroupBy: groupBy}, nil
}

// Predicate is a comparison on a field of the target entity.
type Predicate struct {
	Field    string
	Operator filter.Operator
	Value    any
	// Param is the API parameter for the field, empty when the endpoint
	// cannot filter on it.
	Param string
}

// Analysis describes how a query will be executed.
type Analysis struct {
	Operation        Operation
	Target           domain.EntityKind
	SimplePredicates []Predicate
	// Optimized queries read the total reported by the endpoint instead of
	// materializing records.
	Optimized bool
	// Params are native equality predicates passed through to the fetch.
	Params fetcher.Params
	// Reason explains why the optimized path was not taken.
	Reason string
}

// entities whose endpoints report a total
var countable = map[domain.EntityKind]struct{}{
	domain.EntityApplicants: {},
	domain.EntityVacancies:  {},
}

// Analyze classifies a query and extracts the predicates the remote endpoint can evaluate.
func Analyze(q Query) Analysis {
	a := Analysis{Operation: q.Operation, Target: q.Entity}
	fs := q.Filters.ForTarget(q.Entity)

	// only top-level filters are and-ed with everything else, so only
	// they may narrow the fetch
	needsRecords := len(fs.LogicalFilters) > 0 || fs.Period != nil
	for _, f := range fs.EntityFilters {
		a.SimplePredicates = append(a.SimplePredicates, predicate(q.Entity, f.Field, f))
	}
	for _, f := range fs.CrossEntityFilters {
		rel, ok := domain.LookupRelationship(q.Entity, f.Entity)
		if !ok || rel.Indirect || f.Field != "id" {
			needsRecords = true
			continue
		}
		a.SimplePredicates = append(a.SimplePredicates, predicate(q.Entity, rel.Field, f))
	}

	for _, p := range a.SimplePredicates {
		if p.Operator != filter.OpEq || p.Param == "" {
			needsRecords = true
			continue
		}
		value, scalar := scalarString(p.Value)
		if !scalar {
			needsRecords = true
			continue
		}
		if a.Params == nil {
			a.Params = fetcher.Params{}
		}
		a.Params[p.Param] = value
	}

	_, hasTotal := countable[q.Entity]
	switch {
	case q.Operation != OpCount:
		a.Reason = "operation is not count"
	case q.GroupBy != "":
		a.Reason = "grouped counts need records"
	case !hasTotal:
		a.Reason = fmt.Sprintf("%s endpoint reports no total", q.Entity)
	case needsRecords:
		a.Reason = "filters need in-memory evaluation"
	default:
		a.Optimized = true
	}
	return a
}

func predicate(kind domain.EntityKind, field string, f filter.UniversalFilter) Predicate {
	param, _ := fetcher.NativeParam(kind, field)
	return Predicate{Field: field, Operator: f.Operator, Value: f.Value, Param: param}
}

func scalarString(v any) (string, bool) {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		s, err := cast.ToStringE(v)
		return s, err == nil
	}
	return "", false
}
