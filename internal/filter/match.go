package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/rpattn/hfql/internal/domain"
)

// enumerated fields compared upper-cased
var enumFields = map[string]struct{}{
	"state":       {},
	"status_type": {},
	"type":        {},
}

// Matches reports whether a field value satisfies the operator and filter value.
func Matches(field string, value any, op Operator, want any) bool {
	switch op {
	case OpEq:
		return equal(field, value, want)
	case OpNe:
		return !equal(field, value, want)
	case OpIn:
		return member(field, value, want)
	case OpNotIn:
		return !member(field, value, want)
	case OpGt:
		c, ok := compare(value, want)
		return ok && c > 0
	case OpGte:
		c, ok := compare(value, want)
		return ok && c >= 0
	case OpLt:
		c, ok := compare(value, want)
		return ok && c < 0
	case OpLte:
		c, ok := compare(value, want)
		return ok && c <= 0
	case OpBetween:
		bounds, ok := asList(want)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compare(value, bounds[0])
		hi, okHi := compare(value, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpContains:
		return contains(value, want)
	case OpExists:
		exists := value != nil
		if b, err := cast.ToBoolE(want); err == nil && want != nil && !b {
			return !exists
		}
		return exists
	}
	return false
}

// MatchRecord applies a filter to the named field of a record.
// Records without the field only match exists=false and ne-style operators.
func MatchRecord(r domain.Record, field string, op Operator, want any) bool {
	value, _ := r.Field(field)
	return Matches(field, value, op, want)
}

func equal(field string, value, want any) bool {
	if value == nil || want == nil {
		return value == nil && want == nil
	}
	if list, ok := asList(value); ok {
		for _, item := range list {
			if equal(field, item, want) {
				return true
			}
		}
		return false
	}
	if isNumber(value) || isNumber(want) {
		a, errA := toFloat(value)
		b, errB := toFloat(want)
		if errA == nil && errB == nil {
			return a == b
		}
	}
	if vb, ok := value.(bool); ok {
		if wb, err := cast.ToBoolE(want); err == nil {
			return vb == wb
		}
	}
	a, b := cast.ToString(value), cast.ToString(want)
	if _, ok := enumFields[field]; ok {
		return strings.ToUpper(a) == strings.ToUpper(b)
	}
	return a == b
}

func member(field string, value, want any) bool {
	list, ok := asList(want)
	if !ok {
		return equal(field, value, want)
	}
	for _, item := range list {
		if equal(field, value, item) {
			return true
		}
	}
	return false
}

// compare orders value against want numerically, then as timestamps, then as strings.
func compare(value, want any) (int, bool) {
	if value == nil || want == nil {
		return 0, false
	}
	a, errA := toFloat(value)
	b, errB := toFloat(want)
	if errA == nil && errB == nil {
		return cmpFloat(a, b), true
	}
	ta, okA := toTime(value, time.Local)
	tb, okB := toTime(want, time.Local)
	if okA && okB {
		return ta.Compare(tb), true
	}
	return strings.Compare(cast.ToString(value), cast.ToString(want)), true
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func contains(value, want any) bool {
	if value == nil {
		return false
	}
	if list, ok := asList(value); ok {
		for _, item := range list {
			if contains(item, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(cast.ToString(value)), strings.ToLower(cast.ToString(want)))
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

// toFloat coerces numbers and numeric strings. Booleans are not numbers here.
func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case bool:
		return 0, fmt.Errorf("bool is not numeric")
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty string is not numeric")
		}
		return cast.ToFloat64E(s)
	case json.Number:
		return t.Float64()
	}
	return cast.ToFloat64E(v)
}

// toTime reads strings without an offset in loc.
func toTime(v any, loc *time.Location) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := domain.ParseTimestampIn(t, loc)
		return parsed, err == nil
	}
	return time.Time{}, false
}
