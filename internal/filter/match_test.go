package filter

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		name  string
		field string
		value any
		op    Operator
		want  any
		match bool
	}{
		{"int equals numeric string", "recruiter_id", 101, OpEq, "101", true},
		{"numeric string equals float", "id", "7", OpEq, 7.0, true},
		{"non numeric string falls back", "name", "abc", OpEq, "abc", true},
		{"number vs word", "id", 7, OpEq, "seven", false},
		{"enum upper-cased", "state", "open", OpEq, "OPEN", true},
		{"plain string is case sensitive", "name", "open", OpEq, "OPEN", false},
		{"ne", "id", 1, OpNe, 2, true},
		{"in list", "source_id", 202, OpIn, []any{"201", "202"}, true},
		{"in typed list", "source_id", 203, OpIn, []int{201, 202}, false},
		{"not in", "source_id", 203, OpNotIn, []any{201, 202}, true},
		{"gt", "priority", 3, OpGt, "2", true},
		{"gte boundary", "priority", 2, OpGte, 2, true},
		{"lt", "priority", 1, OpLt, 2, true},
		{"lte boundary", "priority", 2, OpLte, 2, true},
		{"gt nil never matches", "priority", nil, OpGt, 0, false},
		{"between low", "order", 2, OpBetween, []any{2, 4}, true},
		{"between high", "order", 4, OpBetween, []any{2, 4}, true},
		{"between outside", "order", 5, OpBetween, []any{2, 4}, false},
		{"between dates", "created", "2024-02-10T00:00:00Z", OpBetween, []any{"2024-02-01", "2024-02-29"}, true},
		{"contains case insensitive", "name", "Senior Backend Engineer", OpContains, "backend", true},
		{"contains in list", "tags", []string{"java", "remote"}, OpContains, "REMOTE", true},
		{"exists", "money", "100k", OpExists, true, true},
		{"exists nil", "money", nil, OpExists, true, false},
		{"exists false", "money", nil, OpExists, false, true},
		{"bool equals string", "hidden", true, OpEq, "true", true},
		{"bool against one", "hidden", true, OpEq, 1, true},
		{"list membership eq", "tags", []string{"a", "b"}, OpEq, "b", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.field, tc.value, tc.op, tc.want); got != tc.match {
				t.Fatalf("expected %v, got %v", tc.match, got)
			}
		})
	}
}

func TestIDKey(t *testing.T) {
	if idKey(7) != idKey("7") || idKey(7.0) != "7" {
		t.Fatalf("expected numeric ids to normalize, got %q %q %q", idKey(7), idKey("7"), idKey(7.0))
	}
	if idKey(nil) != "" {
		t.Fatalf("expected empty key for nil")
	}
}
