package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/fetcher"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name          string
		req           Request
		wantOptimized bool
		wantParams    fetcher.Params
	}{
		{
			name:          "bare count",
			req:           Request{Entity: "vacancies"},
			wantOptimized: true,
		},
		{
			name:          "native equality",
			req:           Request{Entity: "vacancies", Filters: map[string]any{"vacancies": map[string]any{"field": "state", "value": "OPEN"}}},
			wantOptimized: true,
			wantParams:    fetcher.Params{"state": "OPEN"},
		},
		{
			name:          "direct relationship id",
			req:           Request{Entity: "applicants", Filters: map[string]any{"vacancies": 77}},
			wantOptimized: true,
			wantParams:    fetcher.Params{"vacancy": "77"},
		},
		{
			name:       "list operation",
			req:        Request{Entity: "applicants", Operation: "list", Filters: map[string]any{"vacancies": 77}},
			wantParams: fetcher.Params{"vacancy": "77"},
		},
		{
			name: "period",
			req:  Request{Entity: "applicants", Filters: map[string]any{"period": "today"}},
		},
		{
			name: "logical",
			req: Request{Entity: "applicants", Filters: map[string]any{
				"or": []any{map[string]any{"sources": 1}, map[string]any{"sources": 2}},
			}},
		},
		{
			name:       "recruiter has no native parameter",
			req:        Request{Entity: "applicants", Filters: map[string]any{"recruiters": 5, "sources": 3}},
			wantParams: fetcher.Params{"source": "3"},
		},
		{
			name: "indirect relationship",
			req:  Request{Entity: "sources", Filters: map[string]any{"recruiters": 5}},
		},
		{
			name:       "no reported total",
			req:        Request{Entity: "recruiters", Filters: map[string]any{"recruiters": map[string]any{"field": "type", "value": "owner"}}},
			wantParams: fetcher.Params{"type": "owner"},
		},
		{
			name:       "grouped count",
			req:        Request{Entity: "applicants", GroupBy: "status_name", Filters: map[string]any{"sources": 3}},
			wantParams: fetcher.Params{"source": "3"},
		},
		{
			name: "membership",
			req:  Request{Entity: "applicants", Filters: map[string]any{"sources": []any{1, 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mustParse(t, tt.req)
			got := Analyze(q)
			if got.Optimized != tt.wantOptimized {
				t.Fatalf("expected optimized=%v, got %v (%s)", tt.wantOptimized, got.Optimized, got.Reason)
			}
			if !got.Optimized && got.Reason == "" {
				t.Fatalf("expected a reason for the full fetch")
			}
			if diff := cmp.Diff(tt.wantParams, got.Params); diff != "" {
				t.Fatalf("unexpected params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyze_SimplePredicates(t *testing.T) {
	q := mustParse(t, Request{Entity: "hires", Filters: map[string]any{
		"stages":     12,
		"recruiters": map[string]any{"operator": "not_in", "value": []any{1}},
	}})
	got := Analyze(q)
	if got.Target != domain.EntityHires {
		t.Fatalf("expected hires target, got %s", got.Target)
	}

	want := map[string]string{"status_id": "status", "recruiter_id": ""}
	if len(got.SimplePredicates) != len(want) {
		t.Fatalf("expected %d predicates, got %+v", len(want), got.SimplePredicates)
	}
	for _, p := range got.SimplePredicates {
		param, ok := want[p.Field]
		if !ok {
			t.Fatalf("unexpected predicate field %q", p.Field)
		}
		if p.Param != param {
			t.Fatalf("field %s: expected param %q, got %q", p.Field, param, p.Param)
		}
	}
}

func TestParse_Defaults(t *testing.T) {
	q := mustParse(t, Request{Entity: " Applicants ", GroupBy: " source_name "})
	if q.Operation != OpCount {
		t.Fatalf("expected count by default, got %s", q.Operation)
	}
	if q.GroupBy != "source_name" {
		t.Fatalf("expected trimmed group field, got %q", q.GroupBy)
	}
	if !q.Filters.IsEmpty() {
		t.Fatalf("expected empty filters")
	}
}
