package filter

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"

	"github.com/rpattn/hfql/internal/domain"
)

type stubSource struct {
	records  map[domain.EntityKind][]domain.Record
	logs     []domain.ActivityLog
	logCalls int
	err      error
}

func (s *stubSource) Records(ctx context.Context, kind domain.EntityKind) ([]domain.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records[kind], nil
}

func (s *stubSource) ActivityLogs(ctx context.Context) ([]domain.ActivityLog, error) {
	s.logCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.logs, nil
}

func ids(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.RecordID()
	}
	return out
}

func applicantFixture(id, recruiter int, created time.Time) domain.Applicant {
	return domain.Applicant{
		ID:          id,
		FirstName:   gofakeit.FirstName(),
		LastName:    gofakeit.LastName(),
		Email:       gofakeit.Email(),
		Position:    gofakeit.JobTitle(),
		Created:     created.Format(time.RFC3339),
		RecruiterID: recruiter,
		SourceID:    200 + id%3,
		StatusID:    10 + id%2,
		VacancyID:   900 + id%4,
	}
}

func asRecords[R domain.Record](items ...R) []domain.Record {
	out := make([]domain.Record, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func TestApply_EmptyFilterSetIsIdentity(t *testing.T) {
	now := time.Now()
	engine := NewEngine(&stubSource{})
	sets := map[domain.EntityKind][]domain.Record{
		domain.EntityApplicants: asRecords(applicantFixture(1, 101, now), applicantFixture(2, 102, now)),
		domain.EntityVacancies:  asRecords(domain.Vacancy{ID: 5, State: "OPEN"}),
		domain.EntitySources:    nil,
		domain.EntityStages:     asRecords(domain.Stage{ID: 1, Name: "New"}, domain.Stage{ID: 2, Name: "Offer"}),
	}
	for kind, records := range sets {
		got, err := engine.Apply(context.Background(), kind, FilterSet{}, records)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if diff := cmp.Diff(ids(records), ids(got)); diff != "" {
			t.Fatalf("%s: expected identity (-want +got):\n%s", kind, diff)
		}
	}
}

func TestApply_AndIsSubsetOrIsUnion(t *testing.T) {
	now := time.Now()
	records := asRecords(
		applicantFixture(1, 101, now),
		applicantFixture(2, 102, now),
		applicantFixture(3, 101, now),
		applicantFixture(4, 103, now),
	)
	engine := NewEngine(&stubSource{})
	byRecruiter := UniversalFilter{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: 101}
	byID := UniversalFilter{Entity: domain.EntityApplicants, Field: "id", Operator: OpIn, Value: []any{3, 4}}

	and, err := engine.Apply(context.Background(), domain.EntityApplicants, FilterSet{
		LogicalFilters: []LogicalFilter{{Operator: And, Children: []Condition{byRecruiter, byID}}},
	}, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"3"}, ids(and)); diff != "" {
		t.Fatalf("unexpected and result (-want +got):\n%s", diff)
	}

	or, err := engine.Apply(context.Background(), domain.EntityApplicants, FilterSet{
		LogicalFilters: []LogicalFilter{{Operator: Or, Children: []Condition{byRecruiter, byID}}},
	}, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "3", "4"}, ids(or)); diff != "" {
		t.Fatalf("unexpected or result (-want +got):\n%s", diff)
	}

	for _, branch := range []Condition{byRecruiter, byID} {
		single, err := engine.Apply(context.Background(), domain.EntityApplicants, FilterSet{
			LogicalFilters: []LogicalFilter{{Operator: And, Children: []Condition{branch}}},
		}, records)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		union := map[string]bool{}
		for _, id := range ids(or) {
			union[id] = true
		}
		for _, id := range ids(single) {
			if !union[id] {
				t.Fatalf("expected or result to include branch record %s", id)
			}
		}
	}
}

func TestApply_NestedLogical(t *testing.T) {
	now := time.Now()
	records := asRecords(
		applicantFixture(1, 101, now),
		applicantFixture(2, 102, now),
		applicantFixture(3, 103, now),
	)
	engine := NewEngine(&stubSource{})
	fs := FilterSet{LogicalFilters: []LogicalFilter{{
		Operator: And,
		Children: []Condition{
			LogicalFilter{Operator: Or, Children: []Condition{
				UniversalFilter{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: "101"},
				UniversalFilter{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: "103"},
			}},
			UniversalFilter{Entity: domain.EntityApplicants, Field: "id", Operator: OpNe, Value: 1},
		},
	}}}
	got, err := engine.Apply(context.Background(), domain.EntityApplicants, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"3"}, ids(got)); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestApply_BetweenIsInclusive(t *testing.T) {
	var records []domain.Record
	for order := 1; order <= 6; order++ {
		records = append(records, domain.Stage{ID: order, Name: gofakeit.Word(), Order: order})
	}
	engine := NewEngine(&stubSource{})
	fs := FilterSet{EntityFilters: []UniversalFilter{{Entity: domain.EntityStages, Field: "order", Operator: OpBetween, Value: []any{2, "4"}}}}

	got, err := engine.Apply(context.Background(), domain.EntityStages, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"2", "3", "4"}, ids(got)); diff != "" {
		t.Fatalf("unexpected between result (-want +got):\n%s", diff)
	}
}

func TestApply_PeriodBoundsAreInclusive(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	records := asRecords(
		domain.Vacancy{ID: 1, Created: now.AddDate(0, 0, -1).Format(time.RFC3339)},
		domain.Vacancy{ID: 2, Created: now.Format(time.RFC3339)},
	)
	engine := NewEngine(&stubSource{})
	fs := FilterSet{Period: &PeriodFilter{PeriodType: PeriodCustom, Start: now, End: now}}

	got, err := engine.Apply(context.Background(), domain.EntityVacancies, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"2"}, ids(got)); diff != "" {
		t.Fatalf("unexpected period result (-want +got):\n%s", diff)
	}
}

func TestApply_PeriodKeepsUndatedAndUnparsable(t *testing.T) {
	now := time.Now()
	records := []domain.Record{
		domain.Vacancy{ID: 1},
		domain.Vacancy{ID: 2, Created: "not a date"},
		domain.Vacancy{ID: 3, Created: now.AddDate(-2, 0, 0).Format(time.RFC3339)},
		domain.Source{ID: 4, Name: "LinkedIn"},
	}
	period, err := NewPeriodFilter("1 month", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityVacancies, FilterSet{Period: &period}, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "2", "4"}, ids(got)); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestApply_PeriodReadsOffsetlessDatesInPeriodZone(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	now := time.Date(2024, 5, 15, 1, 30, 0, 0, msk)
	records := asRecords(
		domain.Vacancy{ID: 1, Created: "2024-05-15T00:30:00"},
		domain.Vacancy{ID: 2, Created: "2024-05-14T23:30:00"},
		domain.Vacancy{ID: 3, Created: "2024-05-14"},
	)
	period, err := NewPeriodFilter("today", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityVacancies, FilterSet{Period: &period}, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1"}, ids(got)); diff != "" {
		t.Fatalf("unexpected period result (-want +got):\n%s", diff)
	}
}

func TestApply_PeriodAndRecruiterScenario(t *testing.T) {
	now := time.Now()
	daysAgo := func(n int) time.Time { return now.AddDate(0, 0, -n) }
	records := asRecords(
		applicantFixture(1, 101, daysAgo(2)),
		applicantFixture(2, 102, daysAgo(5)),
		applicantFixture(3, 101, daysAgo(12)),
		applicantFixture(4, 103, daysAgo(25)),
		applicantFixture(5, 101, daysAgo(40)),
		applicantFixture(6, 101, daysAgo(60)),
		applicantFixture(7, 102, daysAgo(90)),
		applicantFixture(8, 103, daysAgo(120)),
		applicantFixture(9, 101, daysAgo(200)),
		applicantFixture(10, 102, daysAgo(400)),
	)

	fs, err := ParseFilterSpecAt(map[string]any{
		"and": []any{
			map[string]any{"period": "1 month"},
			map[string]any{"recruiters": map[string]any{"operator": "eq", "value": "101"}},
		},
	}, now)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityApplicants, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "3"}, ids(got)); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestApply_IndirectSourcesByRecruiter(t *testing.T) {
	sources := asRecords(
		domain.Source{ID: 201, Name: "LinkedIn"},
		domain.Source{ID: 202, Name: "Referral"},
		domain.Source{ID: 203, Name: "HeadHunter"},
		domain.Source{ID: 204, Name: "Career site"},
	)
	logs := []domain.ActivityLog{
		{ID: 1, ApplicantID: 11, RecruiterID: 101, SourceID: 201},
		{ID: 2, ApplicantID: 12, RecruiterID: 101, SourceID: 203},
		{ID: 3, ApplicantID: 13, RecruiterID: 101, SourceID: 201},
		{ID: 4, ApplicantID: 14, RecruiterID: 102, SourceID: 202},
		{ID: 5, ApplicantID: 15, RecruiterID: 102, SourceID: 204},
		{ID: 6, ApplicantID: 16, SourceID: 202},
	}
	fs := FilterSet{CrossEntityFilters: []UniversalFilter{{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: "101"}}}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]domain.ActivityLog(nil), logs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		source := &stubSource{logs: shuffled}

		got, err := NewEngine(source).Apply(context.Background(), domain.EntitySources, fs, sources)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"201", "203"}, ids(got)); diff != "" {
			t.Fatalf("unexpected sources (-want +got):\n%s", diff)
		}
		if source.logCalls != 1 {
			t.Fatalf("expected one activity log scan, got %d", source.logCalls)
		}
	}
}

func TestApply_IndirectByRelatedField(t *testing.T) {
	vacancies := asRecords(
		domain.Vacancy{ID: 901, Position: "Backend"},
		domain.Vacancy{ID: 902, Position: "Frontend"},
		domain.Vacancy{ID: 903, Position: "QA"},
	)
	source := &stubSource{
		records: map[domain.EntityKind][]domain.Record{
			domain.EntityRecruiters: asRecords(
				domain.Recruiter{ID: 101, Name: "Anna Smirnova"},
				domain.Recruiter{ID: 102, Name: "Boris Petrov"},
			),
		},
		logs: []domain.ActivityLog{
			{ID: 1, RecruiterID: 101, VacancyID: 901},
			{ID: 2, RecruiterID: 102, VacancyID: 902},
			{ID: 3, RecruiterID: 101, VacancyID: 903},
		},
	}
	fs := FilterSet{CrossEntityFilters: []UniversalFilter{{Entity: domain.EntityRecruiters, Field: "name", Operator: OpContains, Value: "anna"}}}

	got, err := NewEngine(source).Apply(context.Background(), domain.EntityVacancies, fs, vacancies)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"901", "903"}, ids(got)); diff != "" {
		t.Fatalf("unexpected vacancies (-want +got):\n%s", diff)
	}
}

func TestApply_DirectCrossByRelatedField(t *testing.T) {
	now := time.Now()
	a1 := applicantFixture(1, 101, now)
	a1.SourceID = 201
	a2 := applicantFixture(2, 102, now)
	a2.SourceID = 202
	source := &stubSource{records: map[domain.EntityKind][]domain.Record{
		domain.EntitySources: asRecords(domain.Source{ID: 201, Name: "LinkedIn"}, domain.Source{ID: 202, Name: "Referral"}),
	}}
	fs := FilterSet{CrossEntityFilters: []UniversalFilter{{Entity: domain.EntitySources, Field: "name", Operator: OpEq, Value: "Referral"}}}

	got, err := NewEngine(source).Apply(context.Background(), domain.EntityApplicants, fs, asRecords(a1, a2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"2"}, ids(got)); diff != "" {
		t.Fatalf("unexpected applicants (-want +got):\n%s", diff)
	}
}

func TestApply_RelationshipGapIsNoOp(t *testing.T) {
	records := asRecords(domain.Division{ID: 1, Name: "R&D"}, domain.Division{ID: 2, Name: "Sales"})
	fs := FilterSet{CrossEntityFilters: []UniversalFilter{{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: 101}}}

	got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityDivisions, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(ids(records), ids(got)); diff != "" {
		t.Fatalf("expected unchanged records (-want +got):\n%s", diff)
	}
}

func TestApply_SourceErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	fs := FilterSet{CrossEntityFilters: []UniversalFilter{{Entity: domain.EntityRecruiters, Field: "id", Operator: OpEq, Value: 101}}}
	_, err := NewEngine(&stubSource{err: boom}).Apply(context.Background(), domain.EntitySources, fs, asRecords(domain.Source{ID: 1}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestApply_SelfEntityFilterIsDirect(t *testing.T) {
	records := asRecords(
		domain.Vacancy{ID: 1, State: "OPEN"},
		domain.Vacancy{ID: 2, State: "CLOSED"},
		domain.Vacancy{ID: 3, State: "open"},
	)
	fs, err := ParseFilterSpec(map[string]any{
		"vacancies": map[string]any{"field": "state", "operator": "equals", "value": "open"},
	})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityVacancies, fs, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sorted := ids(got)
	sort.Strings(sorted)
	if diff := cmp.Diff([]string{"1", "3"}, sorted); diff != "" {
		t.Fatalf("unexpected vacancies (-want +got):\n%s", diff)
	}
}

func TestApply_ExistsOnUnsetReference(t *testing.T) {
	now := time.Now()
	records := asRecords(applicantFixture(1, 7, now), applicantFixture(2, 0, now))

	for _, tt := range []struct {
		name string
		spec map[string]any
		want []string
	}{
		{name: "exists", spec: map[string]any{"recruiters": map[string]any{"operator": "exists"}}, want: []string{"1"}},
		{name: "not exists", spec: map[string]any{"recruiters": map[string]any{"operator": "exists", "value": false}}, want: []string{"2"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := ParseFilterSpec(tt.spec)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			got, err := NewEngine(&stubSource{}).Apply(context.Background(), domain.EntityApplicants, fs, records)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Fatalf("unexpected applicants (-want +got):\n%s", diff)
			}
		})
	}
}
