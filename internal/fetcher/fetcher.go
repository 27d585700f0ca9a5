package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/hfql/internal/cache"
	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/fanout"
	"github.com/rpattn/hfql/internal/huntflow"
)

const unknownName = "Unknown"

// ErrNoTotal is returned by Count when the endpoint did not report a total.
var ErrNoTotal = errors.New("response did not report a total")

// ErrPageLimit is returned when an endpoint still has data after the
// configured number of pages. The truncated list is never cached.
var ErrPageLimit = errors.New("pagination exceeded page limit")

// Params are remote query parameters keyed by their API name.
type Params map[string]string

// Fetcher loads entity records from the remote API through the shared cache.
type Fetcher struct {
	client           huntflow.Getter
	cache            *cache.TTLCache
	fanout           *fanout.Runner
	pageSize         int
	maxPages         int
	enrichRecruiters bool
	logger           *slog.Logger
}

type Option func(*Fetcher)

// WithPageSize sets the page size used for paginated endpoints.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithMaxPages bounds pagination. Zero means unbounded.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) { f.maxPages = n }
}

// WithRecruiterEnrichment fills applicant recruiters from their activity logs.
// This costs one log request per applicant on a cold cache.
func WithRecruiterEnrichment(enabled bool) Option {
	return func(f *Fetcher) { f.enrichRecruiters = enabled }
}

func WithFanOut(r *fanout.Runner) Option {
	return func(f *Fetcher) {
		if r != nil {
			f.fanout = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New constructs a Fetcher. The cache is shared by every entity.
func New(client huntflow.Getter, c *cache.TTLCache, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   client,
		cache:    c,
		pageSize: 30,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.fanout == nil {
		f.fanout = fanout.NewRunner(fanout.WithCache(c), fanout.WithLogger(f.logger))
	}
	return f
}

type fetchFunc func(f *Fetcher, ctx context.Context, params Params) ([]domain.Record, error)

var dispatch = map[domain.EntityKind]fetchFunc{
	domain.EntityApplicants:     (*Fetcher).applicantRecords,
	domain.EntityHires:          (*Fetcher).hireRecords,
	domain.EntityRejections:     (*Fetcher).rejectionRecords,
	domain.EntityVacancies:      (*Fetcher).vacancyRecords,
	domain.EntityRecruiters:     (*Fetcher).recruiterRecords,
	domain.EntityHiringManagers: (*Fetcher).hiringManagerRecords,
	domain.EntitySources:        (*Fetcher).sourceRecords,
	domain.EntityStages:         (*Fetcher).stageRecords,
	domain.EntityDivisions:      (*Fetcher).divisionRecords,
	domain.EntityActions:        (*Fetcher).actionRecords,
}

// field name -> API parameter, per entity
var nativeParams = map[domain.EntityKind]map[string]string{
	domain.EntityApplicants: {
		"status":          "status",
		"status_id":       "status",
		"vacancy":         "vacancy",
		"vacancy_id":      "vacancy",
		"source":          "source",
		"source_id":       "source",
		"agreement_state": "agreement_state",
	},
	domain.EntityVacancies: {
		"state": "state",
		"mine":  "mine",
	},
	domain.EntityRecruiters: {
		"type":       "type",
		"vacancy_id": "vacancy_id",
	},
	domain.EntityDivisions: {
		"only_available": "only_available",
	},
	domain.EntityActions: {
		"type": "type",
	},
}

func init() {
	nativeParams[domain.EntityHires] = nativeParams[domain.EntityApplicants]
	nativeParams[domain.EntityRejections] = nativeParams[domain.EntityApplicants]
	nativeParams[domain.EntityHiringManagers] = map[string]string{"vacancy_id": "vacancy_id"}
}

// NativeParam maps a record field to the API parameter that filters on it.
func NativeParam(kind domain.EntityKind, field string) (string, bool) {
	param, ok := nativeParams[kind][field]
	return param, ok
}

// ParamOnly reports whether a native parameter has no counterpart on the
// records, so only the endpoint can evaluate it.
func ParamOnly(kind domain.EntityKind, field string) bool {
	if _, ok := NativeParam(kind, field); !ok {
		return false
	}
	return !domain.HasField(kind, field)
}

// nativeSubset keeps only parameters the entity's endpoint understands.
func nativeSubset(kind domain.EntityKind, params Params) Params {
	if len(params) == 0 {
		return nil
	}
	allowed := make(map[string]struct{})
	for _, param := range nativeParams[kind] {
		allowed[param] = struct{}{}
	}
	out := Params{}
	for name, value := range params {
		if _, ok := allowed[name]; ok {
			out[name] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Fetch returns the records of an entity. Unsupported params are ignored.
func (f *Fetcher) Fetch(ctx context.Context, kind domain.EntityKind, params Params) ([]domain.Record, error) {
	fn, ok := dispatch[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEntity, kind)
	}
	records, err := fn(f, ctx, nativeSubset(kind, params))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	return records, nil
}

// Records returns every record of an entity.
func (f *Fetcher) Records(ctx context.Context, kind domain.EntityKind) ([]domain.Record, error) {
	return f.Fetch(ctx, kind, nil)
}

var countPaths = map[domain.EntityKind]string{
	domain.EntityApplicants: "applicants",
	domain.EntityVacancies:  "vacancies",
}

// Count asks the endpoint for a single item and returns the reported total.
func (f *Fetcher) Count(ctx context.Context, kind domain.EntityKind, params Params) (int, error) {
	path, ok := countPaths[kind]
	if !ok {
		return 0, fmt.Errorf("count %s: %w", kind, ErrNoTotal)
	}
	params = nativeSubset(kind, params)
	key := cache.Key("count:"+string(kind), params)
	total, _, err := cache.Fetch(ctx, f.cache, key, func(ctx context.Context) (int, error) {
		values := toValues(params)
		values.Set("count", "1")
		values.Set("page", "1")
		page, err := f.client.Get(ctx, path, values)
		if err != nil {
			return 0, err
		}
		if page.Total == nil {
			return 0, ErrNoTotal
		}
		return *page.Total, nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return total, nil
}

func toValues(params Params) url.Values {
	values := url.Values{}
	for name, value := range params {
		values.Set(name, value)
	}
	return values
}

// paginate collects raw items page by page. Any failed page, or running past
// maxPages, fails the call.
func (f *Fetcher) paginate(ctx context.Context, path string, params Params) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for page := 1; ; page++ {
		if f.maxPages > 0 && page > f.maxPages {
			return nil, fmt.Errorf("%s: %w of %d after %d items", path, ErrPageLimit, f.maxPages, len(items))
		}
		values := toValues(params)
		values.Set("count", strconv.Itoa(f.pageSize))
		values.Set("page", strconv.Itoa(page))
		resp, err := f.client.Get(ctx, path, values)
		if err != nil {
			return nil, err
		}
		if len(resp.Items) == 0 {
			return items, nil
		}
		items = append(items, resp.Items...)
		if len(resp.Items) < f.pageSize {
			return items, nil
		}
		if resp.TotalPages != nil && page >= *resp.TotalPages {
			return items, nil
		}
	}
}

// single fetches an unpaginated endpoint.
func (f *Fetcher) single(ctx context.Context, path string, params Params) ([]json.RawMessage, error) {
	resp, err := f.client.Get(ctx, path, toValues(params))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func decodeItems[W any](items []json.RawMessage) ([]W, error) {
	out := make([]W, 0, len(items))
	for i, raw := range items {
		var w W
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func toRecords[R domain.Record](items []R) []domain.Record {
	out := make([]domain.Record, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// names holds the lookup tables used to resolve IDs on applicants and actions.
type names struct {
	statuses   map[int]domain.Stage
	sources    map[int]string
	recruiters map[int]string
	tags       map[int]string
}

func (f *Fetcher) loadNames(ctx context.Context, needRecruiters bool) (names, error) {
	var (
		n          names
		stages     []domain.Stage
		sources    []domain.Source
		recruiters []domain.Recruiter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		n.tags, err = f.Tags(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stages, err = f.Stages(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sources, err = f.Sources(gctx)
		return err
	})
	if needRecruiters {
		g.Go(func() error {
			var err error
			recruiters, err = f.Coworkers(gctx, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return n, fmt.Errorf("resolve names: %w", err)
	}

	n.statuses = make(map[int]domain.Stage, len(stages))
	for _, s := range stages {
		n.statuses[s.ID] = s
	}
	n.sources = make(map[int]string, len(sources))
	for _, s := range sources {
		n.sources[s.ID] = s.Name
	}
	n.recruiters = make(map[int]string, len(recruiters))
	for _, r := range recruiters {
		n.recruiters[r.ID] = r.Name
	}
	return n, nil
}

// baseApplicants are applicants with status and source names resolved.
func (f *Fetcher) baseApplicants(ctx context.Context, params Params) ([]domain.Applicant, error) {
	applicants, _, err := cache.Fetch(ctx, f.cache, cache.Key("applicants", params), func(ctx context.Context) ([]domain.Applicant, error) {
		raw, err := f.paginate(ctx, "applicants", params)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[applicantWire](raw)
		if err != nil {
			return nil, err
		}
		n, err := f.loadNames(ctx, false)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Applicant, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord(n)
		}
		return out, nil
	})
	return applicants, err
}

// Applicants returns applicants, optionally with recruiters taken from activity logs.
func (f *Fetcher) Applicants(ctx context.Context, params Params) ([]domain.Applicant, error) {
	applicants, err := f.baseApplicants(ctx, params)
	if err != nil || !f.enrichRecruiters || len(applicants) == 0 {
		return applicants, err
	}

	ids := make([]int, len(applicants))
	for i, a := range applicants {
		ids[i] = a.ID
	}
	logs, err := f.logsFor(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	n, err := f.loadNames(ctx, true)
	if err != nil {
		return nil, err
	}

	latest := make(map[int]domain.ActivityLog)
	for _, l := range logs {
		if l.RecruiterID == 0 {
			continue
		}
		if cur, ok := latest[l.ApplicantID]; !ok || l.Created > cur.Created {
			latest[l.ApplicantID] = l
		}
	}
	enriched := make([]domain.Applicant, len(applicants))
	for i, a := range applicants {
		if l, ok := latest[a.ID]; ok {
			a.RecruiterID = l.RecruiterID
			a.RecruiterName = nameOr(n.recruiters, l.RecruiterID)
		}
		enriched[i] = a
	}
	return enriched, nil
}

func (f *Fetcher) applicantRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	applicants, err := f.Applicants(ctx, params)
	if err != nil {
		return nil, err
	}
	return toRecords(applicants), nil
}

func (f *Fetcher) applicantsWithStatusType(ctx context.Context, params Params, kind domain.EntityKind, statusType string) ([]domain.Record, error) {
	applicants, err := f.Applicants(ctx, params)
	if err != nil {
		return nil, err
	}
	var out []domain.Record
	for _, a := range applicants {
		if a.StatusType == statusType {
			out = append(out, a.AsKind(kind))
		}
	}
	return out, nil
}

func (f *Fetcher) hireRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	return f.applicantsWithStatusType(ctx, params, domain.EntityHires, domain.StatusTypeHired)
}

func (f *Fetcher) rejectionRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	return f.applicantsWithStatusType(ctx, params, domain.EntityRejections, domain.StatusTypeTrash)
}

func (f *Fetcher) Vacancies(ctx context.Context, params Params) ([]domain.Vacancy, error) {
	vacancies, _, err := cache.Fetch(ctx, f.cache, cache.Key("vacancies", params), func(ctx context.Context) ([]domain.Vacancy, error) {
		raw, err := f.paginate(ctx, "vacancies", params)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[vacancyWire](raw)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Vacancy, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord()
		}
		return out, nil
	})
	return vacancies, err
}

func (f *Fetcher) vacancyRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	vacancies, err := f.Vacancies(ctx, params)
	if err != nil {
		return nil, err
	}
	return toRecords(vacancies), nil
}

// Coworkers returns account coworkers.
func (f *Fetcher) Coworkers(ctx context.Context, params Params) ([]domain.Recruiter, error) {
	coworkers, _, err := cache.Fetch(ctx, f.cache, cache.Key("recruiters", params), func(ctx context.Context) ([]domain.Recruiter, error) {
		raw, err := f.paginate(ctx, "coworkers", params)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[coworkerWire](raw)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Recruiter, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord()
		}
		return out, nil
	})
	return coworkers, err
}

func (f *Fetcher) recruiterRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	coworkers, err := f.Coworkers(ctx, params)
	if err != nil {
		return nil, err
	}
	return toRecords(coworkers), nil
}

func (f *Fetcher) hiringManagerRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	withType := Params{"type": domain.CoworkerTypeManager}
	for name, value := range params {
		withType[name] = value
	}
	coworkers, err := f.Coworkers(ctx, withType)
	if err != nil {
		return nil, err
	}
	var out []domain.Record
	for _, c := range coworkers {
		if c.Type == domain.CoworkerTypeManager {
			out = append(out, c.AsKind(domain.EntityHiringManagers))
		}
	}
	return out, nil
}

func (f *Fetcher) Sources(ctx context.Context) ([]domain.Source, error) {
	sources, _, err := cache.Fetch(ctx, f.cache, cache.Key("sources", nil), func(ctx context.Context) ([]domain.Source, error) {
		raw, err := f.single(ctx, "applicants/sources", nil)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[sourceWire](raw)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Source, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord()
		}
		return out, nil
	})
	return sources, err
}

// Tags maps account tag IDs to names. Tags without an ID or a name are skipped.
func (f *Fetcher) Tags(ctx context.Context) (map[int]string, error) {
	tags, _, err := cache.Fetch(ctx, f.cache, cache.Key("tags", nil), func(ctx context.Context) (map[int]string, error) {
		raw, err := f.single(ctx, "tags", nil)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[tagWire](raw)
		if err != nil {
			return nil, err
		}
		out := make(map[int]string, len(wires))
		for _, w := range wires {
			if w.ID != 0 && w.Name != "" {
				out[w.ID] = w.Name
			}
		}
		return out, nil
	})
	return tags, err
}

func (f *Fetcher) sourceRecords(ctx context.Context, _ Params) ([]domain.Record, error) {
	sources, err := f.Sources(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(sources), nil
}

// Stages returns the vacancy statuses of the account.
func (f *Fetcher) Stages(ctx context.Context) ([]domain.Stage, error) {
	stages, _, err := cache.Fetch(ctx, f.cache, cache.Key("stages", nil), func(ctx context.Context) ([]domain.Stage, error) {
		raw, err := f.single(ctx, "vacancies/statuses", nil)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[statusWire](raw)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Stage, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord()
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
		return out, nil
	})
	return stages, err
}

func (f *Fetcher) stageRecords(ctx context.Context, _ Params) ([]domain.Record, error) {
	stages, err := f.Stages(ctx)
	if err != nil {
		return nil, err
	}
	return toRecords(stages), nil
}

func (f *Fetcher) Divisions(ctx context.Context, params Params) ([]domain.Division, error) {
	divisions, _, err := cache.Fetch(ctx, f.cache, cache.Key("divisions", params), func(ctx context.Context) ([]domain.Division, error) {
		raw, err := f.single(ctx, "divisions", params)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[divisionWire](raw)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Division, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord()
		}
		return out, nil
	})
	return divisions, err
}

func (f *Fetcher) divisionRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	divisions, err := f.Divisions(ctx, params)
	if err != nil {
		return nil, err
	}
	return toRecords(divisions), nil
}

// Actions returns the most recent page of the account action log.
func (f *Fetcher) Actions(ctx context.Context, params Params) ([]domain.Action, error) {
	actions, _, err := cache.Fetch(ctx, f.cache, cache.Key("actions", params), func(ctx context.Context) ([]domain.Action, error) {
		values := Params{"count": strconv.Itoa(maxActionPage)}
		for name, value := range params {
			values[name] = value
		}
		raw, err := f.single(ctx, "action_logs", values)
		if err != nil {
			return nil, err
		}
		wires, err := decodeItems[actionWire](raw)
		if err != nil {
			return nil, err
		}
		n, err := f.loadNames(ctx, true)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Action, len(wires))
		for i, w := range wires {
			out[i] = w.toRecord(n)
		}
		return out, nil
	})
	return actions, err
}

// action_logs is cursor paginated; one page of this size is read
const maxActionPage = 100

func (f *Fetcher) actionRecords(ctx context.Context, params Params) ([]domain.Record, error) {
	actions, err := f.Actions(ctx, params)
	if err != nil {
		return nil, err
	}
	return toRecords(actions), nil
}

// ActivityLogs returns the activity log rows of every applicant.
func (f *Fetcher) ActivityLogs(ctx context.Context) ([]domain.ActivityLog, error) {
	applicants, err := f.baseApplicants(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch activity logs: %w", err)
	}
	ids := make([]int, len(applicants))
	for i, a := range applicants {
		ids[i] = a.ID
	}
	logs, err := f.logsFor(ctx, ids, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch activity logs: %w", err)
	}
	return logs, nil
}

// logsFor fans out over the per-applicant log endpoint. params are sent with
// every call and partition the memoized result.
func (f *Fetcher) logsFor(ctx context.Context, ids []int, params Params) ([]domain.ActivityLog, error) {
	res, err := fanout.Run(ctx, f.fanout, ids, f.applicantLogs, fanout.Options{
		CacheKeyPrefix: string(domain.EntityActivityLogs),
		Extra:          params,
	})
	if err != nil {
		return nil, err
	}
	if res.Skipped != nil {
		f.logger.Warn("activity logs incomplete",
			slog.Int("skipped", len(res.SkippedIDs)),
			slog.Int("requested", len(ids)),
		)
	}
	return res.Items, nil
}

func (f *Fetcher) applicantLogs(ctx context.Context, applicantID int, extra any) ([]domain.ActivityLog, error) {
	params, _ := extra.(Params)
	raw, err := f.paginate(ctx, fmt.Sprintf("applicants/%d/logs", applicantID), params)
	if err != nil {
		return nil, err
	}
	wires, err := decodeItems[applicantLogWire](raw)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActivityLog, len(wires))
	for i, w := range wires {
		out[i] = w.toRecord(applicantID)
	}
	return out, nil
}
