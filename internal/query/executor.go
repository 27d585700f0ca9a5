package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/rpattn/hfql/internal/cache"
	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/fetcher"
	"github.com/rpattn/hfql/internal/filter"
)

// Fetcher loads records and totals for the executor.
type Fetcher interface {
	Fetch(ctx context.Context, kind domain.EntityKind, params fetcher.Params) ([]domain.Record, error)
	Count(ctx context.Context, kind domain.EntityKind, params fetcher.Params) (int, error)
}

// Result is the outcome of one query execution.
type Result struct {
	ExecutionID string            `json:"execution_id"`
	Operation   Operation         `json:"operation"`
	Entity      domain.EntityKind `json:"entity"`
	Count       int               `json:"count"`
	Records     []domain.Record   `json:"records,omitempty"`
	Groups      map[string]int    `json:"groups,omitempty"`
	GroupBy     string            `json:"group_by,omitempty"`
	Optimized   bool              `json:"optimized"`
	// Stale is set when an upstream call failed and an expired cache entry
	// was served in its place.
	Stale    bool          `json:"stale"`
	Duration time.Duration `json:"-"`
}

// SortedGroups returns group keys ordered by descending count, then name.
func (r Result) SortedGroups() []string {
	keys := make([]string, 0, len(r.Groups))
	for key := range r.Groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if r.Groups[keys[i]] != r.Groups[keys[j]] {
			return r.Groups[keys[i]] > r.Groups[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Executor runs queries against the fetchers and the filter engine.
type Executor struct {
	fetcher Fetcher
	engine  *filter.Engine
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExecutor(f Fetcher, engine *filter.Engine, opts ...Option) *Executor {
	e := &Executor{fetcher: f, engine: engine, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// noneGroup labels records whose group field is empty.
const noneGroup = "(none)"

// Execute analyzes the query, fetches what it needs and applies the filters.
func (e *Executor) Execute(ctx context.Context, q Query) (Result, error) {
	start := e.now()
	res := Result{
		ExecutionID: uuid.NewString(),
		Operation:   q.Operation,
		Entity:      q.Entity,
		GroupBy:     q.GroupBy,
	}
	logger := e.logger.With(slog.String("execution_id", res.ExecutionID), slog.String("entity", string(q.Entity)))
	analysis := Analyze(q)
	ctx, servedStale := cache.TrackStale(ctx)

	if analysis.Optimized {
		total, err := e.fetcher.Count(ctx, q.Entity, analysis.Params)
		switch {
		case err == nil:
			res.Count = total
			res.Optimized = true
			res.Stale = servedStale()
			res.Duration = e.now().Sub(start)
			logger.Info("query answered from reported total", slog.Int("count", total), slog.Bool("stale", res.Stale))
			return res, nil
		case errors.Is(err, fetcher.ErrNoTotal):
			logger.Warn("endpoint omitted total, falling back to full fetch")
		default:
			return Result{}, fmt.Errorf("count %s: %w", q.Entity, err)
		}
	} else {
		logger.Debug("full fetch required", slog.String("reason", analysis.Reason))
	}

	records, err := e.fetcher.Fetch(ctx, q.Entity, analysis.Params)
	if err != nil {
		return Result{}, err
	}
	filtered, err := e.engine.Apply(ctx, q.Entity, withoutParamOnly(q), records)
	if err != nil {
		return Result{}, fmt.Errorf("filter %s: %w", q.Entity, err)
	}

	res.Count = len(filtered)
	if q.GroupBy != "" {
		res.Groups = groupCounts(filtered, q.GroupBy)
	}
	if q.Operation == OpList {
		res.Records = filtered
	}
	res.Stale = servedStale()
	res.Duration = e.now().Sub(start)
	logger.Info("query executed",
		slog.Int("fetched", len(records)),
		slog.Int("count", res.Count),
		slog.Bool("stale", res.Stale),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// withoutParamOnly drops direct filters that only the endpoint can evaluate;
// they were already applied through the fetch parameters.
func withoutParamOnly(q Query) filter.FilterSet {
	fs := q.Filters.ForTarget(q.Entity)
	kept := fs.EntityFilters[:0:0]
	for _, f := range fs.EntityFilters {
		if f.Operator == filter.OpEq && fetcher.ParamOnly(q.Entity, f.Field) {
			continue
		}
		kept = append(kept, f)
	}
	fs.EntityFilters = kept
	return fs
}

func groupCounts(records []domain.Record, field string) map[string]int {
	groups := make(map[string]int)
	for _, r := range records {
		for _, key := range groupKeys(r, field) {
			groups[key]++
		}
	}
	return groups
}

func groupKeys(r domain.Record, field string) []string {
	value, _ := r.Field(field)
	if list, ok := value.([]string); ok {
		if len(list) == 0 {
			return []string{noneGroup}
		}
		return list
	}
	key, err := cast.ToStringE(value)
	if err != nil || key == "" {
		return []string{noneGroup}
	}
	return []string{key}
}
