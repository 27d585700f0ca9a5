package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cast"

	"github.com/rpattn/hfql/internal/domain"
)

// Source provides the collections needed to resolve cross-entity filters.
type Source interface {
	Records(ctx context.Context, kind domain.EntityKind) ([]domain.Record, error)
	ActivityLogs(ctx context.Context) ([]domain.ActivityLog, error)
}

// Engine applies FilterSets to fetched records.
type Engine struct {
	source Source
	logger *slog.Logger
}

type EngineOption func(*Engine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(source Source, opts ...EngineOption) *Engine {
	e := &Engine{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply filters records of the target entity. Stages run in a fixed order:
// logical, period, cross-entity, then direct filters.
func (e *Engine) Apply(ctx context.Context, target domain.EntityKind, fs FilterSet, records []domain.Record) ([]domain.Record, error) {
	if fs.IsEmpty() {
		return records, nil
	}
	fs = fs.ForTarget(target)
	result := records
	var err error

	for _, lf := range fs.LogicalFilters {
		if result, err = e.applyLogical(ctx, target, lf, result); err != nil {
			return nil, err
		}
	}
	if fs.Period != nil {
		result = e.applyPeriod(*fs.Period, result)
	}
	for _, f := range fs.CrossEntityFilters {
		if result, err = e.applyCross(ctx, target, f, result); err != nil {
			return nil, err
		}
	}
	for _, f := range fs.EntityFilters {
		result = applyDirect(f, result)
	}
	return result, nil
}

func (e *Engine) applyCondition(ctx context.Context, target domain.EntityKind, cond Condition, records []domain.Record) ([]domain.Record, error) {
	switch c := cond.(type) {
	case UniversalFilter:
		if c.Entity == target {
			return applyDirect(c, records), nil
		}
		return e.applyCross(ctx, target, c, records)
	case PeriodFilter:
		return e.applyPeriod(c, records), nil
	case LogicalFilter:
		return e.applyLogical(ctx, target, c, records)
	}
	return nil, fmt.Errorf("unsupported condition %T", cond)
}

func (e *Engine) applyLogical(ctx context.Context, target domain.EntityKind, lf LogicalFilter, records []domain.Record) ([]domain.Record, error) {
	if lf.Operator == And {
		result := records
		for _, child := range lf.Children {
			var err error
			if result, err = e.applyCondition(ctx, target, child, result); err != nil {
				return nil, err
			}
			if len(result) == 0 {
				break
			}
		}
		return result, nil
	}

	matched := make(map[string]struct{})
	for _, child := range lf.Children {
		branch, err := e.applyCondition(ctx, target, child, records)
		if err != nil {
			return nil, err
		}
		for _, r := range branch {
			matched[identity(r)] = struct{}{}
		}
	}
	var result []domain.Record
	for _, r := range records {
		if _, ok := matched[identity(r)]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// identity keys records for or-unions, falling back to the full record.
func identity(r domain.Record) string {
	if id := r.RecordID(); id != "" && id != "0" {
		return string(r.Kind()) + ":" + id
	}
	return fmt.Sprintf("%s:%#v", r.Kind(), r)
}

func (e *Engine) applyPeriod(p PeriodFilter, records []domain.Record) []domain.Record {
	var result []domain.Record
	for _, r := range records {
		raw, ok := domain.RecordTimestamp(r)
		if !ok {
			result = append(result, r)
			continue
		}
		ts, ok := toTime(raw, p.Start.Location())
		if !ok {
			e.logger.Warn("unparsable record date, keeping record",
				slog.String("entity", string(r.Kind())),
				slog.String("id", r.RecordID()),
				slog.Any("value", raw),
			)
			result = append(result, r)
			continue
		}
		if p.Contains(ts) {
			result = append(result, r)
		}
	}
	return result
}

func applyDirect(f UniversalFilter, records []domain.Record) []domain.Record {
	var result []domain.Record
	for _, r := range records {
		if MatchRecord(r, f.Field, f.Operator, f.Value) {
			result = append(result, r)
		}
	}
	return result
}

func (e *Engine) applyCross(ctx context.Context, target domain.EntityKind, f UniversalFilter, records []domain.Record) ([]domain.Record, error) {
	if f.Entity == target {
		return applyDirect(f, records), nil
	}
	rel, ok := domain.LookupRelationship(target, f.Entity)
	if !ok {
		e.relationshipGap(target, f.Entity)
		return records, nil
	}
	if rel.Indirect {
		return e.applyIndirect(ctx, target, f, records)
	}

	if f.Field == "id" {
		var result []domain.Record
		for _, r := range records {
			if MatchRecord(r, rel.Field, f.Operator, f.Value) {
				result = append(result, r)
			}
		}
		return result, nil
	}

	ids, err := e.matchingIDs(ctx, f)
	if err != nil {
		return nil, err
	}
	var result []domain.Record
	for _, r := range records {
		value, _ := r.Field(rel.Field)
		if _, ok := ids[idKey(value)]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// applyIndirect scans the activity log for rows whose reference to the
// filter entity matches, and keeps target records referenced by those rows.
func (e *Engine) applyIndirect(ctx context.Context, target domain.EntityKind, f UniversalFilter, records []domain.Record) ([]domain.Record, error) {
	filterRef, okFilter := domain.LogReferenceField(f.Entity)
	targetRef, okTarget := domain.LogReferenceField(target)
	if !okFilter || !okTarget {
		e.relationshipGap(target, f.Entity)
		return records, nil
	}

	logMatches := func(l domain.ActivityLog) bool {
		return MatchRecord(l, filterRef, f.Operator, f.Value)
	}
	if f.Field != "id" {
		ids, err := e.matchingIDs(ctx, f)
		if err != nil {
			return nil, err
		}
		logMatches = func(l domain.ActivityLog) bool {
			value, _ := l.Field(filterRef)
			_, ok := ids[idKey(value)]
			return ok
		}
	}

	logs, err := e.source.ActivityLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s by %s: %w", target, f.Entity, err)
	}
	targetIDs := make(map[string]struct{})
	for _, l := range logs {
		if !logMatches(l) {
			continue
		}
		value, _ := l.Field(targetRef)
		if value == nil {
			continue
		}
		targetIDs[idKey(value)] = struct{}{}
	}

	var result []domain.Record
	for _, r := range records {
		if _, ok := targetIDs[r.RecordID()]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// matchingIDs lists the filter entity's records matching the condition.
func (e *Engine) matchingIDs(ctx context.Context, f UniversalFilter) (map[string]struct{}, error) {
	related, err := e.source.Records(ctx, f.Entity)
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", f.Entity, f.Field, err)
	}
	ids := make(map[string]struct{})
	for _, r := range related {
		if MatchRecord(r, f.Field, f.Operator, f.Value) {
			ids[r.RecordID()] = struct{}{}
		}
	}
	return ids, nil
}

func (e *Engine) relationshipGap(target, filterEntity domain.EntityKind) {
	e.logger.Warn("no relationship between entities, filter ignored",
		slog.String("target", string(target)),
		slog.String("filter_entity", string(filterEntity)),
	)
}

// idKey normalizes reference values so 7, 7.0 and "7" share a key.
func idKey(v any) string {
	if v == nil {
		return ""
	}
	if f, err := toFloat(v); err == nil && f == float64(int64(f)) {
		return cast.ToString(int64(f))
	}
	return cast.ToString(v)
}
