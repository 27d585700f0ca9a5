package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/graph-gophers/dataloader"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/hfql/internal/cache"
)

// Options controls memoization of a fan-out.
type Options struct {
	// CacheKeyPrefix enables memoization of the merged result when non-empty.
	CacheKeyPrefix string
	// Extra is passed to every per-ID call and folded into the memo key
	// alongside the sorted IDs.
	Extra any
}

// Result is the merged output of a fan-out.
type Result[T any] struct {
	Items      []T
	SkippedIDs []int
	// Skipped aggregates the per-ID failures, nil when none.
	Skipped error
}

// Runner executes batched per-ID fetches.
type Runner struct {
	cache       *cache.TTLCache
	batchSize   int
	concurrency int
	wait        time.Duration
	logger      *slog.Logger
}

type Option func(*Runner)

// WithCache enables memoization through the shared TTL cache.
func WithCache(c *cache.TTLCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithBatchSize caps the number of IDs dispatched per loader batch.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithConcurrency caps concurrent per-ID calls within a batch.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		batchSize:   50,
		concurrency: 5,
		wait:        2 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchFunc loads the items of one ID. extra is Options.Extra.
type FetchFunc[T any] func(ctx context.Context, id int, extra any) ([]T, error)

// Run calls fetchOne for every distinct ID and concatenates the results in
// input order. Failing IDs are logged and skipped.
func Run[T any](ctx context.Context, r *Runner, ids []int, fetchOne FetchFunc[T], opts Options) (Result[T], error) {
	ids = dedupe(ids)
	if opts.CacheKeyPrefix == "" || r.cache == nil {
		return gather(ctx, r, ids, fetchOne, opts.Extra)
	}

	key := MemoKey(opts.CacheKeyPrefix, ids, opts.Extra)
	res, _, err := cache.Fetch(ctx, r.cache, key, func(ctx context.Context) (Result[T], error) {
		return gather(ctx, r, ids, fetchOne, opts.Extra)
	})
	if err != nil {
		return Result[T]{}, fmt.Errorf("fan-out %s: %w", opts.CacheKeyPrefix, err)
	}
	return res, nil
}

// MemoKey builds prefix:md5(sorted ids, extra).
func MemoKey(prefix string, ids []int, extra any) string {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	return cache.HashKey(prefix, sorted, extra)
}

func gather[T any](ctx context.Context, r *Runner, ids []int, fetchOne FetchFunc[T], extra any) (Result[T], error) {
	if len(ids) == 0 {
		return Result[T]{}, nil
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for i, k := range keys {
			i := i
			id, err := strconv.Atoi(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid id %q: %w", k.String(), err)}
				continue
			}
			g.Go(func() error {
				items, err := fetchOne(ctx, id, extra)
				results[i] = &dataloader.Result{Data: items, Error: err}
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithBatchCapacity(r.batchSize),
		dataloader.WithCache(&dataloader.NoCache{}),
		dataloader.WithWait(r.wait),
	)

	thunks := make([]dataloader.Thunk, len(ids))
	for i, id := range ids {
		thunks[i] = loader.Load(ctx, dataloader.StringKey(strconv.Itoa(id)))
	}

	var (
		out     Result[T]
		skipped *multierror.Error
	)
	for i, thunk := range thunks {
		data, err := thunk()
		if err == nil {
			if items, ok := data.([]T); ok {
				out.Items = append(out.Items, items...)
				continue
			}
			err = fmt.Errorf("unexpected result type %T", data)
		}
		r.logger.Warn("fan-out fetch failed, skipping id",
			slog.Int("id", ids[i]),
			slog.Any("error", err),
		)
		out.SkippedIDs = append(out.SkippedIDs, ids[i])
		skipped = multierror.Append(skipped, fmt.Errorf("id %d: %w", ids[i], err))
	}
	if err := ctx.Err(); err != nil {
		return Result[T]{}, err
	}
	out.Skipped = skipped.ErrorOrNil()
	return out, nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
