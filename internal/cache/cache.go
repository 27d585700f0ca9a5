package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status reports which path produced a cache result.
type Status int

const (
	// Failed means the fetch failed and no entry was available.
	Failed Status = iota
	// Cached means a valid entry was returned without I/O.
	Cached
	// Fresh means the value was fetched during this call.
	Fresh
	// StaleFallback means the fetch failed and an expired entry was served.
	StaleFallback
)

func (s Status) String() string {
	switch s {
	case Cached:
		return "cached"
	case Fresh:
		return "fresh"
	case StaleFallback:
		return "stale_fallback"
	default:
		return "failed"
	}
}

// FetchFunc produces the value for a key on a miss.
type FetchFunc func(ctx context.Context) (any, error)

// Result is the outcome of GetOrFetch.
type Result struct {
	Value  any
	Status Status
	// Err holds the fetch error for StaleFallback and Failed results.
	Err error
}

// Stats is a snapshot of the cache contents.
type Stats struct {
	Total   int           `json:"total"`
	Valid   int           `json:"valid"`
	Expired int           `json:"expired"`
	TTL     time.Duration `json:"ttl"`
}

type entry struct {
	value    any
	storedAt time.Time
}

// TTLCache is an in-memory cache whose entries expire after a fixed TTL.
// Concurrent misses on the same key collapse into a single fetch.
type TTLCache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a TTLCache.
type Option func(*TTLCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for stale-fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TTLCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a TTLCache.
func New(ttl time.Duration, opts ...Option) *TTLCache {
	c := &TTLCache{
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]entry),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *TTLCache) TTL() time.Duration {
	return c.ttl
}

func (c *TTLCache) valid(e entry, now time.Time) bool {
	return now.Sub(e.storedAt) <= c.ttl
}

func (c *TTLCache) lookup(key string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *TTLCache) keyLock(key string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// GetOrFetch returns the cached value for key or calls fetch to produce it.
// At most one fetch per key runs at a time; waiters reuse its result.
func (c *TTLCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) Result {
	if e, ok := c.lookup(key); ok && c.valid(e, c.now()) {
		return Result{Value: e.value, Status: Cached}
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// another caller may have filled the entry while we waited
	stale, hasStale := c.lookup(key)
	if hasStale && c.valid(stale, c.now()) {
		return Result{Value: stale.value, Status: Cached}
	}

	if err := ctx.Err(); err != nil {
		return c.fallback(ctx, key, stale, hasStale, err)
	}

	value, err := fetch(ctx)
	if err != nil {
		return c.fallback(ctx, key, stale, hasStale, err)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
	c.mu.Unlock()
	return Result{Value: value, Status: Fresh}
}

func (c *TTLCache) fallback(ctx context.Context, key string, stale entry, hasStale bool, err error) Result {
	if hasStale {
		if served, ok := ctx.Value(staleTrackerKey{}).(*atomic.Bool); ok {
			served.Store(true)
		}
		c.logger.Warn("serving stale cache entry",
			slog.String("key", key),
			slog.Duration("age", c.now().Sub(stale.storedAt)),
			slog.Any("error", err),
		)
		return Result{Value: stale.value, Status: StaleFallback, Err: err}
	}
	return Result{Status: Failed, Err: err}
}

type staleTrackerKey struct{}

// TrackStale returns a context that records stale fallbacks served to any
// lookup made under it, and a func reporting whether one was served.
func TrackStale(ctx context.Context) (context.Context, func() bool) {
	served := new(atomic.Bool)
	return context.WithValue(ctx, staleTrackerKey{}, served), served.Load
}

// Invalidate removes a single entry.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes every entry.
func (c *TTLCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *TTLCache) Stats() Stats {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{Total: len(c.entries), TTL: c.ttl}
	for _, e := range c.entries {
		if c.valid(e, now) {
			stats.Valid++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Fetch is the typed form of GetOrFetch.
func Fetch[T any](ctx context.Context, c *TTLCache, key string, fetch func(context.Context) (T, error)) (T, Status, error) {
	res := c.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	var zero T
	if res.Status == Failed {
		return zero, res.Status, res.Err
	}
	value, ok := res.Value.(T)
	if !ok {
		return zero, Failed, fmt.Errorf("cache key %q holds %T", key, res.Value)
	}
	return value, res.Status, nil
}

// Key builds a namespaced cache key of the form namespace:md5(params).
// Map params are hashed with sorted keys so equal maps yield equal keys.
func Key(namespace string, params map[string]string) string {
	if len(params) == 0 {
		return namespace + ":all"
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, params[name]})
	}
	return HashKey(namespace, pairs)
}

// HashKey hashes the JSON encoding of parts under a namespace.
func HashKey(namespace string, parts ...any) string {
	raw, err := json.Marshal(parts)
	if err != nil {
		raw = []byte(fmt.Sprint(parts...))
	}
	return fmt.Sprintf("%s:%x", namespace, md5.Sum(raw))
}
