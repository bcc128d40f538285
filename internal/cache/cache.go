// Package cache holds the most recent aggregated snapshot behind a TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/fetcher"
	"spacewatch/internal/metrics"
	"spacewatch/internal/spaceweather"
)

// DefaultTTL is how long a snapshot is served without refetching.
const DefaultTTL = 60 * time.Second

// ErrNoSnapshot means no valid snapshot has ever been fetched.
var ErrNoSnapshot = errors.New("no snapshot available")

// Result is the outcome of a cache read. On a failed refresh Snapshot
// still carries the previous valid snapshot, if any.
type Result struct {
	Snapshot *spaceweather.Snapshot
	Success  bool
	Err      error
}

// Usable returns the snapshot, stale or not, or ErrNoSnapshot.
func (r Result) Usable() (*spaceweather.Snapshot, error) {
	if r.Snapshot != nil {
		return r.Snapshot, nil
	}
	if r.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, r.Err)
	}
	return nil, ErrNoSnapshot
}

// Options configure the cache.
type Options struct {
	TTL   time.Duration
	Clock func() time.Time
}

type entry struct {
	snapshot *spaceweather.Snapshot
	storedAt time.Time
}

// Cache is the single writer of the current snapshot. Snapshots handed
// out are shared and must be treated as read-only.
type Cache struct {
	fetcher fetcher.SnapshotFetcher
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	refresh sync.Mutex
	current atomic.Pointer[entry]
}

// New constructs a reading cache over the given aggregator.
func New(f fetcher.SnapshotFetcher, opts Options, logger zerolog.Logger) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Cache{
		fetcher: f,
		ttl:     ttl,
		now:     now,
		logger:  logger.With().Str("component", "reading_cache").Logger(),
	}
}

// Get returns the cached snapshot while it is younger than the TTL, and
// otherwise refetches. A failed refetch keeps the previous snapshot.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) Result {
	if !forceRefresh {
		if e := c.fresh(); e != nil {
			return Result{Snapshot: e.snapshot, Success: true}
		}
	}

	c.refresh.Lock()
	defer c.refresh.Unlock()

	// another caller may have refreshed while we waited
	if !forceRefresh {
		if e := c.fresh(); e != nil {
			return Result{Snapshot: e.snapshot, Success: true}
		}
	}

	snap, err := c.fetcher.FetchAggregateSnapshot(ctx)
	if err == nil && snap == nil {
		err = errors.New("aggregator returned no snapshot")
	}
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues("failure").Inc()
		c.logger.Error().Err(err).Msg("snapshot refresh failed, keeping previous")
		return Result{Snapshot: c.Peek(), Success: false, Err: err}
	}

	c.current.Store(&entry{snapshot: snap, storedAt: c.now()})
	metrics.CacheRefreshes.WithLabelValues("success").Inc()
	return Result{Snapshot: snap, Success: true}
}

// Peek returns the current snapshot without fetching.
func (c *Cache) Peek() *spaceweather.Snapshot {
	if e := c.current.Load(); e != nil {
		return e.snapshot
	}
	return nil
}

// Age reports how old the cached snapshot is; ok is false when empty.
func (c *Cache) Age() (time.Duration, bool) {
	e := c.current.Load()
	if e == nil {
		return 0, false
	}
	return c.now().Sub(e.storedAt), true
}

func (c *Cache) fresh() *entry {
	e := c.current.Load()
	if e == nil {
		return nil
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		return nil
	}
	return e
}
