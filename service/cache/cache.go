// Package cache memoizes scan verdicts by content fingerprint.
//
// The cache guarantees at most one concurrent computation per
// fingerprint: concurrent callers for the same fingerprint wait for
// and share the single in-flight computation instead of re-running it.
// Entries expire by TTL. An optional Redis backend shares verdicts
// across instances; Redis failures degrade to the in-memory store and
// never fail a scan.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/scan"
)

const (
	// redisKeyPrefix namespaces verdict entries in Redis.
	redisKeyPrefix = "verdict:"

	// redisTimeout bounds backend round trips so a slow Redis cannot
	// eat into the scan deadline.
	redisTimeout = 50 * time.Millisecond

	// sweepInterval is how often expired in-memory entries are purged.
	sweepInterval = 1 * time.Minute
)

type entry struct {
	verdict   *scan.Verdict
	expiresAt time.Time
}

// VerdictCache implements scan.VerdictCache with an in-memory TTL map,
// per-fingerprint request coalescing, and an optional Redis backend.
type VerdictCache struct {
	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group

	rdb     *redis.Client // optional: nil means memory-only
	metrics *metrics.Metrics
	logger  *slog.Logger

	stop chan struct{}
	once sync.Once

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a verdict cache. rdb and m may be nil.
func New(rdb *redis.Client, m *metrics.Metrics, logger *slog.Logger) *VerdictCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &VerdictCache{
		entries: make(map[string]entry),
		rdb:     rdb,
		metrics: m,
		logger:  logger,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go c.janitor()
	return c
}

// GetOrCompute returns the cached verdict for fingerprint, or invokes
// compute under per-fingerprint coalescing and stores the result for
// ttl. Errors from compute are shared with coalesced waiters but never
// stored. The returned bool reports whether the verdict was reused
// (cached or shared from another caller's in-flight computation).
func (c *VerdictCache) GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, compute func(context.Context) (*scan.Verdict, error)) (*scan.Verdict, bool, error) {
	if v, ok := c.lookup(ctx, fingerprint); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheLookup(true)
		}
		return v, true, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(false)
	}

	// computed marks this caller as the flight leader: singleflight
	// runs the callback for exactly one caller per fingerprint.
	computed := false
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		computed = true
		// Another flight may have stored the entry between our lookup
		// and this callback running.
		if v, ok := c.lookup(ctx, fingerprint); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(fingerprint, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		reused := !computed
		if reused && c.metrics != nil {
			c.metrics.RecordCacheCoalesced()
		}
		return res.Val.(*scan.Verdict), reused, nil
	case <-ctx.Done():
		// The caller's deadline elapsed while waiting on the shared
		// computation. The flight keeps running for other waiters.
		return nil, false, ctx.Err()
	}
}

// lookup checks memory first, then Redis. Expired entries are treated
// as absent and recomputed transparently by the caller.
func (c *VerdictCache) lookup(ctx context.Context, fingerprint string) (*scan.Verdict, bool) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if ok {
		if c.now().Before(e.expiresAt) {
			return e.verdict, true
		}
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
	}

	if c.rdb == nil {
		return nil, false
	}

	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	data, err := c.rdb.Get(rctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.recordBackendError("get", err)
		}
		return nil, false
	}

	var v scan.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		c.recordBackendError("decode", err)
		return nil, false
	}
	return &v, true
}

// store writes the verdict to memory and, best effort, to Redis.
func (c *VerdictCache) store(fingerprint string, v *scan.Verdict, ttl time.Duration) {
	c.mu.Lock()
	c.entries[fingerprint] = entry{verdict: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.recordBackendError("encode", err)
		return
	}
	rctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := c.rdb.Set(rctx, redisKeyPrefix+fingerprint, data, ttl).Err(); err != nil {
		c.recordBackendError("set", err)
	}
}

func (c *VerdictCache) recordBackendError(op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordCacheStoreError()
	}
	c.logger.Debug("verdict cache backend error", "op", op, "error", err)
}

// Len reports the number of in-memory entries, expired or not.
func (c *VerdictCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// janitor purges expired in-memory entries periodically.
func (c *VerdictCache) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for fp, e := range c.entries {
				if !now.Before(e.expiresAt) {
					delete(c.entries, fp)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background janitor. It does not close the Redis
// client, which the caller owns.
func (c *VerdictCache) Close() {
	c.once.Do(func() { close(c.stop) })
}
