// Package cache implements a tiered, stampede-protected cache: a sharded
// in-process L1 fronting a networked L2, with single-flight coalescing of
// concurrent compute-on-miss calls.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
)

// Config bounds the L1 tier and caps how long any single entry may live
// there regardless of the strategy TTL a caller requests.
type Config struct {
	L1Capacity  int
	L1Shards    int
	L1MaxTTL    time.Duration // L1 policy: entry TTL capped at 5 min by default
}

// Cache is a two-tier (L1+L2) cache.
type Cache struct {
	l1      *l1Store
	l2      L2
	sf      *flightGroup
	metrics *metrics.Registry
	clock   clock.Clock
	logger  *zap.Logger
}

// New builds a Cache. l2 may be nil, in which case the cache degrades to
// L1-only (useful for tests and for graceful startup when Redis is down).
func New(cfg Config, l2 L2, reg *metrics.Registry, c clock.Clock, logger *zap.Logger) *Cache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = 5 * time.Minute
	}
	return &Cache{
		l1:      newL1Store(cfg.L1Capacity, cfg.L1Shards, cfg.L1MaxTTL),
		l2:      l2,
		sf:      newFlightGroup(),
		metrics: reg,
		clock:   c,
		logger:  logger,
	}
}

// Tier identifies which layer satisfied a read, for callers (notably
// internal/reports and internal/httpapi's X-Cache-Status header) that must
// surface which tier served a request rather than just hit/miss.
type Tier int

const (
	TierMiss Tier = iota // not found in either tier; caller must compute
	TierL1
	TierL2
)

// String renders the tier the way the HTTP API's X-Cache-Status header
// spells it.
func (t Tier) String() string {
	switch t {
	case TierL1:
		return "hit"
	case TierL2:
		return "l2-hit"
	default:
		return "miss"
	}
}

// Get performs a read-through lookup: L1, then L2 with promotion back into
// L1 using the remaining L2 TTL (never extending it).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, _, ok := c.GetTiered(ctx, key)
	return v, ok
}

// GetTiered is Get, additionally reporting which tier served the read.
func (c *Cache) GetTiered(ctx context.Context, key string) ([]byte, Tier, bool) {
	now := c.clock.Now()
	if v, ok := c.l1.get(key, now); ok {
		c.metrics.CacheHitsL1.Inc()
		return v, TierL1, true
	}

	if c.l2 == nil {
		c.metrics.CacheMisses.Inc()
		return nil, TierMiss, false
	}

	v, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("l2 get failed", zap.String("key", key), zap.Error(err))
		c.metrics.CacheMisses.Inc()
		return nil, TierMiss, false
	}
	if !ok {
		c.metrics.CacheMisses.Inc()
		return nil, TierMiss, false
	}

	remaining, hasTTL, err := c.l2.RemainingTTL(ctx, key)
	if err != nil || !hasTTL {
		remaining = c.l1.maxEntryTTL
	}
	c.l1.set(key, v, remaining, now)
	c.metrics.CacheHitsL2.Inc()
	return v, TierL2, true
}

// Set writes through both tiers. A negative ttl panics; a zero ttl still
// writes the entry but with an expiry of now, so it is immediately expired
// on the next read rather than silently rejected.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl < 0 {
		panic("cache: negative TTL")
	}
	now := c.clock.Now()
	c.l1.set(key, value, ttl, now)
	c.metrics.CacheSets.Inc()

	if c.l2 == nil {
		return
	}
	if ttl == 0 {
		// Redis reads a zero expiration as "never expires", so a zero-TTL
		// write removes the key from L2 instead of storing it there.
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Warn("l2 delete failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("l2 set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.l1.delete(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.Warn("l2 delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// ClearAll drops the L1 tier only. L2 is treated as a shared, longer-lived
// store that other processes may still depend on, so a broad clear stays
// local to this process's front cache.
func (c *Cache) ClearAll() {
	c.l1.clear()
}

// Len reports the number of L1 entries, used by the /cache-stats
// endpoint. Expired entries that no read has evicted yet are counted.
func (c *Cache) Len() int {
	return c.l1.len()
}

// Producer computes a fresh value for a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// GetOrCompute resolves a cache miss exactly once per contended key: one
// goroutine ("the leader") invokes producer while every other caller waits
// on the result. A leader's error is returned only to the leader; joiners
// that observe an error instead loop back and race again, since the key
// may already have been repaired by a later caller.
func (c *Cache) GetOrCompute(ctx context.Context, key string, strategy Strategy, producer Producer) ([]byte, error) {
	v, _, err := c.GetOrComputeTiered(ctx, key, strategy, producer)
	return v, err
}

// GetOrComputeTiered is GetOrCompute, additionally reporting the tier that
// served the value: TierL1/TierL2 for a cache hit, TierMiss when producer
// actually ran.
func (c *Cache) GetOrComputeTiered(ctx context.Context, key string, strategy Strategy, producer Producer) ([]byte, Tier, error) {
	for {
		if v, tier, ok := c.GetTiered(ctx, key); ok {
			return v, tier, nil
		}

		val, err, isLeader := c.sf.Do(key, func() ([]byte, error) {
			if v, ok := c.Get(ctx, key); ok {
				return v, nil
			}
			v, err := producer(ctx)
			if err != nil {
				return nil, err
			}
			c.Set(ctx, key, v, strategy.TTL())
			return v, nil
		})

		if isLeader {
			return val, TierMiss, err
		}

		c.metrics.SingleFlightJoins.Inc()
		if err == nil {
			return val, TierMiss, nil
		}
		// Joiner saw the leader fail. Re-check ctx and retry as a
		// potential new leader rather than propagating a stranger's error.
		if ctx.Err() != nil {
			return nil, TierMiss, ctx.Err()
		}
	}
}

// GetJSON reads key and unmarshals it into T. ok is false on a cache miss;
// a decode error is distinct from a miss.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// SetJSON marshals value and writes it through both tiers under strategy's
// TTL.
func SetJSON[T any](ctx context.Context, c *Cache, key string, value T, strategy Strategy) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.Set(ctx, key, raw, strategy.TTL())
	return nil
}

// GetOrComputeJSON is the typed counterpart to GetOrCompute: producer
// returns a Go value instead of raw bytes.
func GetOrComputeJSON[T any](ctx context.Context, c *Cache, key string, strategy Strategy, producer func(ctx context.Context) (T, error)) (T, error) {
	v, _, err := GetOrComputeJSONTiered(ctx, c, key, strategy, producer)
	return v, err
}

// GetOrComputeJSONTiered is GetOrComputeJSON, additionally reporting which
// tier served the value (TierMiss when producer actually ran).
func GetOrComputeJSONTiered[T any](ctx context.Context, c *Cache, key string, strategy Strategy, producer func(ctx context.Context) (T, error)) (T, Tier, error) {
	var zero T
	raw, tier, err := c.GetOrComputeTiered(ctx, key, strategy, func(ctx context.Context) ([]byte, error) {
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, tier, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, tier, err
	}
	return v, tier, nil
}
