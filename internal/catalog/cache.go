package catalog

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/example/taxiroutes/internal/retry"
)

const cacheSize = 256

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cached fronts a Source with an LRU cache whose entries expire after ttl.
// Misses are read with retry and concurrent misses share one read.
type Cached struct {
	src    Source
	cache  *lru.Cache
	group  singleflight.Group
	ttl    time.Duration
	policy retry.Policy
	now    func() time.Time
}

func NewCached(src Source, ttl time.Duration, policy retry.Policy) (*Cached, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create catalog cache: %w", err)
	}
	return &Cached{src: src, cache: cache, ttl: ttl, policy: policy, now: time.Now}, nil
}

func (c *Cached) ListRoutes(ctx context.Context) ([]Route, error) {
	v, err := c.load(ctx, "routes", func(ctx context.Context) (any, error) {
		return c.src.ListRoutes(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Route), nil
}

func (c *Cached) ListVehicles(ctx context.Context, routeID int64) ([]Vehicle, error) {
	v, err := c.load(ctx, fmt.Sprintf("vehicles:%d", routeID), func(ctx context.Context) (any, error) {
		return c.src.ListVehicles(ctx, routeID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Vehicle), nil
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() { c.cache.Purge() }

func (c *Cached) load(ctx context.Context, key string, read func(context.Context) (any, error)) (any, error) {
	if raw, ok := c.cache.Get(key); ok {
		if entry, ok := raw.(cacheEntry); ok && c.now().Before(entry.expiresAt) {
			return entry.value, nil
		}
		c.cache.Remove(key)
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := retry.Do(ctx, c.policy, read)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.cache.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)})
		}
		return value, nil
	})
	return v, err
}
