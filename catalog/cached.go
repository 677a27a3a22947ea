package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vlubarsky/citus/cfg"
	"github.com/vlubarsky/citus/telemetry"
)

// CachedCatalog keeps recently resolved placement lists for a bounded time.
// Empty and failed lookups are never cached, so a shard that gains its
// first placement is visible on the next call.
type CachedCatalog struct {
	next  Catalog
	cache *expirable.LRU[uint64, []Placement]
}

// NewCachedCatalog wraps next with an LRU of size entries expiring after ttl.
func NewCachedCatalog(next Catalog, size int, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		next:  next,
		cache: expirable.NewLRU[uint64, []Placement](size, nil, ttl),
	}
}

// ResolvePlacements implements Catalog.
func (c *CachedCatalog) ResolvePlacements(ctx context.Context, shardID uint64) ([]Placement, error) {
	if placements, ok := c.cache.Get(shardID); ok {
		telemetry.CatalogLookupsTotal.With("cache", "hit").Inc()
		return clonePlacements(placements), nil
	}
	telemetry.CatalogLookupsTotal.With("cache", "miss").Inc()

	placements, err := c.next.ResolvePlacements(ctx, shardID)
	if err != nil || len(placements) == 0 {
		return placements, err
	}

	c.cache.Add(shardID, clonePlacements(placements))
	return placements, nil
}

// Invalidate drops a shard from the cache, e.g. after a placement move.
func (c *CachedCatalog) Invalidate(shardID uint64) {
	c.cache.Remove(shardID)
}

// Purge drops every cached entry.
func (c *CachedCatalog) Purge() {
	c.cache.Purge()
}

func clonePlacements(in []Placement) []Placement {
	out := make([]Placement, len(in))
	copy(out, in)
	return out
}

// FromConfig builds the catalog described by configuration, wrapped in a
// cache when a TTL is configured. The returned close function releases any
// database handle.
func FromConfig(conf cfg.CatalogConfiguration) (Catalog, func() error, error) {
	var (
		base    Catalog
		closeFn = func() error { return nil }
	)

	switch conf.Source {
	case cfg.CatalogStatic:
		base = NewStaticCatalogFromConfig(conf.Shards)
	default:
		sc, err := OpenSQLCatalog(conf.Source, conf.DSN, conf.Table)
		if err != nil {
			return nil, nil, err
		}
		base = sc
		closeFn = sc.Close
	}

	if conf.CacheTTLMS > 0 {
		base = NewCachedCatalog(base, conf.CacheSize, time.Duration(conf.CacheTTLMS)*time.Millisecond)
	}
	return base, closeFn, nil
}
