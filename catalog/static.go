package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/vlubarsky/citus/cfg"
	"github.com/vlubarsky/citus/telemetry"
)

// StaticCatalog serves placements declared up front, typically from the
// [[catalog.shards]] section of the configuration file.
type StaticCatalog struct {
	mu     sync.RWMutex
	shards map[uint64][]Placement
}

// NewStaticCatalog creates an empty static catalog
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{shards: make(map[uint64][]Placement)}
}

// NewStaticCatalogFromConfig builds a catalog from configured shards.
// Placements are ordered by placement id; ties keep file order.
func NewStaticCatalogFromConfig(shards []cfg.ShardConfiguration) *StaticCatalog {
	c := NewStaticCatalog()
	for _, shard := range shards {
		placements := make([]Placement, 0, len(shard.Placements))
		for _, p := range shard.Placements {
			placements = append(placements, Placement{
				ShardID:     shard.ShardID,
				PlacementID: p.PlacementID,
				NodeName:    p.NodeName,
				NodePort:    p.NodePort,
			})
		}
		sort.SliceStable(placements, func(i, j int) bool {
			return placements[i].PlacementID < placements[j].PlacementID
		})
		c.Set(shard.ShardID, placements...)
	}
	return c
}

// Set replaces the placements of a shard. Passing none removes the shard.
func (c *StaticCatalog) Set(shardID uint64, placements ...Placement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(placements) == 0 {
		delete(c.shards, shardID)
		return
	}
	cp := make([]Placement, len(placements))
	copy(cp, placements)
	for i := range cp {
		cp[i].ShardID = shardID
	}
	c.shards[shardID] = cp
}

// ResolvePlacements implements Catalog. The returned slice is a copy.
func (c *StaticCatalog) ResolvePlacements(ctx context.Context, shardID uint64) ([]Placement, error) {
	c.mu.RLock()
	placements := c.shards[shardID]
	c.mu.RUnlock()

	if len(placements) == 0 {
		telemetry.CatalogLookupsTotal.With("static", "empty").Inc()
		return nil, nil
	}
	telemetry.CatalogLookupsTotal.With("static", "hit").Inc()

	out := make([]Placement, len(placements))
	copy(out, placements)
	return out, nil
}
