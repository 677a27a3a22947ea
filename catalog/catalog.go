// Package catalog resolves which physical placements back a shard.
//
// The catalog only reads placement metadata. Keeping that metadata current
// (placement health, rebalancing) belongs to whoever owns the metadata store.
package catalog

import (
	"context"
	"net"
	"strconv"
)

// Placement is one network-addressable copy of a shard.
type Placement struct {
	ShardID     uint64
	PlacementID uint64
	NodeName    string
	NodePort    int
}

// Addr returns host:port for dialing the placement.
func (p Placement) Addr() string {
	return net.JoinHostPort(p.NodeName, strconv.Itoa(p.NodePort))
}

// Catalog resolves the current placements of a shard, in the order they
// should be contacted. An empty result is not an error at this layer.
type Catalog interface {
	ResolvePlacements(ctx context.Context, shardID uint64) ([]Placement, error)
}

// Func adapts a plain function to Catalog.
type Func func(ctx context.Context, shardID uint64) ([]Placement, error)

func (f Func) ResolvePlacements(ctx context.Context, shardID uint64) ([]Placement, error) {
	return f(ctx, shardID)
}
