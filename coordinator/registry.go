package coordinator

// Registry maps shards to their participant connections for one
// transaction. It is not safe for concurrent use; the owning Transaction
// serializes access.
//
// Shards are iterated in the order they were first touched, so flattening
// is deterministic for a given registry.
type Registry struct {
	sets  map[uint64]*ShardConnections
	order []uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sets: make(map[uint64]*ShardConnections)}
}

// GetOrCreate returns the set of shardID, creating an empty one if the shard
// has not been seen. found reports whether the set already existed.
func (r *Registry) GetOrCreate(shardID uint64) (set *ShardConnections, found bool) {
	if set, ok := r.sets[shardID]; ok {
		return set, true
	}
	set = &ShardConnections{ShardID: shardID}
	r.sets[shardID] = set
	r.order = append(r.order, shardID)
	return set, false
}

// Lookup returns the set of shardID if present
func (r *Registry) Lookup(shardID uint64) (*ShardConnections, bool) {
	if r == nil {
		return nil, false
	}
	set, ok := r.sets[shardID]
	return set, ok
}

// Forget removes a shard's set. Only used for sets that never got a
// connection.
func (r *Registry) Forget(shardID uint64) {
	if _, ok := r.sets[shardID]; !ok {
		return
	}
	delete(r.sets, shardID)
	for i, id := range r.order {
		if id == shardID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// AllConnections flattens every set into one slice: shards in first-touch
// order, then placements in open order
func (r *Registry) AllConnections() []*ParticipantConnection {
	if r.Empty() {
		return nil
	}

	n := 0
	for _, set := range r.sets {
		n += len(set.Connections)
	}
	out := make([]*ParticipantConnection, 0, n)
	for _, id := range r.order {
		out = append(out, r.sets[id].Connections...)
	}
	return out
}

// ShardIDs returns the registered shards in first-touch order
func (r *Registry) ShardIDs() []uint64 {
	if r == nil {
		return nil
	}
	out := make([]uint64, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered shards
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sets)
}

// Empty reports whether no shard is registered. A nil registry is empty.
func (r *Registry) Empty() bool {
	return r == nil || len(r.sets) == 0
}

// Reset drops every set. Connections are not closed here.
func (r *Registry) Reset() {
	if r == nil {
		return
	}
	r.sets = make(map[uint64]*ShardConnections)
	r.order = nil
}
