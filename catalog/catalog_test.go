package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlubarsky/citus/cfg"
)

func TestPlacement_Addr(t *testing.T) {
	assert.Equal(t, "worker-1:5432", Placement{NodeName: "worker-1", NodePort: 5432}.Addr())
	assert.Equal(t, "[::1]:9700", Placement{NodeName: "::1", NodePort: 9700}.Addr())
}

func TestStaticCatalog_FromConfig(t *testing.T) {
	c := NewStaticCatalogFromConfig([]cfg.ShardConfiguration{
		{
			ShardID: 1,
			Placements: []cfg.PlacementConfiguration{
				{PlacementID: 20, NodeName: "w2", NodePort: 5432},
				{PlacementID: 10, NodeName: "w1", NodePort: 5432},
			},
		},
		{ShardID: 2},
	})

	placements, err := c.ResolvePlacements(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, placements, 2)
	assert.Equal(t, "w1", placements[0].NodeName, "placements must be ordered by placement id")
	assert.Equal(t, "w2", placements[1].NodeName)
	assert.Equal(t, uint64(1), placements[1].ShardID)

	empty, err := c.ResolvePlacements(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	unknown, err := c.ResolvePlacements(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestStaticCatalog_ReturnsCopy(t *testing.T) {
	c := NewStaticCatalog()
	c.Set(5, Placement{NodeName: "a", NodePort: 1})

	first, err := c.ResolvePlacements(context.Background(), 5)
	require.NoError(t, err)
	first[0].NodeName = "mutated"

	second, err := c.ResolvePlacements(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "a", second[0].NodeName)

	c.Set(5)
	gone, err := c.ResolvePlacements(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func newSQLiteCatalog(t *testing.T) (*SQLCatalog, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A second connection would see a different in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE pg_dist_shard_placement (
		placementid INTEGER PRIMARY KEY,
		shardid INTEGER NOT NULL,
		shardstate INTEGER NOT NULL,
		nodename TEXT NOT NULL,
		nodeport INTEGER NOT NULL
	)`)
	require.NoError(t, err)

	rows := []struct {
		placementID, shardID, state int
		node                        string
		port                        int
	}{
		{3, 100, 1, "worker-3", 5434},
		{1, 100, 1, "worker-1", 5432},
		{2, 100, 3, "worker-2", 5433}, // inactive copy
		{4, 200, 1, "worker-1", 5432},
		{5, 300, 4, "worker-2", 5433}, // only a to-be-deleted copy
	}
	for _, r := range rows {
		_, err := db.Exec(
			"INSERT INTO pg_dist_shard_placement (placementid, shardid, shardstate, nodename, nodeport) VALUES (?, ?, ?, ?, ?)",
			r.placementID, r.shardID, r.state, r.node, r.port,
		)
		require.NoError(t, err)
	}

	c, err := NewSQLCatalog(db, cfg.CatalogSQLite, "")
	require.NoError(t, err)
	return c, db
}

func TestSQLCatalog_ResolvePlacements(t *testing.T) {
	c, _ := newSQLiteCatalog(t)

	tests := []struct {
		name      string
		shardID   uint64
		wantNodes []string
	}{
		{"finalized placements in placement order", 100, []string{"worker-1", "worker-3"}},
		{"single placement", 200, []string{"worker-1"}},
		{"no finalized placement", 300, nil},
		{"unknown shard", 999, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placements, err := c.ResolvePlacements(context.Background(), tt.shardID)
			require.NoError(t, err)

			var nodes []string
			for _, p := range placements {
				assert.Equal(t, tt.shardID, p.ShardID)
				nodes = append(nodes, p.NodeName)
			}
			assert.Equal(t, tt.wantNodes, nodes)
		})
	}
}

func TestSQLCatalog_QueryError(t *testing.T) {
	c, db := newSQLiteCatalog(t)
	_, err := db.Exec("DROP TABLE pg_dist_shard_placement")
	require.NoError(t, err)

	_, err = c.ResolvePlacements(context.Background(), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard 100")
}

func TestNewSQLCatalog_UnknownSource(t *testing.T) {
	_, err := NewSQLCatalog(nil, "oracle", "")
	assert.Error(t, err)
}

func TestCachedCatalog(t *testing.T) {
	var calls atomic.Int32
	placements := map[uint64][]Placement{
		1: {{ShardID: 1, NodeName: "w1", NodePort: 5432}},
	}
	next := Func(func(ctx context.Context, shardID uint64) ([]Placement, error) {
		calls.Add(1)
		if shardID == 13 {
			return nil, errors.New("catalog unavailable")
		}
		return placements[shardID], nil
	})

	c := NewCachedCatalog(next, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.ResolvePlacements(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	assert.Equal(t, int32(1), calls.Load(), "repeated lookups should hit the cache")

	// empty lookups are not cached
	for i := 0; i < 2; i++ {
		got, err := c.ResolvePlacements(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, int32(3), calls.Load())

	_, err := c.ResolvePlacements(ctx, 13)
	assert.Error(t, err)

	c.Invalidate(1)
	_, err = c.ResolvePlacements(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(5), calls.Load())
}

func TestFromConfig_Static(t *testing.T) {
	conf := cfg.Default().Catalog
	conf.Shards = []cfg.ShardConfiguration{
		{ShardID: 9, Placements: []cfg.PlacementConfiguration{{NodeName: "w", NodePort: 5432}}},
	}
	conf.CacheTTLMS = 1000

	c, closeFn, err := FromConfig(conf)
	require.NoError(t, err)
	defer closeFn()

	_, cached := c.(*CachedCatalog)
	assert.True(t, cached)

	placements, err := c.ResolvePlacements(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, placements, 1)
	assert.Equal(t, "w:5432", placements[0].Addr())
}
