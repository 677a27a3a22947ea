package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	assert.NoError(t, Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr string
	}{
		{
			name:    "unknown commit protocol",
			mutate:  func(c *Configuration) { c.Coordinator.CommitProtocol = "3pc" },
			wantErr: "invalid commit protocol",
		},
		{
			name:    "negative fanout",
			mutate:  func(c *Configuration) { c.Coordinator.FanoutLimit = -1 },
			wantErr: "fanout limit",
		},
		{
			name:    "unknown dialect",
			mutate:  func(c *Configuration) { c.Connection.Dialect = "oracle" },
			wantErr: "invalid connection dialect",
		},
		{
			name:    "sql catalog without dsn",
			mutate:  func(c *Configuration) { c.Catalog.Source = CatalogPostgres },
			wantErr: "requires a dsn",
		},
		{
			name: "duplicate static shard",
			mutate: func(c *Configuration) {
				c.Catalog.Shards = []ShardConfiguration{
					{ShardID: 1, Placements: []PlacementConfiguration{{NodeName: "a", NodePort: 5432}}},
					{ShardID: 1, Placements: []PlacementConfiguration{{NodeName: "b", NodePort: 5432}}},
				}
			},
			wantErr: "declared twice",
		},
		{
			name: "placement with bad port",
			mutate: func(c *Configuration) {
				c.Catalog.Shards = []ShardConfiguration{
					{ShardID: 7, Placements: []PlacementConfiguration{{NodeName: "a", NodePort: 0}}},
				}
			},
			wantErr: "invalid placement port",
		},
		{
			name: "kafka sink without brokers",
			mutate: func(c *Configuration) {
				c.Failures.Sinks = []SinkConfiguration{{Name: "k", Type: "kafka"}}
			},
			wantErr: "requires brokers",
		},
		{
			name: "sinks without failure log",
			mutate: func(c *Configuration) {
				c.Failures.LogEnabled = false
				c.Failures.Sinks = []SinkConfiguration{{Name: "n", Type: "nats", NatsURL: "nats://localhost:4222"}}
			},
			wantErr: "require failures.log_enabled",
		},
		{
			name:    "admin port out of range",
			mutate:  func(c *Configuration) { c.Admin.Port = 70000 },
			wantErr: "invalid admin port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := Config
			defer func() { Config = original }()

			Config = Default()
			tt.mutate(Config)

			err := Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = Default()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
node_id = 42
data_dir = "` + filepath.Join(dir, "data") + `"

[coordinator]
commit_protocol = "2pc"
fanout_limit = 4

[connection]
dialect = "mysql"
user = "app"

[catalog]
source = "static"

[[catalog.shards]]
shard_id = 102008

[[catalog.shards.placements]]
placement_id = 1
node_name = "worker-1"
node_port = 5432

[[catalog.shards.placements]]
placement_id = 2
node_name = "worker-2"
node_port = 5433
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, Load(path))
	require.NoError(t, Validate())

	assert.Equal(t, uint64(42), Config.NodeID)
	assert.Equal(t, CommitProtocol2PC, Config.Coordinator.CommitProtocol)
	assert.Equal(t, 4, Config.Coordinator.FanoutLimit)
	assert.Equal(t, DialectMySQL, Config.Connection.Dialect)
	require.Len(t, Config.Catalog.Shards, 1)
	assert.Equal(t, uint64(102008), Config.Catalog.Shards[0].ShardID)
	require.Len(t, Config.Catalog.Shards[0].Placements, 2)
	assert.Equal(t, "worker-2", Config.Catalog.Shards[0].Placements[1].NodeName)

	_, err := os.Stat(Config.DataDir)
	assert.NoError(t, err, "data dir should be created")
}

func TestAdminAuth(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	assert.False(t, IsAdminAuthEnabled())

	Config.Admin.Secret = "s3cret"
	assert.True(t, IsAdminAuthEnabled())
	assert.Equal(t, "s3cret", GetAdminSecret())
}
