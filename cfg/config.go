package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Commit protocol names accepted in configuration
const (
	CommitProtocol1PC = "1pc"
	CommitProtocol2PC = "2pc"
)

// Catalog sources
const (
	CatalogStatic   = "static"   // Placements listed in this file
	CatalogPostgres = "postgres" // Metadata table on a PostgreSQL coordinator
	CatalogMySQL    = "mysql"    // Metadata table on a MySQL server
	CatalogSQLite   = "sqlite"   // Local SQLite metadata file
)

// Connection dialects
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// CoordinatorConfiguration controls the multi-shard commit protocol
type CoordinatorConfiguration struct {
	CommitProtocol string `toml:"commit_protocol"` // "1pc" or "2pc"
	FanoutLimit    int    `toml:"fanout_limit"`    // <=1 runs participant commands sequentially
}

// ConnectionConfiguration describes how placements are reached
type ConnectionConfiguration struct {
	Dialect          string            `toml:"dialect"`
	User             string            `toml:"user"`
	Password         string            `toml:"password"`
	Database         string            `toml:"database"`
	SSLMode          string            `toml:"sslmode"`
	ConnectTimeoutMS int               `toml:"connect_timeout_ms"`
	Params           map[string]string `toml:"params"`
}

// PlacementConfiguration is one statically declared shard placement
type PlacementConfiguration struct {
	PlacementID uint64 `toml:"placement_id"`
	NodeName    string `toml:"node_name"`
	NodePort    int    `toml:"node_port"`
}

// ShardConfiguration lists the placements of one shard
type ShardConfiguration struct {
	ShardID    uint64                   `toml:"shard_id"`
	Placements []PlacementConfiguration `toml:"placements"`
}

// CatalogConfiguration controls placement resolution
type CatalogConfiguration struct {
	Source     string               `toml:"source"`
	DSN        string               `toml:"dsn"`
	Table      string               `toml:"table"`
	CacheSize  int                  `toml:"cache_size"`
	CacheTTLMS int                  `toml:"cache_ttl_ms"` // 0 disables caching
	Shards     []ShardConfiguration `toml:"shards"`
}

// SinkConfiguration configures one destination for post-decision failure events
type SinkConfiguration struct {
	Name        string   `toml:"name"`
	Type        string   `toml:"type"` // "kafka" or "nats"
	Brokers     []string `toml:"brokers"`
	NatsURL     string   `toml:"nats_url"`
	Topic       string   `toml:"topic"`
	BatchSize   int      `toml:"batch_size"`
	RetryMaxMS  int      `toml:"retry_max_ms"`
	MaxRetries  int      `toml:"max_retries"`
	PollEveryMS int      `toml:"poll_interval_ms"`
}

// FailuresConfiguration controls reporting of participants left in doubt
type FailuresConfiguration struct {
	LogEnabled bool                `toml:"log_enabled"`
	Sinks      []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration for the admin HTTP endpoints
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Coordinator CoordinatorConfiguration `toml:"coordinator"`
	Connection  ConnectionConfiguration  `toml:"connection"`
	Catalog     CatalogConfiguration     `toml:"catalog"`
	Failures    FailuresConfiguration    `toml:"failures"`
	Admin       AdminConfiguration       `toml:"admin"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default returns the built-in configuration
func Default() *Configuration {
	return &Configuration{
		NodeID:  0, // Auto-generate
		DataDir: "./shardtx-data",

		Coordinator: CoordinatorConfiguration{
			CommitProtocol: CommitProtocol1PC,
			FanoutLimit:    1,
		},

		Connection: ConnectionConfiguration{
			Dialect:          DialectPostgres,
			User:             "postgres",
			Database:         "postgres",
			SSLMode:          "disable",
			ConnectTimeoutMS: 5000,
		},

		Catalog: CatalogConfiguration{
			Source:     CatalogStatic,
			Table:      "pg_dist_shard_placement",
			CacheSize:  1024,
			CacheTTLMS: 0,
		},

		Failures: FailuresConfiguration{
			LogEnabled: true,
		},

		Admin: AdminConfiguration{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    9190,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Config is the process configuration
var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("shardtx")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch strings.ToLower(Config.Coordinator.CommitProtocol) {
	case CommitProtocol1PC, CommitProtocol2PC:
	default:
		return fmt.Errorf("invalid commit protocol: %q", Config.Coordinator.CommitProtocol)
	}

	if Config.Coordinator.FanoutLimit < 0 {
		return fmt.Errorf("coordinator fanout limit must be >= 0")
	}

	switch Config.Connection.Dialect {
	case DialectPostgres, DialectMySQL:
	default:
		return fmt.Errorf("invalid connection dialect: %q", Config.Connection.Dialect)
	}

	if Config.Connection.ConnectTimeoutMS < 0 {
		return fmt.Errorf("connect timeout must be >= 0")
	}

	switch Config.Catalog.Source {
	case CatalogStatic:
		seen := make(map[uint64]bool, len(Config.Catalog.Shards))
		for _, shard := range Config.Catalog.Shards {
			if seen[shard.ShardID] {
				return fmt.Errorf("shard %d declared twice in catalog", shard.ShardID)
			}
			seen[shard.ShardID] = true
			for _, p := range shard.Placements {
				if p.NodeName == "" {
					return fmt.Errorf("shard %d has a placement without node_name", shard.ShardID)
				}
				if p.NodePort < 1 || p.NodePort > 65535 {
					return fmt.Errorf("shard %d has invalid placement port: %d", shard.ShardID, p.NodePort)
				}
			}
		}
	case CatalogPostgres, CatalogMySQL, CatalogSQLite:
		if Config.Catalog.DSN == "" {
			return fmt.Errorf("catalog source %s requires a dsn", Config.Catalog.Source)
		}
	default:
		return fmt.Errorf("invalid catalog source: %q", Config.Catalog.Source)
	}

	if Config.Catalog.CacheTTLMS < 0 {
		return fmt.Errorf("catalog cache ttl must be >= 0")
	}
	if Config.Catalog.CacheTTLMS > 0 && Config.Catalog.CacheSize < 1 {
		return fmt.Errorf("catalog cache size must be >= 1 when caching is enabled")
	}

	for _, sink := range Config.Failures.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("failure sink requires a name")
		}
		switch sink.Type {
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("kafka sink %s requires brokers", sink.Name)
			}
		case "nats":
			if sink.NatsURL == "" {
				return fmt.Errorf("nats sink %s requires nats_url", sink.Name)
			}
		default:
			return fmt.Errorf("failure sink %s has unknown type %q", sink.Name, sink.Type)
		}
	}
	if len(Config.Failures.Sinks) > 0 && !Config.Failures.LogEnabled {
		return fmt.Errorf("failure sinks require failures.log_enabled")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// IsAdminAuthEnabled returns true if admin endpoints require a secret
func IsAdminAuthEnabled() bool {
	return Config != nil && Config.Admin.Secret != ""
}

// GetAdminSecret returns the admin secret
func GetAdminSecret() string {
	if Config == nil {
		return ""
	}
	return Config.Admin.Secret
}
