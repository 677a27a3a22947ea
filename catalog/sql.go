package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/cfg"
	"github.com/vlubarsky/citus/telemetry"
)

// DefaultPlacementTable is the metadata table read by SQLCatalog.
const DefaultPlacementTable = "pg_dist_shard_placement"

// Only finalized placements take part in transactions; inactive or
// to-be-deleted copies are skipped.
const finalizedShardState = 1

// placementRow mirrors the columns read from the placement table
type placementRow struct {
	PlacementID int64  `db:"placementid"`
	NodeName    string `db:"nodename"`
	NodePort    int    `db:"nodeport"`
}

// SQLCatalog reads placements from a metadata table shaped like
// pg_dist_shard_placement (shardid, shardstate, nodename, nodeport, placementid).
type SQLCatalog struct {
	db     *sql.DB
	gdb    *goqu.Database
	table  string
	source string
}

// driverFor maps a catalog source to its database/sql driver and goqu dialect
func driverFor(source string) (driver, dialect string, err error) {
	switch source {
	case cfg.CatalogPostgres:
		return "postgres", "postgres", nil
	case cfg.CatalogMySQL:
		return "mysql", "mysql", nil
	case cfg.CatalogSQLite:
		return "sqlite3", "sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported catalog source: %q", source)
	}
}

// OpenSQLCatalog opens the metadata database for the given source.
func OpenSQLCatalog(source, dsn, table string) (*SQLCatalog, error) {
	driver, _, err := driverFor(source)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", source, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s catalog: %w", source, err)
	}

	c, err := NewSQLCatalog(db, source, table)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("source", source).
		Str("table", c.table).
		Msg("Placement catalog opened")

	return c, nil
}

// NewSQLCatalog wraps an already opened database.
func NewSQLCatalog(db *sql.DB, source, table string) (*SQLCatalog, error) {
	_, dialect, err := driverFor(source)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultPlacementTable
	}

	return &SQLCatalog{
		db:     db,
		gdb:    goqu.New(dialect, db),
		table:  table,
		source: source,
	}, nil
}

// ResolvePlacements implements Catalog.
func (c *SQLCatalog) ResolvePlacements(ctx context.Context, shardID uint64) ([]Placement, error) {
	var rows []placementRow

	err := c.gdb.From(c.table).
		Select("placementid", "nodename", "nodeport").
		Where(goqu.Ex{
			"shardid":    int64(shardID),
			"shardstate": finalizedShardState,
		}).
		Order(goqu.I("placementid").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		telemetry.CatalogLookupsTotal.With(c.source, "error").Inc()
		return nil, fmt.Errorf("failed to read placements of shard %d: %w", shardID, err)
	}

	if len(rows) == 0 {
		telemetry.CatalogLookupsTotal.With(c.source, "empty").Inc()
		return nil, nil
	}
	telemetry.CatalogLookupsTotal.With(c.source, "hit").Inc()

	placements := make([]Placement, 0, len(rows))
	for _, row := range rows {
		placements = append(placements, Placement{
			ShardID:     shardID,
			PlacementID: uint64(row.PlacementID),
			NodeName:    row.NodeName,
			NodePort:    row.NodePort,
		})
	}
	return placements, nil
}

// Close closes the underlying database
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}
