package remote

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/cfg"
)

// SQLProvider opens placement connections through database/sql. Each
// Connect hands out a dedicated *sql.Conn; idle pooling is disabled so a
// closed participant connection is really torn down instead of being
// reused with leftover transaction state.
type SQLProvider struct {
	dialect string
	sslMode string
	timeout time.Duration
	params  map[string]string

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewSQLProvider creates a provider for the configured dialect
func NewSQLProvider(conf cfg.ConnectionConfiguration) (*SQLProvider, error) {
	switch conf.Dialect {
	case cfg.DialectPostgres, cfg.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported connection dialect: %q", conf.Dialect)
	}

	return &SQLProvider{
		dialect: conf.Dialect,
		sslMode: conf.SSLMode,
		timeout: time.Duration(conf.ConnectTimeoutMS) * time.Millisecond,
		params:  conf.Params,
		pools:   make(map[string]*sql.DB),
	}, nil
}

// Connect implements Provider
func (p *SQLProvider) Connect(ctx context.Context, placement catalog.Placement, identity Identity) (Conn, error) {
	db, err := p.pool(placement, identity)
	if err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", placement.Addr(), err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", placement.Addr(), err)
	}

	return &sqlConn{conn: conn, addr: placement.Addr()}, nil
}

// Close closes every pool opened by the provider
func (p *SQLProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, dsn)
	}
	return firstErr
}

func (p *SQLProvider) pool(placement catalog.Placement, identity Identity) (*sql.DB, error) {
	driver, dsn := p.dsn(placement, identity)

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool for %s: %w", driver, placement.Addr(), err)
	}
	db.SetMaxIdleConns(0)
	p.pools[dsn] = db

	log.Debug().
		Str("dialect", p.dialect).
		Str("addr", placement.Addr()).
		Str("user", identity.User).
		Msg("Opened placement pool")

	return db, nil
}

func (p *SQLProvider) dsn(placement catalog.Placement, identity Identity) (driver, dsn string) {
	if p.dialect == cfg.DialectMySQL {
		return "mysql", MySQLDSN(placement, identity, p.timeout, p.params)
	}
	return "postgres", PostgresDSN(placement, identity, p.sslMode, p.timeout, p.params)
}

// PostgresDSN renders a lib/pq keyword/value connection string
func PostgresDSN(placement catalog.Placement, identity Identity, sslMode string, timeout time.Duration, params map[string]string) string {
	kv := map[string]string{
		"host": placement.NodeName,
		"port": strconv.Itoa(placement.NodePort),
	}
	if identity.User != "" {
		kv["user"] = identity.User
	}
	if identity.Password != "" {
		kv["password"] = identity.Password
	}
	if identity.Database != "" {
		kv["dbname"] = identity.Database
	}
	if sslMode != "" {
		kv["sslmode"] = sslMode
	}
	if timeout > 0 {
		secs := int(timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		kv["connect_timeout"] = strconv.Itoa(secs)
	}
	for k, v := range params {
		kv[k] = v
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pqQuote(kv[k]))
	}
	return strings.Join(parts, " ")
}

func pqQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// MySQLDSN renders a go-sql-driver/mysql connection string
func MySQLDSN(placement catalog.Placement, identity Identity, timeout time.Duration, params map[string]string) string {
	mc := mysql.NewConfig()
	mc.User = identity.User
	mc.Passwd = identity.Password
	mc.Net = "tcp"
	mc.Addr = placement.Addr()
	mc.DBName = identity.Database
	mc.Timeout = timeout
	if len(params) > 0 {
		mc.Params = make(map[string]string, len(params))
		for k, v := range params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

type sqlConn struct {
	conn *sql.Conn
	addr string
}

func (c *sqlConn) Exec(ctx context.Context, command string) error {
	if _, err := c.conn.ExecContext(ctx, command); err != nil {
		return fmt.Errorf("%s on %s: %w", command, c.addr, err)
	}
	return nil
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}
