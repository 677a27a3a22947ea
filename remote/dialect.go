package remote

import (
	"fmt"
	"strings"

	"github.com/vlubarsky/citus/cfg"
)

// Dialect renders the transaction control commands of a remote database.
// Every method returns the statements to run in order; an empty result
// means nothing needs to be sent.
type Dialect interface {
	Name() string
	Begin(gid string) []string
	Prepare(gid string) []string
	Commit(gid string) []string
	Rollback(gid string) []string
	CommitPrepared(gid string) []string
	RollbackPrepared(gid string) []string
}

// DialectFor returns the dialect registered under name
func DialectFor(name string) (Dialect, error) {
	switch name {
	case cfg.DialectPostgres:
		return PostgresDialect{}, nil
	case cfg.DialectMySQL:
		return MySQLDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect: %q", name)
	}
}

// GID builds the global identifier of one participant's remote transaction.
// It is unique per node, transaction and participant.
func GID(nodeID, txnID uint64, seq int) string {
	return fmt.Sprintf("citus_%d_%d_%d", nodeID, txnID, seq)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// PostgresDialect uses plain transactions and PREPARE TRANSACTION.
// The GID only matters once a transaction is prepared.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return cfg.DialectPostgres }

func (PostgresDialect) Begin(string) []string    { return []string{"BEGIN"} }
func (PostgresDialect) Commit(string) []string   { return []string{"COMMIT"} }
func (PostgresDialect) Rollback(string) []string { return []string{"ROLLBACK"} }

func (PostgresDialect) Prepare(gid string) []string {
	return []string{"PREPARE TRANSACTION " + quote(gid)}
}

func (PostgresDialect) CommitPrepared(gid string) []string {
	return []string{"COMMIT PREPARED " + quote(gid)}
}

func (PostgresDialect) RollbackPrepared(gid string) []string {
	return []string{"ROLLBACK PREPARED " + quote(gid)}
}

// MySQLDialect drives XA transactions. The XID is fixed at XA START, so a
// one-phase commit ends the branch and commits it in a single step.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return cfg.DialectMySQL }

func (MySQLDialect) Begin(gid string) []string {
	return []string{"XA START " + quote(gid)}
}

func (MySQLDialect) Prepare(gid string) []string {
	return []string{"XA END " + quote(gid), "XA PREPARE " + quote(gid)}
}

func (MySQLDialect) Commit(gid string) []string {
	return []string{"XA END " + quote(gid), "XA COMMIT " + quote(gid) + " ONE PHASE"}
}

func (MySQLDialect) Rollback(gid string) []string {
	return []string{"XA END " + quote(gid), "XA ROLLBACK " + quote(gid)}
}

func (MySQLDialect) CommitPrepared(gid string) []string {
	return []string{"XA COMMIT " + quote(gid)}
}

func (MySQLDialect) RollbackPrepared(gid string) []string {
	return []string{"XA ROLLBACK " + quote(gid)}
}
