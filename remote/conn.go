// Package remote opens connections to shard placements and describes the
// commands sent over them.
package remote

import (
	"context"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/cfg"
)

// Identity is the credential a placement connection is opened with
type Identity struct {
	User     string
	Password string
	Database string
}

// IdentityFromConfig returns the identity configured under [connection]
func IdentityFromConfig(conf cfg.ConnectionConfiguration) Identity {
	return Identity{
		User:     conf.User,
		Password: conf.Password,
		Database: conf.Database,
	}
}

// Conn is a live connection to one placement. It is used by a single
// transaction at a time and is not safe for concurrent use.
type Conn interface {
	// Exec runs a command that returns no rows
	Exec(ctx context.Context, command string) error
	Close() error
}

// Provider opens placement connections. Timeout policy belongs to the
// provider; callers pass no deadline of their own.
type Provider interface {
	Connect(ctx context.Context, placement catalog.Placement, identity Identity) (Conn, error)
}

// ProviderFunc adapts a plain function to Provider
type ProviderFunc func(ctx context.Context, placement catalog.Placement, identity Identity) (Conn, error)

func (f ProviderFunc) Connect(ctx context.Context, placement catalog.Placement, identity Identity) (Conn, error) {
	return f(ctx, placement, identity)
}
