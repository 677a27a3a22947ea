package coordinator

import (
	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/remote"
)

// RemoteTxnState tracks one participant's progress through the protocol
type RemoteTxnState int

const (
	StateNotStarted RemoteTxnState = iota
	StateStarted
	StatePrepared
	StateCommitted
	StateAborted
)

func (s RemoteTxnState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarted:
		return "started"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ParticipantConnection is one open connection to a shard placement. The
// handle is owned by the participant until CloseConnections releases it.
type ParticipantConnection struct {
	ShardID   uint64
	Placement catalog.Placement
	Conn      remote.Conn
	State     RemoteTxnState
	GID       string

	closed bool
}

// Closed reports whether the handle was already released
func (p *ParticipantConnection) Closed() bool {
	return p.closed
}

// ShardConnections holds the participants of one shard in the order their
// placements were opened
type ShardConnections struct {
	ShardID     uint64
	Connections []*ParticipantConnection
}
