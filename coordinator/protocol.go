package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vlubarsky/citus/cfg"
)

// CommitProtocol selects how participants follow the local decision
type CommitProtocol int

const (
	// OnePhase sends COMMIT or ROLLBACK once the local transaction is decided
	OnePhase CommitProtocol = iota
	// TwoPhase prepares every participant before the local commit
	TwoPhase
)

func (p CommitProtocol) String() string {
	if p == TwoPhase {
		return cfg.CommitProtocol2PC
	}
	return cfg.CommitProtocol1PC
}

// ParseCommitProtocol parses "1pc" or "2pc"
func ParseCommitProtocol(s string) (CommitProtocol, error) {
	switch strings.ToLower(s) {
	case cfg.CommitProtocol1PC:
		return OnePhase, nil
	case cfg.CommitProtocol2PC:
		return TwoPhase, nil
	default:
		return OnePhase, fmt.Errorf("unknown commit protocol: %q", s)
	}
}

// ProtocolSource supplies the commit protocol. A transaction reads it once
// and keeps that value until it finishes.
type ProtocolSource interface {
	CommitProtocol() CommitProtocol
}

// ProtocolFunc adapts a function to ProtocolSource
type ProtocolFunc func() CommitProtocol

func (f ProtocolFunc) CommitProtocol() CommitProtocol { return f() }

// FixedProtocol always returns the same protocol
type FixedProtocol CommitProtocol

func (p FixedProtocol) CommitProtocol() CommitProtocol { return CommitProtocol(p) }

// Event is a lifecycle point of the enclosing local transaction
type Event int

const (
	EventPreCommit Event = iota + 1
	EventCommit
	EventAbort
	// Delivered by some lifecycle sources; ignored here
	EventPrePrepare
	EventPrepare
)

func (e Event) String() string {
	switch e {
	case EventPreCommit:
		return "pre_commit"
	case EventCommit:
		return "commit"
	case EventAbort:
		return "abort"
	case EventPrePrepare:
		return "pre_prepare"
	case EventPrepare:
		return "prepare"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// LifecycleListener is implemented by participants of the local transaction
// lifecycle. OnCommit and OnAbort run after the local outcome is fixed;
// their errors are for reporting only.
type LifecycleListener interface {
	OnPreCommit(ctx context.Context) error
	OnCommit(ctx context.Context) error
	OnAbort(ctx context.Context) error
}

// ModificationLevel describes what the local transaction has modified
type ModificationLevel int

const (
	ModificationNone ModificationLevel = iota
	ModificationData
	ModificationMultiShard
)

func (l ModificationLevel) String() string {
	switch l {
	case ModificationData:
		return "data"
	case ModificationMultiShard:
		return "multi_shard"
	default:
		return "none"
	}
}

// FailureReporter receives participants that diverged from the local
// decision. Implementations must not block for long and must not fail the
// caller.
type FailureReporter interface {
	ReportPostDecisionFailure(ctx context.Context, err *PostDecisionError)
}
