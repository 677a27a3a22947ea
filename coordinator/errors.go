package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/remote"
)

// ErrTransactionFinished is returned when a shard is opened on a transaction
// that already committed or aborted.
var ErrTransactionFinished = errors.New("transaction already finished")

// errNotPrepared marks a participant that reached the commit decision of a
// two-phase transaction without having been prepared
var errNotPrepared = errors.New("participant was never prepared")

// errShardIncomplete marks a participant of a shard whose open failed on
// another placement. Committing it would leave the write unreplicated.
var errShardIncomplete = errors.New("shard was not opened on every placement")

// NoPlacementsFoundError means the catalog has no placement for a shard, so
// no work can be done on it
type NoPlacementsFoundError struct {
	ShardID uint64
}

func (e *NoPlacementsFoundError) Error() string {
	return fmt.Sprintf("could not find any shard placements for shard %d", e.ShardID)
}

// ConnectionFailedError means one placement of a shard could not be reached.
// Opening the shard fails as a whole.
type ConnectionFailedError struct {
	ShardID   uint64
	Placement catalog.Placement
	Err       error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("could not establish a connection to all placements of shard %d (%s): %v",
		e.ShardID, e.Placement.Addr(), e.Err)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

// RemoteCommandFailedError means a participant rejected a transaction
// control command. Remote is set when the server reported the error.
type RemoteCommandFailedError struct {
	ShardID   uint64
	Placement catalog.Placement
	Command   string
	Err       error
	Remote    *remote.RemoteError
}

func (e *RemoteCommandFailedError) Error() string {
	return fmt.Sprintf("%s failed on shard %d (%s): %v", e.Command, e.ShardID, e.Placement.Addr(), e.Err)
}

func (e *RemoteCommandFailedError) Unwrap() error { return e.Err }

// ParticipantFailure is one participant that could not follow the local
// decision. State is the participant's state when the command failed.
type ParticipantFailure struct {
	ShardID   uint64
	Placement catalog.Placement
	GID       string
	State     RemoteTxnState
	Err       error
}

// PostDecisionError collects participants that failed after the local
// transaction already committed or aborted. It is reported, never used to
// change the local outcome.
type PostDecisionError struct {
	TxnID    uint64
	Phase    string // "commit" or "abort"
	Failures []ParticipantFailure
}

func (e *PostDecisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d participant(s) failed to %s transaction %d", len(e.Failures), e.Phase, e.TxnID)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; shard %d (%s) left %s: %v", f.ShardID, f.Placement.Addr(), f.State, f.Err)
	}
	return b.String()
}

// Unwrap exposes every participant error to errors.Is and errors.As
func (e *PostDecisionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
