package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/coordinator"
	"github.com/vlubarsky/citus/telemetry"
)

// Reporter turns post-decision failures into FailureEvent records. Without
// a log it only counts them; the coordinator has already logged each one.
type Reporter struct {
	nodeID uint64
	log    *FailureLog
	now    func() time.Time
}

var _ coordinator.FailureReporter = (*Reporter)(nil)

// NewReporter creates a reporter. failureLog may be nil.
func NewReporter(nodeID uint64, failureLog *FailureLog) *Reporter {
	return &Reporter{
		nodeID: nodeID,
		log:    failureLog,
		now:    time.Now,
	}
}

// ReportPostDecisionFailure implements coordinator.FailureReporter. It
// never fails the caller.
func (r *Reporter) ReportPostDecisionFailure(ctx context.Context, pde *coordinator.PostDecisionError) {
	if pde == nil || len(pde.Failures) == 0 {
		return
	}

	events := r.events(pde)
	n := float64(len(events))

	if r.log == nil {
		telemetry.FailuresReportedTotal.With("log", "disabled").Add(n)
		return
	}

	if err := r.log.Append(events); err != nil {
		telemetry.FailuresReportedTotal.With("log", "failed").Add(n)
		log.Error().
			Err(err).
			Uint64("txn_id", pde.TxnID).
			Int("participants", len(events)).
			Msg("Failed to record post-decision failures")
		return
	}
	telemetry.FailuresReportedTotal.With("log", "ok").Add(n)

	for _, e := range events {
		log.Warn().
			Uint64("seq", e.Seq).
			Uint64("txn_id", e.TxnID).
			Uint64("shard_id", e.ShardID).
			Str("gid", e.GID).
			Bool("in_doubt", e.InDoubt()).
			Msg("Recorded participant for manual resolution")
	}
}

func (r *Reporter) events(pde *coordinator.PostDecisionError) []FailureEvent {
	at := r.now().UnixMilli()
	events := make([]FailureEvent, 0, len(pde.Failures))
	for _, f := range pde.Failures {
		e := FailureEvent{
			TxnID:    pde.TxnID,
			NodeID:   r.nodeID,
			ShardID:  f.ShardID,
			NodeName: f.Placement.NodeName,
			NodePort: f.Placement.NodePort,
			GID:      f.GID,
			Phase:    pde.Phase,
			State:    f.State.String(),
			At:       at,
		}
		if f.Err != nil {
			e.Error = f.Err.Error()
		}
		events = append(events, e)
	}
	return events
}
