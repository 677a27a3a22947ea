package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vlubarsky/citus/remote"
	"github.com/vlubarsky/citus/telemetry"
)

// Transaction is the remote side of one enclosing local transaction. It
// implements LifecycleListener. Methods must not be called concurrently
// except Info, which may be called from any goroutine and never waits on
// remote I/O.
type Transaction struct {
	id      uint64
	coord   *Coordinator
	metrics *TxnMetrics
	info    atomic.Pointer[TransactionInfo]

	mu        sync.Mutex
	startedAt time.Time
	registry  *Registry
	protocol  CommitProtocol
	pinned    bool
	level     ModificationLevel
	finished  bool
	nextSeq   int

	// first shard open that did not reach every placement; sticky
	failed      error
	failedShard uint64
}

var _ LifecycleListener = (*Transaction)(nil)

// ID returns the transaction id used in participant GIDs
func (t *Transaction) ID() uint64 {
	return t.id
}

// ModificationLevel returns what the transaction has modified so far
func (t *Transaction) ModificationLevel() ModificationLevel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// MarkModified raises the modification level; it never lowers it
func (t *Transaction) MarkModified(level ModificationLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if level > t.level {
		t.level = level
		t.publish()
	}
}

// Finished reports whether Commit or Abort already completed
func (t *Transaction) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// Connections returns the current participants in commit order
func (t *Transaction) Connections() []*ParticipantConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.AllConnections()
}

// OpenAllPlacements opens a connection and begins a remote transaction on
// every placement of shardID. Opening a shard that already has connections
// is a no-op. Any failure fails the whole call; connections opened before
// the failure stay registered so Abort can close them. A connect or BEGIN
// failure is sticky: later opens and PreCommit return it, and Commit
// withholds the affected shard.
func (t *Transaction) OpenAllPlacements(ctx context.Context, shardID uint64, identity remote.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return ErrTransactionFinished
	}
	if t.failed != nil {
		return t.failed
	}

	placements, err := t.coord.opts.Catalog.ResolvePlacements(ctx, shardID)
	if err != nil {
		return fmt.Errorf("resolve placements of shard %d: %w", shardID, err)
	}
	if len(placements) == 0 {
		telemetry.NoPlacementsTotal.Inc()
		return &NoPlacementsFoundError{ShardID: shardID}
	}

	if t.registry == nil {
		t.registry = NewRegistry()
		t.startedAt = time.Now()
		t.publish()
		t.coord.track(t)
	}
	defer t.publish()

	set, found := t.registry.GetOrCreate(shardID)
	if found && len(set.Connections) > 0 {
		return nil
	}
	if t.level < ModificationMultiShard {
		t.level = ModificationMultiShard
	}

	for _, placement := range placements {
		t.publish()
		conn, err := t.coord.opts.Provider.Connect(ctx, placement, identity)
		if err != nil {
			telemetry.ConnectionsOpenedTotal.With("failed").Inc()
			if len(set.Connections) == 0 {
				t.registry.Forget(shardID)
			}
			return t.fail(shardID, &ConnectionFailedError{ShardID: shardID, Placement: placement, Err: err})
		}
		telemetry.ConnectionsOpenedTotal.With("ok").Inc()
		telemetry.ParticipantConnections.Inc()

		p := &ParticipantConnection{
			ShardID:   shardID,
			Placement: placement,
			Conn:      conn,
			State:     StateNotStarted,
			GID:       remote.GID(t.coord.opts.NodeID, t.id, t.nextSeq),
		}
		t.nextSeq++
		// tracked before BEGIN so a failed BEGIN still gets closed
		set.Connections = append(set.Connections, p)
		t.publish()

		if err := t.exec(ctx, p, "begin", t.coord.opts.Dialect.Begin(p.GID)); err != nil {
			return t.fail(shardID, err)
		}
		p.State = StateStarted
	}

	log.Debug().
		Uint64("txn_id", t.id).
		Uint64("shard_id", shardID).
		Int("placements", len(placements)).
		Msg("Opened shard placements")

	return nil
}

// fail records the first incomplete shard open and returns err
func (t *Transaction) fail(shardID uint64, err error) error {
	t.failed = err
	t.failedShard = shardID
	log.Warn().
		Err(err).
		Uint64("txn_id", t.id).
		Uint64("shard_id", shardID).
		Msg("Shard open failed, transaction can no longer commit remotely")
	return err
}

// OpenShards opens every shard in order, stopping at the first failure
func (t *Transaction) OpenShards(ctx context.Context, shardIDs []uint64, identity remote.Identity) error {
	for _, shardID := range shardIDs {
		if err := t.OpenAllPlacements(ctx, shardID, identity); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent dispatches a lifecycle event. Events other than PreCommit,
// Commit and Abort are ignored.
func (t *Transaction) HandleEvent(ctx context.Context, event Event) error {
	switch event {
	case EventPreCommit:
		return t.OnPreCommit(ctx)
	case EventCommit:
		return t.OnCommit(ctx)
	case EventAbort:
		return t.OnAbort(ctx)
	default:
		return nil
	}
}

// OnPreCommit prepares every started participant when running two-phase
// commit. A returned error means the local transaction must abort, after
// which OnAbort has to be delivered. A failed shard open is returned under
// either protocol.
func (t *Transaction) OnPreCommit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}
	if t.failed != nil {
		return t.failed
	}
	if t.registry.Empty() {
		return nil
	}
	if t.commitProtocol() != TwoPhase {
		return nil
	}

	start := time.Now()
	conns := t.registry.AllConnections()
	errs := t.forEach(ctx, conns, true, func(ctx context.Context, p *ParticipantConnection) error {
		if p.State != StateStarted {
			return nil
		}
		if err := t.exec(ctx, p, "prepare", t.coord.opts.Dialect.Prepare(p.GID)); err != nil {
			// a failed PREPARE leaves nothing to roll back remotely
			p.State = StateAborted
			return err
		}
		p.State = StatePrepared
		return nil
	})
	t.metrics.RecordPhase("prepare", time.Since(start))

	err := multierr.Combine(errs...)
	if err != nil {
		log.Warn().
			Err(err).
			Uint64("txn_id", t.id).
			Msg("Prepare failed, local transaction must abort")
	}
	return err
}

// OnCommit finishes every participant after the local transaction
// committed. The returned *PostDecisionError lists participants that could
// not commit; the local commit stands regardless.
func (t *Transaction) OnCommit(ctx context.Context) error {
	return t.finish(ctx, "commit")
}

// OnAbort rolls back every participant after the local transaction
// aborted. The returned *PostDecisionError lists participants that could
// not roll back.
func (t *Transaction) OnAbort(ctx context.Context) error {
	return t.finish(ctx, "abort")
}

func (t *Transaction) finish(ctx context.Context, phase string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return nil
	}
	if t.registry.Empty() {
		t.finished = true
		t.level = ModificationNone
		t.publish()
		if t.registry != nil {
			// every shard open failed before a connection was made
			t.coord.untrack(t)
		}
		return nil
	}

	// The local outcome is already durable, so a cancelled caller must not
	// stop participants from following it
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	conns := t.registry.AllConnections()

	var step func(context.Context, *ParticipantConnection) error
	result := "aborted"
	if phase == "commit" {
		step = t.commitStep(t.commitProtocol())
		result = "committed"
		if t.failed != nil {
			step = t.withholdFailedShard(step)
		}
	} else {
		step = t.abortStep
	}

	errs := t.forEach(ctx, conns, false, step)
	t.metrics.RecordPhase(phase, time.Since(start))

	var pde *PostDecisionError
	for i, err := range errs {
		if err == nil {
			continue
		}
		if pde == nil {
			pde = &PostDecisionError{TxnID: t.id, Phase: phase}
		}
		p := conns[i]
		pde.Failures = append(pde.Failures, ParticipantFailure{
			ShardID:   p.ShardID,
			Placement: p.Placement,
			GID:       p.GID,
			State:     p.State,
			Err:       err,
		})
	}

	CloseConnections(conns)
	t.registry.Reset()
	t.level = ModificationNone
	t.finished = true
	t.publish()
	t.coord.untrack(t)
	t.metrics.RecordOutcome(result, len(conns))

	if pde == nil {
		log.Debug().
			Uint64("txn_id", t.id).
			Int("participants", len(conns)).
			Str("result", result).
			Msg("Multi-shard transaction finished")
		return nil
	}

	t.metrics.RecordPostDecision(pde)
	for _, f := range pde.Failures {
		log.Error().
			Err(f.Err).
			Uint64("txn_id", t.id).
			Uint64("shard_id", f.ShardID).
			Str("addr", f.Placement.Addr()).
			Str("gid", f.GID).
			Str("state", f.State.String()).
			Str("phase", phase).
			Msg("Participant diverged from local decision")
	}
	if t.coord.opts.Reporter != nil {
		t.coord.opts.Reporter.ReportPostDecisionFailure(ctx, pde)
	}
	return pde
}

func (t *Transaction) commitStep(protocol CommitProtocol) func(context.Context, *ParticipantConnection) error {
	dialect := t.coord.opts.Dialect
	return func(ctx context.Context, p *ParticipantConnection) error {
		switch {
		case protocol == OnePhase && p.State == StateStarted:
			if err := t.exec(ctx, p, "commit", dialect.Commit(p.GID)); err != nil {
				return err
			}
		case protocol == TwoPhase && p.State == StatePrepared:
			if err := t.exec(ctx, p, "commit_prepared", dialect.CommitPrepared(p.GID)); err != nil {
				return err
			}
		case protocol == TwoPhase && p.State == StateStarted:
			// PreCommit never ran; the remote side rolls back on close
			return errNotPrepared
		default:
			return nil
		}
		p.State = StateCommitted
		return nil
	}
}

// withholdFailedShard sends nothing to participants of the shard whose open
// failed; closing their connections ends the remote transactions
func (t *Transaction) withholdFailedShard(step func(context.Context, *ParticipantConnection) error) func(context.Context, *ParticipantConnection) error {
	return func(ctx context.Context, p *ParticipantConnection) error {
		if p.ShardID == t.failedShard {
			return fmt.Errorf("%w: %w", errShardIncomplete, t.failed)
		}
		return step(ctx, p)
	}
}

func (t *Transaction) abortStep(ctx context.Context, p *ParticipantConnection) error {
	dialect := t.coord.opts.Dialect
	switch p.State {
	case StatePrepared:
		if err := t.exec(ctx, p, "rollback_prepared", dialect.RollbackPrepared(p.GID)); err != nil {
			return err
		}
	case StateStarted:
		if err := t.exec(ctx, p, "rollback", dialect.Rollback(p.GID)); err != nil {
			return err
		}
	default:
		// BEGIN or PREPARE never succeeded; closing is enough
	}
	p.State = StateAborted
	return nil
}

// commitProtocol reads the protocol once and pins it
func (t *Transaction) commitProtocol() CommitProtocol {
	if !t.pinned {
		t.protocol = t.coord.opts.Protocol.CommitProtocol()
		t.pinned = true
	}
	return t.protocol
}

// exec runs the statements of one control command on a participant
func (t *Transaction) exec(ctx context.Context, p *ParticipantConnection, command string, statements []string) error {
	for _, stmt := range statements {
		err := p.Conn.Exec(ctx, stmt)
		t.metrics.RecordCommand(command, err)
		if err != nil {
			re, _ := remote.AsRemoteError(err)
			return &RemoteCommandFailedError{
				ShardID:   p.ShardID,
				Placement: p.Placement,
				Command:   stmt,
				Err:       err,
				Remote:    re,
			}
		}
	}
	return nil
}

// forEach applies fn to every participant and returns one error slot per
// participant. Sequentially, stopOnFirst ends the round at the first
// failure. With fan-out every participant is attempted.
func (t *Transaction) forEach(ctx context.Context, conns []*ParticipantConnection, stopOnFirst bool,
	fn func(context.Context, *ParticipantConnection) error) []error {

	errs := make([]error, len(conns))
	limit := t.coord.opts.FanoutLimit
	t.publish()

	if limit <= 1 || len(conns) <= 1 {
		for i, p := range conns {
			errs[i] = fn(ctx, p)
			t.publish()
			if errs[i] != nil && stopOnFirst {
				break
			}
		}
		return errs
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, p := range conns {
		g.Go(func() error {
			errs[i] = fn(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	t.publish()
	return errs
}

// Info returns the latest published snapshot for admin listings
func (t *Transaction) Info() TransactionInfo {
	if info := t.info.Load(); info != nil {
		return *info
	}
	return TransactionInfo{ID: t.id, Participants: []ParticipantInfo{}}
}

// publish swaps in a fresh snapshot for Info. Callers hold t.mu and no
// participant goroutine is running.
func (t *Transaction) publish() {
	info := &TransactionInfo{
		ID:           t.id,
		StartedAt:    t.startedAt,
		Modification: t.level.String(),
		Participants: []ParticipantInfo{},
	}
	if t.pinned {
		info.Protocol = t.protocol.String()
	}
	for _, p := range t.registry.AllConnections() {
		info.Participants = append(info.Participants, ParticipantInfo{
			ShardID:     p.ShardID,
			PlacementID: p.Placement.PlacementID,
			NodeName:    p.Placement.NodeName,
			NodePort:    p.Placement.NodePort,
			GID:         p.GID,
			State:       p.State.String(),
		})
	}
	t.info.Store(info)
}
