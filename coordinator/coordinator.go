// Package coordinator drives remote shard transactions through one-phase or
// two-phase commit in step with the enclosing local transaction.
//
// A Transaction owns the participant connections opened for it. The
// lifecycle source calls OpenAllPlacements while the local transaction runs
// and delivers PreCommit, Commit and Abort through LifecycleListener. After
// Commit or Abort every connection is closed and the transaction is done.
package coordinator

import (
	"errors"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/id"
	"github.com/vlubarsky/citus/remote"
	"github.com/vlubarsky/citus/telemetry"
)

// Options wires a Coordinator to its collaborators
type Options struct {
	NodeID   uint64
	Catalog  catalog.Catalog
	Provider remote.Provider
	// Dialect defaults to PostgresDialect
	Dialect remote.Dialect
	// Protocol defaults to OnePhase
	Protocol ProtocolSource
	// Reporter may be nil; failures are then only logged
	Reporter FailureReporter
	// IDs defaults to a clock generator for NodeID
	IDs id.Generator
	// FanoutLimit > 1 runs participant commands of one event concurrently
	FanoutLimit int
}

// Coordinator creates transactions and tracks the ones holding connections.
// It is safe for concurrent use; each Transaction is not.
type Coordinator struct {
	opts   Options
	active *xsync.MapOf[uint64, *Transaction]
}

// NewCoordinator validates opts and fills defaults
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Catalog == nil {
		return nil, errors.New("coordinator: catalog is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("coordinator: connection provider is required")
	}
	if opts.Dialect == nil {
		opts.Dialect = remote.PostgresDialect{}
	}
	if opts.Protocol == nil {
		opts.Protocol = FixedProtocol(OnePhase)
	}
	if opts.IDs == nil {
		opts.IDs = id.NewClockGenerator(opts.NodeID)
	}
	if opts.FanoutLimit < 1 {
		opts.FanoutLimit = 1
	}

	return &Coordinator{
		opts:   opts,
		active: xsync.NewMapOf[uint64, *Transaction](),
	}, nil
}

// Begin starts tracking a new enclosing transaction. Nothing is contacted
// until a shard is opened.
func (c *Coordinator) Begin() *Transaction {
	return &Transaction{
		id:      c.opts.IDs.NextID(),
		coord:   c,
		metrics: NewTxnMetrics(),
	}
}

// Lookup returns a snapshot of an active transaction
func (c *Coordinator) Lookup(txnID uint64) (TransactionInfo, bool) {
	txn, ok := c.active.Load(txnID)
	if !ok {
		return TransactionInfo{}, false
	}
	return txn.Info(), true
}

// Active returns snapshots of every transaction holding connections,
// ordered by id
func (c *Coordinator) Active() []TransactionInfo {
	var txns []*Transaction
	c.active.Range(func(_ uint64, txn *Transaction) bool {
		txns = append(txns, txn)
		return true
	})

	infos := make([]TransactionInfo, 0, len(txns))
	for _, txn := range txns {
		infos = append(infos, txn.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (c *Coordinator) track(txn *Transaction) {
	c.active.Store(txn.id, txn)
	telemetry.ActiveTransactions.Inc()
	log.Debug().Uint64("txn_id", txn.id).Msg("Tracking multi-shard transaction")
}

func (c *Coordinator) untrack(txn *Transaction) {
	if _, ok := c.active.LoadAndDelete(txn.id); ok {
		telemetry.ActiveTransactions.Dec()
	}
}

// TransactionInfo is a point-in-time view of a transaction
type TransactionInfo struct {
	ID           uint64            `json:"txn_id"`
	StartedAt    time.Time         `json:"started_at"`
	Protocol     string            `json:"protocol,omitempty"`
	Modification string            `json:"modification"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantInfo is a point-in-time view of one participant
type ParticipantInfo struct {
	ShardID     uint64 `json:"shard_id"`
	PlacementID uint64 `json:"placement_id"`
	NodeName    string `json:"node_name"`
	NodePort    int    `json:"node_port"`
	GID         string `json:"gid"`
	State       string `json:"state"`
}
