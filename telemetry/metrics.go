package telemetry

// Histogram bucket definitions
var (
	// TxnBuckets for whole multi-shard transactions
	TxnBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// TwoPCBuckets for per-phase latencies
	TwoPCBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// ParticipantBuckets for participants touched per transaction
	ParticipantBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128}
)

// Transaction metrics
var (
	// TxnTotal counts multi-shard transactions by result (committed, aborted, prepare_failed)
	TxnTotal CounterVec = noopCounterVec{}

	// TxnDurationSeconds measures time from first shard opened to terminal event, by result
	TxnDurationSeconds HistogramVec = noopHistogramVec{}

	// TxnParticipants measures participants per transaction at the terminal event
	TxnParticipants Histogram = NoopStat{}

	// ActiveTransactions tracks transactions holding at least one participant
	ActiveTransactions Gauge = NoopStat{}

	// TwoPhasePrepareSeconds measures the PreCommit PREPARE round
	TwoPhasePrepareSeconds Histogram = NoopStat{}

	// TwoPhaseCommitSeconds measures the post-decision COMMIT/ROLLBACK round by phase
	TwoPhaseCommitSeconds HistogramVec = noopHistogramVec{}
)

// Participant metrics
var (
	// ConnectionsOpenedTotal counts placement connections by result (success, failed)
	ConnectionsOpenedTotal CounterVec = noopCounterVec{}

	// ParticipantConnections tracks currently open placement connections
	ParticipantConnections Gauge = NoopStat{}

	// RemoteCommandsTotal counts remote commands by command and result
	RemoteCommandsTotal CounterVec = noopCounterVec{}

	// CloseFailuresTotal counts connection close errors swallowed by the closer
	CloseFailuresTotal Counter = NoopStat{}

	// NoPlacementsTotal counts shards that resolved to zero placements
	NoPlacementsTotal Counter = NoopStat{}
)

// Failure reporting metrics
var (
	// PostDecisionFailuresTotal counts participants that failed after the local decision, by phase
	PostDecisionFailuresTotal CounterVec = noopCounterVec{}

	// FailuresReportedTotal counts failure events handled by destination (log, store, sink name) and result
	FailuresReportedTotal CounterVec = noopCounterVec{}
)

// Catalog metrics
var (
	// CatalogLookupsTotal counts placement lookups by source and result (hit, miss, error)
	CatalogLookupsTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Called by InitializeTelemetry once the registry exists.
func InitMetrics() {
	TxnTotal = NewCounterVec(
		"txn_total",
		"Multi-shard transactions by result",
		[]string{"result"},
	)
	TxnDurationSeconds = NewHistogramVec(
		"txn_duration_seconds",
		"Multi-shard transaction duration in seconds",
		[]string{"result"},
		TxnBuckets,
	)
	TxnParticipants = NewHistogramWithBuckets(
		"txn_participants",
		"Participant connections per transaction",
		ParticipantBuckets,
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Transactions currently holding participant connections",
	)
	TwoPhasePrepareSeconds = NewHistogramWithBuckets(
		"twophase_prepare_seconds",
		"PREPARE round duration in seconds",
		TwoPCBuckets,
	)
	TwoPhaseCommitSeconds = NewHistogramVec(
		"twophase_commit_seconds",
		"Post-decision round duration in seconds",
		[]string{"phase"},
		TwoPCBuckets,
	)

	ConnectionsOpenedTotal = NewCounterVec(
		"participant_connections_opened_total",
		"Placement connections opened by result",
		[]string{"result"},
	)
	ParticipantConnections = NewGauge(
		"participant_connections",
		"Currently open placement connections",
	)
	RemoteCommandsTotal = NewCounterVec(
		"remote_commands_total",
		"Remote transaction commands by command and result",
		[]string{"command", "result"},
	)
	CloseFailuresTotal = NewCounter(
		"close_failures_total",
		"Placement connection close errors",
	)
	NoPlacementsTotal = NewCounter(
		"no_placements_total",
		"Shards that resolved to zero placements",
	)

	PostDecisionFailuresTotal = NewCounterVec(
		"post_decision_failures_total",
		"Participants that failed after the local commit decision",
		[]string{"phase"},
	)
	FailuresReportedTotal = NewCounterVec(
		"failures_reported_total",
		"Failure events handled by destination and result",
		[]string{"destination", "result"},
	)

	CatalogLookupsTotal = NewCounterVec(
		"catalog_lookups_total",
		"Placement lookups by source and result",
		[]string{"source", "result"},
	)
}
