package coordinator

import (
	"time"

	"github.com/vlubarsky/citus/telemetry"
)

// TxnMetrics records timing and outcome of one multi-shard transaction
type TxnMetrics struct {
	startTime time.Time
}

// NewTxnMetrics starts the transaction clock
func NewTxnMetrics() *TxnMetrics {
	return &TxnMetrics{startTime: time.Now()}
}

// RecordPhase records the duration of a protocol round.
// Phases: "prepare", "commit", "abort"
func (m *TxnMetrics) RecordPhase(phase string, duration time.Duration) {
	switch phase {
	case "prepare":
		telemetry.TwoPhasePrepareSeconds.Observe(duration.Seconds())
	case "commit", "abort":
		telemetry.TwoPhaseCommitSeconds.With(phase).Observe(duration.Seconds())
	}
}

// RecordCommand counts one remote control command
func (m *TxnMetrics) RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	telemetry.RemoteCommandsTotal.With(command, result).Inc()
}

// RecordOutcome records the final result ("committed", "aborted") and the
// number of participants the transaction touched
func (m *TxnMetrics) RecordOutcome(result string, participants int) {
	telemetry.TxnTotal.With(result).Inc()
	telemetry.TxnDurationSeconds.With(result).Observe(time.Since(m.startTime).Seconds())
	telemetry.TxnParticipants.Observe(float64(participants))
}

// RecordPostDecision counts participants that diverged from the decision
// and returns err unchanged
func (m *TxnMetrics) RecordPostDecision(err *PostDecisionError) *PostDecisionError {
	if err != nil {
		telemetry.PostDecisionFailuresTotal.With(err.Phase).Add(float64(len(err.Failures)))
	}
	return err
}
