package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTxnMetrics(t *testing.T) {
	before := time.Now()
	m := NewTxnMetrics()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime not captured correctly: got %v, expected between %v and %v",
			m.startTime, before, after)
	}
}

func TestTxnMetrics_Recording(t *testing.T) {
	m := NewTxnMetrics()

	// metrics are noop until telemetry is initialized; recording must not panic
	tests := []struct {
		name string
		fn   func()
	}{
		{"prepare phase", func() { m.RecordPhase("prepare", 10*time.Millisecond) }},
		{"commit phase", func() { m.RecordPhase("commit", 5*time.Millisecond) }},
		{"abort phase", func() { m.RecordPhase("abort", time.Millisecond) }},
		{"unknown phase", func() { m.RecordPhase("cleanup", time.Millisecond) }},
		{"command ok", func() { m.RecordCommand("begin", nil) }},
		{"command failed", func() { m.RecordCommand("prepare", errors.New("x")) }},
		{"outcome", func() { m.RecordOutcome("committed", 3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, tt.fn)
		})
	}
}

func TestTxnMetrics_RecordPostDecisionPassThrough(t *testing.T) {
	m := NewTxnMetrics()
	pde := &PostDecisionError{Phase: "abort", Failures: []ParticipantFailure{{ShardID: 1}}}

	assert.Same(t, pde, m.RecordPostDecision(pde))
	assert.Nil(t, m.RecordPostDecision(nil))
}
