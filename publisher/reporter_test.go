package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/cfg"
	"github.com/vlubarsky/citus/coordinator"
)

func samplePostDecisionError() *coordinator.PostDecisionError {
	return &coordinator.PostDecisionError{
		TxnID: 77,
		Phase: "commit",
		Failures: []coordinator.ParticipantFailure{
			{
				ShardID:   102008,
				Placement: catalog.Placement{ShardID: 102008, NodeName: "worker-2", NodePort: 5432},
				GID:       "citus_3_77_1",
				State:     coordinator.StatePrepared,
				Err:       errors.New("server closed the connection unexpectedly"),
			},
			{
				ShardID:   102009,
				Placement: catalog.Placement{ShardID: 102009, NodeName: "worker-3", NodePort: 5432},
				GID:       "citus_3_77_2",
				State:     coordinator.StateStarted,
			},
		},
	}
}

func TestReporter_AppendsEvents(t *testing.T) {
	fl, _ := newTestLog(t)
	r := NewReporter(3, fl)
	r.now = func() time.Time { return time.UnixMilli(1700000000123) }

	r.ReportPostDecisionFailure(context.Background(), samplePostDecisionError())

	events, err := fl.List(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, FailureEvent{
		Seq:      1,
		TxnID:    77,
		NodeID:   3,
		ShardID:  102008,
		NodeName: "worker-2",
		NodePort: 5432,
		GID:      "citus_3_77_1",
		Phase:    "commit",
		State:    "prepared",
		Error:    "server closed the connection unexpectedly",
		At:       1700000000123,
	}, events[0])
	assert.True(t, events[0].InDoubt())

	assert.Equal(t, "started", events[1].State)
	assert.Empty(t, events[1].Error)
	assert.False(t, events[1].InDoubt())
}

func TestReporter_NeverFails(t *testing.T) {
	// no log configured
	NewReporter(1, nil).ReportPostDecisionFailure(context.Background(), samplePostDecisionError())

	// nothing to report
	fl, _ := newTestLog(t)
	r := NewReporter(1, fl)
	r.ReportPostDecisionFailure(context.Background(), nil)
	r.ReportPostDecisionFailure(context.Background(), &coordinator.PostDecisionError{Phase: "abort"})
	assert.Zero(t, fl.LastSeq())

	// closed log
	closed, err := OpenFailureLog(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	NewReporter(1, closed).ReportPostDecisionFailure(context.Background(), samplePostDecisionError())
}

func TestRegistry_LogDisabled(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{NodeID: 1})
	require.NoError(t, err)
	assert.Nil(t, r.Log())
	require.NotNil(t, r.Reporter())
	require.NoError(t, r.Start())
	r.Stop()

	_, err = NewRegistry(RegistryConfig{
		NodeID:      1,
		SinkConfigs: []cfg.SinkConfiguration{{Name: "k", Type: "kafka"}},
	})
	assert.Error(t, err)
}

func TestRegistry_WithSinks(t *testing.T) {
	s := &mockSink{}
	RegisterSink("test-registry", func(cfg.SinkConfiguration) (Sink, error) { return s, nil })

	r, err := NewRegistry(RegistryConfig{
		DataDir:    t.TempDir(),
		NodeID:     3,
		LogEnabled: true,
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "primary", Type: "test-registry", Topic: "ops.failures", PollEveryMS: 10},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, r.Log())

	require.NoError(t, r.Start())
	assert.Error(t, r.Start(), "double start")

	r.Reporter().ReportPostDecisionFailure(context.Background(), samplePostDecisionError())
	waitForPublished(t, s, 2)

	r.Stop()
	assert.True(t, s.closed.Load())
	assert.Nil(t, r.Log())

	calls := s.published()
	assert.Equal(t, "ops.failures", calls[0].Topic)
	assert.Equal(t, "citus_3_77_1", calls[0].Key)
}

func TestRegistry_UnknownSinkType(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		LogEnabled:  true,
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink type")
}
