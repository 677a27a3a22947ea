package coordinator

import (
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/telemetry"
)

// CloseConnections releases every handle in conns exactly once. It never
// fails: close errors are logged and counted, and the remaining handles are
// still closed. Participants that were already closed are skipped.
func CloseConnections(conns []*ParticipantConnection) {
	for _, p := range conns {
		if p == nil || p.closed {
			continue
		}
		p.closed = true
		if p.Conn == nil {
			continue
		}

		telemetry.ParticipantConnections.Dec()
		if err := p.Conn.Close(); err != nil {
			telemetry.CloseFailuresTotal.Inc()
			log.Warn().
				Err(err).
				Uint64("shard_id", p.ShardID).
				Str("addr", p.Placement.Addr()).
				Msg("Failed to close placement connection")
		}
	}
}
