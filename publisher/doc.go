// Package publisher records participants that diverged from a committed or
// aborted local transaction and forwards them to external systems.
//
// Nothing here retries or reconciles the remote transaction itself. The
// records give an operator (or a separate recovery tool) the GID and
// placement needed to resolve a participant by hand.
//
// # FailureLog
//
// FailureLog stores FailureEvent records in Pebble with monotonically
// increasing sequence numbers. Each sink tracks its progress through a
// cursor, so a restart resumes where delivery stopped. Records stay in the
// log until an operator acknowledges them with Delete.
//
// Key prefixes:
//
//	/failures/{seq:016x}     -> msgpack(FailureEvent)
//	/failcursor/{sinkName}   -> uint64 (cursor)
//	/failseq                 -> uint64 (last sequence)
//
// # Delivery
//
// A Worker per configured sink polls the log and publishes each record with
// exponential backoff. Delivery is at-least-once: the cursor only advances
// after a successful publish.
package publisher
