package publisher

import (
	"github.com/vmihailenco/msgpack/v5"
)

// FailureEvent is one participant that could not follow the local decision
type FailureEvent struct {
	Seq      uint64 `msgpack:"seq" json:"seq"`
	TxnID    uint64 `msgpack:"txn" json:"txn_id"`
	NodeID   uint64 `msgpack:"node" json:"node_id"`
	ShardID  uint64 `msgpack:"shard" json:"shard_id"`
	NodeName string `msgpack:"host" json:"node_name"`
	NodePort int    `msgpack:"port" json:"node_port"`
	GID      string `msgpack:"gid" json:"gid"`
	Phase    string `msgpack:"phase" json:"phase"` // "commit" or "abort"
	State    string `msgpack:"state" json:"state"` // participant state when the command failed
	Error    string `msgpack:"err" json:"error"`
	At       int64  `msgpack:"at" json:"at"` // unix ms
}

// InDoubt reports whether the participant may still hold a prepared
// transaction that needs manual resolution
func (e FailureEvent) InDoubt() bool {
	return e.State == "prepared"
}

// Sink is a destination for failure events (Kafka, NATS)
type Sink interface {
	// Publish sends a message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

func encodeEvent(e *FailureEvent) ([]byte, error) {
	return msgpack.Marshal(e)
}

func decodeEvent(b []byte, e *FailureEvent) error {
	return msgpack.Unmarshal(b, e)
}
