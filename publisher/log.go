package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

const (
	prefixFailure       = "/failures/"   // /failures/{16-digit-hex-seq}
	prefixFailureCursor = "/failcursor/" // /failcursor/{sinkName}
	keyFailureSeq       = "/failseq"     // last assigned sequence
)

const defaultReadLimit = 100

// ErrFailureNotFound is returned by Delete for an unknown sequence
var ErrFailureNotFound = errors.New("failure record not found")

var errLogClosed = errors.New("failure log is closed")

// FailureLog is a Pebble-backed append-only log of failure events
type FailureLog struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	closed atomic.Bool
}

// OpenFailureLog creates or opens the log under dataDir/failure_log
func OpenFailureLog(dataDir string) (*FailureLog, error) {
	path := filepath.Join(dataDir, "failure_log")

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open failure log at %s: %w", path, err)
	}

	fl := &FailureLog{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	seq, err := fl.readUint64([]byte(keyFailureSeq))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	fl.lastSeq.Store(seq)

	log.Info().
		Str("path", path).
		Uint64("last_seq", seq).
		Msg("Failure log opened")

	return fl, nil
}

// Append stores events and assigns their Seq fields
func (fl *FailureLog) Append(events []FailureEvent) error {
	if len(events) == 0 {
		return nil
	}
	if fl.closed.Load() {
		return errLogClosed
	}

	fl.appendMu.Lock()
	defer fl.appendMu.Unlock()

	seq := fl.lastSeq.Load()
	batch := fl.db.NewBatch()
	defer batch.Close()

	for i := range events {
		seq++
		events[i].Seq = seq

		val, err := encodeEvent(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal failure event: %w", err)
		}
		if err := batch.Set(failureKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to write failure event: %w", err)
		}
	}

	if err := batch.Set([]byte(keyFailureSeq), encodeUint64(seq), nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit failure batch: %w", err)
	}

	fl.lastSeq.Store(seq)
	return nil
}

// ReadFrom returns up to limit events with Seq > cursor, oldest first
func (fl *FailureLog) ReadFrom(cursor uint64, limit int) ([]FailureEvent, error) {
	if fl.closed.Load() {
		return nil, errLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := failureKey(cursor + 1)
	iter, err := fl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixFailure)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]FailureEvent, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var event FailureEvent
		if err := decodeEvent(val, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping unreadable failure event")
			continue
		}
		events = append(events, event)
	}

	return events, iter.Error()
}

// List returns up to limit unacknowledged events, oldest first
func (fl *FailureLog) List(limit int) ([]FailureEvent, error) {
	return fl.ReadFrom(0, limit)
}

// Delete acknowledges an event, removing it from the log
func (fl *FailureLog) Delete(seq uint64) error {
	if fl.closed.Load() {
		return errLogClosed
	}

	key := failureKey(seq)
	_, closer, err := fl.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrFailureNotFound
	}
	if err != nil {
		return err
	}
	closer.Close()

	return fl.db.Delete(key, pebble.Sync)
}

// LastSeq returns the last assigned sequence number
func (fl *FailureLog) LastSeq() uint64 {
	return fl.lastSeq.Load()
}

// GetCursor returns the last sequence delivered to a sink
func (fl *FailureLog) GetCursor(sinkName string) (uint64, error) {
	if fl.closed.Load() {
		return 0, errLogClosed
	}

	fl.cursorsMu.RLock()
	cursor, ok := fl.cursors[sinkName]
	fl.cursorsMu.RUnlock()
	if ok {
		return cursor, nil
	}

	cursor, err := fl.readUint64([]byte(prefixFailureCursor + sinkName))
	if err != nil {
		return 0, err
	}

	fl.cursorsMu.Lock()
	defer fl.cursorsMu.Unlock()
	if existing, ok := fl.cursors[sinkName]; ok {
		return existing, nil
	}
	fl.cursors[sinkName] = cursor
	return cursor, nil
}

// AdvanceCursor records that a sink delivered everything up to seq
func (fl *FailureLog) AdvanceCursor(sinkName string, seq uint64) error {
	if fl.closed.Load() {
		return errLogClosed
	}

	fl.cursorsMu.Lock()
	fl.cursors[sinkName] = seq
	fl.cursorsMu.Unlock()

	if err := fl.db.Set([]byte(prefixFailureCursor+sinkName), encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// Close closes the underlying Pebble database
func (fl *FailureLog) Close() error {
	if !fl.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("failure log already closed")
	}
	return fl.db.Close()
}

func (fl *FailureLog) readUint64(key []byte) (uint64, error) {
	val, closer, err := fl.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d for %s", len(val), key)
	}
	return binary.LittleEndian.Uint64(val), nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func failureKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixFailure, seq))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
