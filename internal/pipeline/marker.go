package pipeline

import (
	"encoding/binary"
	"fmt"
	"time"

	"GuardianScope/internal/moderation"
	"GuardianScope/internal/storage"
)

// markerPrefix keys in-flight markers: f: + task (be64) + operator.
var markerPrefix = []byte("f:")

// markerSize is flags(1) + failedAt unix nanos(8).
const markerSize = 9

const (
	flagDecided = 1 << 0
	flagApprove = 1 << 1
	flagRefused = 1 << 2
)

// pair identifies one unit of work.
type pair struct {
	task     moderation.TaskID
	operator moderation.OperatorID
}

// marker records a pair that was picked up and not yet settled, or that
// the ledger refused for good.
type marker struct {
	decided  bool      // decided is set once the evaluator answered
	approve  bool      // approve is the evaluator's answer
	refused  bool      // refused is set when the ledger rejected the vote permanently
	failedAt time.Time // failedAt is set when the submission failed persistently
}

func markerKey(p pair) []byte {
	return storage.Key(markerPrefix, uint64(p.task), p.operator[:])
}

func parseMarkerKey(key []byte) (pair, error) {
	if len(key) != len(markerPrefix)+8+32 {
		return pair{}, fmt.Errorf("marker key has %d bytes", len(key))
	}

	var p pair
	p.task = moderation.TaskID(binary.BigEndian.Uint64(key[len(markerPrefix):]))
	copy(p.operator[:], key[len(markerPrefix)+8:])

	return p, nil
}

func encodeMarker(m marker) []byte {
	buf := make([]byte, markerSize)

	if m.decided {
		buf[0] |= flagDecided
	}
	if m.approve {
		buf[0] |= flagApprove
	}
	if m.refused {
		buf[0] |= flagRefused
	}
	if !m.failedAt.IsZero() {
		binary.BigEndian.PutUint64(buf[1:], uint64(m.failedAt.UnixNano()))
	}

	return buf
}

func decodeMarker(data []byte) (marker, error) {
	if len(data) != markerSize {
		return marker{}, fmt.Errorf("marker has %d bytes, want %d", len(data), markerSize)
	}

	m := marker{
		decided: data[0]&flagDecided != 0,
		approve: data[0]&flagApprove != 0,
		refused: data[0]&flagRefused != 0,
	}

	if ns := binary.BigEndian.Uint64(data[1:]); ns != 0 {
		m.failedAt = time.Unix(0, int64(ns)).UTC()
	}

	return m, nil
}
