package alert

import (
	"sync"
	"time"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
)

// defaultCapacity bounds the failure log.
const defaultCapacity = 256

// Log is a bounded record of failures needing operator attention.
// The oldest entry is dropped when full.
type Log struct {
	mu       sync.Mutex
	entries  []moderation.Failure
	capacity int
	watchers []func(moderation.Failure)
}

// NewLog creates a failure log. capacity of 0 selects the default.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &Log{capacity: capacity}
}

// Raise records a failure, counts it and logs it at WARN.
func (l *Log) Raise(kind moderation.FailureKind, task moderation.TaskID, op moderation.OperatorID, err error) {
	f := moderation.Failure{
		Kind:     kind,
		TaskID:   task,
		Operator: op.String(),
		Error:    err.Error(),
		At:       time.Now().UTC(),
	}

	metrics.Failures.WithLabelValues(string(kind)).Inc()
	logger.Warn("operator attention required",
		"kind", kind,
		"task", task,
		"operator", op.Short(),
		"error", err,
	)

	l.mu.Lock()
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, f)
	watchers := append([]func(moderation.Failure){}, l.watchers...)
	l.mu.Unlock()

	for _, fn := range watchers {
		fn(f)
	}
}

// Watch registers fn to run after every raised failure.
func (l *Log) Watch(fn func(moderation.Failure)) {
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

// List returns the recorded failures, oldest first.
func (l *Log) List() []moderation.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]moderation.Failure(nil), l.entries...)
}

// Len returns the number of recorded failures.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
