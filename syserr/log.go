package syserr

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one structured entry in the error log: a failure that
// crossed the dispatcher boundary, or one failed attempt of a retried
// call.
type Record struct {
	CallID   uint64
	Syscall  uint32
	Kind     Kind
	Severity Severity
	Message  string
	UID      uint32
	GID      uint32
	Time     time.Time
}

// Log is a bounded, in-memory error log. Capacity is fixed at init;
// appending evicts the oldest record and never allocates. Producers are
// the dispatcher threads, the consumer is whatever reads Recent().
type Log struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	records []Record
	head    int
	n       int
	total   uint64
}

const DefaultLogCapacity = 1024

func NewLog(logger *zap.SugaredLogger, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}

	return &Log{
		logger:  logger,
		records: make([]Record, capacity),
	}
}

// Append stores r, evicting the oldest record when full. Elevated
// records are additionally pushed to the structured logger so that
// downstream consumers can route them.
func (l *Log) Append(r Record) {
	l.mu.Lock()

	l.records[l.head] = r
	l.head = (l.head + 1) % len(l.records)

	if l.n < len(l.records) {
		l.n++
	}
	l.total++

	l.mu.Unlock()

	if r.Severity == SeverityElevated {
		l.logger.Errorw("syscall failure",
			"call_id", r.CallID,
			"syscall", r.Syscall,
			"kind", r.Kind.String(),
			"uid", r.UID,
		)
	}
}

// Recent returns up to n records, newest first.
func (l *Log) Recent(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.n {
		n = l.n
	}

	out := make([]Record, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + len(l.records)) % len(l.records)
		out[i] = l.records[idx]
	}

	return out
}

// Len reports how many records are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.n
}

// Total reports how many records have ever been appended, including
// evicted ones.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total
}
