package events

import "sync"

// Sink is the append-only log the engines write transition records to.
// Appends happen inside the engine's serialized invocation path, so a Sink
// must be cheap; anything slow belongs behind a buffer or a broker.
type Sink interface {
	Append(rec Record)
}

// MemoryLog is an in-process Sink that retains every record in order.
// Tests and the standalone query surface read it back directly.
type MemoryLog struct {
	mu   sync.RWMutex
	recs []Record
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append adds a record to the log.
func (l *MemoryLog) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
}

// All returns a copy of every record appended so far, in append order.
func (l *MemoryLog) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.recs))
	copy(out, l.recs)
	return out
}

// ByKind returns the records of one transition kind, in append order.
func (l *MemoryLog) ByKind(kind Kind) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, rec := range l.recs {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of appended records.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.recs)
}

// Tee fans an append out to multiple sinks in order.
type Tee []Sink

// Append implements Sink.
func (t Tee) Append(rec Record) {
	for _, s := range t {
		s.Append(rec)
	}
}
