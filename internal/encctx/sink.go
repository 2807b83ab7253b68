package encctx

import "sync"

// StatSink is where first-pass statistics are persisted for a later pass.
// Implementations can be in-memory or file-based; the encode context
// serializes calls under its stat-file lock.
type StatSink interface {
	WriteStats(rec StatisticsRecord) error
}

// MemorySink is an in-memory StatSink.
type MemorySink struct {
	mu   sync.Mutex
	recs []StatisticsRecord
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteStats implements StatSink.WriteStats.
func (s *MemorySink) WriteStats(rec StatisticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []StatisticsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatisticsRecord, len(s.recs))
	copy(out, s.recs)
	return out
}
