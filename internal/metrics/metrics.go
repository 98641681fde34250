// Package metrics defines the per-search metrics sink the engine contract
// reports into. The sink is injected; the core never depends on a concrete
// schema.
package metrics

import (
	"sync"
	"time"
)

// SearchRecord is one per-search metrics row.
type SearchRecord struct {
	Engine      string
	Query       string
	ResultCount int
	LatencyMS   int64
	Success     bool
	Error       string
	ResearchID  string
	Timestamp   time.Time
}

// Sink receives search metrics rows. Implementations must be safe for
// concurrent callers and must never block the search path on failure.
type Sink interface {
	RecordSearch(rec SearchRecord)
}

// NopSink discards all records.
type NopSink struct{}

// RecordSearch discards the record.
func (NopSink) RecordSearch(SearchRecord) {}

// MemorySink collects records in memory; used in tests and as a cheap
// default when no database is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []SearchRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// RecordSearch appends the record.
func (m *MemorySink) RecordSearch(rec SearchRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of all collected records.
func (m *MemorySink) Records() []SearchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SearchRecord, len(m.records))
	copy(out, m.records)
	return out
}

// ByEngine returns collected records for one engine.
func (m *MemorySink) ByEngine(engine string) []SearchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SearchRecord
	for _, r := range m.records {
		if r.Engine == engine {
			out = append(out, r)
		}
	}
	return out
}
