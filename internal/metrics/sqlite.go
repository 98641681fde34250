package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"deepresearch/internal/logging"
)

// SQLiteSink persists search metrics rows to a local SQLite database.
// Writes are best-effort: failures are logged and dropped.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens (creating if needed) the metrics database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS search_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engine TEXT NOT NULL,
		query TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		research_id TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_engine ON search_metrics(engine);
	CREATE INDEX IF NOT EXISTS idx_metrics_research ON search_metrics(research_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metrics table: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// RecordSearch persists one row. Errors are logged and swallowed so the
// search path never fails on metrics.
func (s *SQLiteSink) RecordSearch(rec SearchRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO search_metrics (engine, query, result_count, latency_ms, success, error, research_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Engine, rec.Query, rec.ResultCount, rec.LatencyMS, success, rec.Error, rec.ResearchID, rec.Timestamp)
	if err != nil {
		logging.Metrics("failed to persist search metric: %v", err)
	}
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
