package ratelimit

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"deepresearch/internal/logging"
)

// Store persists rate-limit estimates and the attempt log in SQLite.
// Every operation is best-effort from the tracker's point of view: callers
// log failures and continue on the in-memory path.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// decayPerDay softly forgets persisted estimates on load:
	// base *= decayPerDay^(age_hours/24). 1.0 disables decay.
	decayPerDay float64
}

// NewStore opens (creating if needed) the rate-limit database at path.
func NewStore(path string, decayPerDay float64) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if decayPerDay <= 0 || decayPerDay > 1 {
		decayPerDay = 1
	}

	s := &Store{db: db, decayPerDay: decayPerDay}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rate_limit_estimates (
		engine TEXT PRIMARY KEY,
		base_wait REAL NOT NULL,
		min_wait REAL NOT NULL,
		max_wait REAL NOT NULL,
		confidence REAL NOT NULL,
		last_updated DATETIME NOT NULL,
		attempts INTEGER NOT NULL,
		success_rate REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rate_limit_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engine TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		wait_time REAL NOT NULL,
		retry_count INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_kind TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_engine ON rate_limit_attempts(engine);
	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON rate_limit_attempts(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create rate-limit tables: %w", err)
	}
	return nil
}

// LoadEstimate reads the persisted estimate for an engine, applying the
// age decay. Returns (nil, nil) when no row exists.
func (s *Store) LoadEstimate(engine string) (*Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT engine, base_wait, min_wait, max_wait, confidence, last_updated, attempts, success_rate
		 FROM rate_limit_estimates WHERE engine = ?`, engine)

	var est Estimate
	err := row.Scan(&est.Engine, &est.BaseWait, &est.MinWait, &est.MaxWait,
		&est.Confidence, &est.LastUpdated, &est.Attempts, &est.SuccessRate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if s.decayPerDay < 1 {
		ageHours := time.Since(est.LastUpdated).Hours()
		if ageHours > 0 {
			decay := math.Pow(s.decayPerDay, ageHours/24)
			est.BaseWait *= decay
			est.MinWait = math.Max(0.5, 0.5*est.BaseWait)
			est.MaxWait = math.Min(maxWaitCap, 3*est.BaseWait)
			est.Confidence *= decay
			logging.TrackerDebug("decayed estimate for %s by %.3f (age %.1fh)", engine, decay, ageHours)
		}
	}

	return &est, nil
}

// SaveEstimate upserts the estimate row for an engine.
func (s *Store) SaveEstimate(est Estimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO rate_limit_estimates
		 (engine, base_wait, min_wait, max_wait, confidence, last_updated, attempts, success_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(engine) DO UPDATE SET
		   base_wait=excluded.base_wait, min_wait=excluded.min_wait,
		   max_wait=excluded.max_wait, confidence=excluded.confidence,
		   last_updated=excluded.last_updated, attempts=excluded.attempts,
		   success_rate=excluded.success_rate`,
		est.Engine, est.BaseWait, est.MinWait, est.MaxWait,
		est.Confidence, est.LastUpdated, est.Attempts, est.SuccessRate)
	return err
}

// AppendAttempt appends one outcome to the attempt log.
func (s *Store) AppendAttempt(a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO rate_limit_attempts (engine, timestamp, wait_time, retry_count, success, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Engine, a.Timestamp, a.WaitTime, a.RetryCount, boolToInt(a.Success), a.ErrorKind)
	return err
}

// DeleteEngine removes the estimate and attempts for an engine.
func (s *Store) DeleteEngine(engine string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM rate_limit_estimates WHERE engine = ?`, engine); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM rate_limit_attempts WHERE engine = ?`, engine)
	return err
}

// CleanupAttempts deletes attempts older than the given number of days and
// returns the number of rows removed.
func (s *Store) CleanupAttempts(olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	res, err := s.db.Exec(`DELETE FROM rate_limit_attempts WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Tracker("cleaned up %d rate-limit attempts older than %d days", n, olderThanDays)
	}
	return n, nil
}

// AllEstimates returns every persisted estimate, without decay applied.
func (s *Store) AllEstimates() ([]Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT engine, base_wait, min_wait, max_wait, confidence, last_updated, attempts, success_rate
		 FROM rate_limit_estimates ORDER BY engine`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var estimates []Estimate
	for rows.Next() {
		var est Estimate
		if err := rows.Scan(&est.Engine, &est.BaseWait, &est.MinWait, &est.MaxWait,
			&est.Confidence, &est.LastUpdated, &est.Attempts, &est.SuccessRate); err != nil {
			continue
		}
		estimates = append(estimates, est)
	}
	return estimates, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
