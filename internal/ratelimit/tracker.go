// Package ratelimit implements the adaptive per-engine rate-limit tracker.
// The tracker learns optimal wait times from observed outcomes: successful
// waits pull the estimate toward their 75th percentile, windows with only
// failures push it up by half again. Estimates are persisted to SQLite and
// decay softly across restarts.
package ratelimit

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"deepresearch/internal/logging"
)

const (
	// Absolute cap on base_wait and max_wait, in seconds.
	maxWaitCap = 10.0

	// Minimum attempts in the window before the estimator runs.
	minAttemptsForEstimate = 3

	// Attempts needed for full confidence.
	confidenceAttempts = 20
)

// Estimate is the persisted per-engine wait-time estimate.
// Invariant: MinWait <= BaseWait <= MaxWait, BaseWait <= 10s, MaxWait <= 10s.
type Estimate struct {
	Engine      string
	BaseWait    float64 // seconds
	MinWait     float64
	MaxWait     float64
	Confidence  float64
	LastUpdated time.Time
	Attempts    int64
	SuccessRate float64
}

// Attempt is one observed outcome, appended to the persisted attempt log.
type Attempt struct {
	Engine     string
	Timestamp  time.Time
	WaitTime   float64 // seconds actually waited
	RetryCount int
	Success    bool
	ErrorKind  string // rate_limited, transport, timeout, parse, ... ("" on success)
}

// outcome is the in-memory ring entry.
type outcome struct {
	wait    float64
	success bool
}

// engineState holds per-engine tracker state.
type engineState struct {
	mu        sync.Mutex
	estimate  *Estimate
	ring      []outcome
	ringPos   int
	ringLen   int
	attempts  int64
	successes int64
}

// Tracker is the process-wide adaptive rate-limit tracker.
type Tracker struct {
	mu      sync.RWMutex
	engines map[string]*engineState

	defaults   map[string]float64 // per-engine optimistic cold-start waits
	defaultsMu sync.RWMutex

	store   *Store // nil when persistence is disabled
	profile Profile
	enabled bool

	windowSize int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore attaches SQLite persistence. All store operations are
// best-effort; the in-memory path works when they fail.
func WithStore(s *Store) Option {
	return func(t *Tracker) { t.store = s }
}

// WithProfile selects the exploration/learning profile.
func WithProfile(p Profile) Option {
	return func(t *Tracker) { t.profile = p }
}

// WithEnabled toggles rate limiting globally. When disabled, WaitTime
// returns ~0 but outcomes are still recorded.
func WithEnabled(enabled bool) Option {
	return func(t *Tracker) { t.enabled = enabled }
}

// WithWindowSize bounds the in-memory outcome ring (default 100).
func WithWindowSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.windowSize = n
		}
	}
}

// WithRandSource injects a deterministic random source for tests.
func WithRandSource(src rand.Source) Option {
	return func(t *Tracker) { t.rng = rand.New(src) }
}

// NewTracker creates a tracker with the balanced profile.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		engines:    make(map[string]*engineState),
		defaults:   make(map[string]float64),
		profile:    ProfileBalanced(),
		enabled:    true,
		windowSize: 100,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterDefault sets the optimistic cold-start wait for an engine that has
// no estimate yet. Local engines register 0, self-hosted meta engines 0.1.
func (t *Tracker) RegisterDefault(engine string, seconds float64) {
	t.defaultsMu.Lock()
	defer t.defaultsMu.Unlock()
	t.defaults[engine] = seconds
}

// coldStartWait returns the wait for an engine with no estimate.
func (t *Tracker) coldStartWait(engine string) float64 {
	t.defaultsMu.RLock()
	defer t.defaultsMu.RUnlock()
	if w, ok := t.defaults[engine]; ok {
		return w
	}
	return 0.5
}

// state returns (creating if needed) the per-engine state, loading any
// persisted estimate on first touch.
func (t *Tracker) state(engine string) *engineState {
	t.mu.RLock()
	st, ok := t.engines[engine]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.engines[engine]; ok {
		return st
	}

	st = &engineState{ring: make([]outcome, t.windowSize)}
	if t.store != nil {
		if est, err := t.store.LoadEstimate(engine); err != nil {
			logging.TrackerWarn("failed to load estimate for %s: %v", engine, err)
		} else if est != nil {
			st.estimate = est
			st.attempts = est.Attempts
			logging.Tracker("loaded estimate for %s: base=%.2fs confidence=%.2f", engine, est.BaseWait, est.Confidence)
		}
	}
	t.engines[engine] = st
	return st
}

// WaitTime returns the recommended wait before the next call to engine,
// as a duration. With probability explore_rate the tracker probes below the
// learned base (base x U(0.5,0.9)); otherwise it jitters around it
// (base x U(0.9,1.1)). The result is clamped to [MinWait, MaxWait].
func (t *Tracker) WaitTime(engine string) time.Duration {
	if !t.enabled {
		return 0
	}

	st := t.state(engine)
	st.mu.Lock()
	est := st.estimate
	st.mu.Unlock()

	if est == nil {
		w := t.coldStartWait(engine)
		logging.TrackerDebug("%s: cold start wait %.2fs", engine, w)
		return secondsToDuration(w)
	}

	t.rngMu.Lock()
	explore := t.rng.Float64() < t.profile.ExploreRate
	u := t.rng.Float64()
	t.rngMu.Unlock()

	var factor float64
	if explore {
		factor = 0.5 + u*0.4 // U(0.5, 0.9)
	} else {
		factor = 0.9 + u*0.2 // U(0.9, 1.1)
	}

	w := est.BaseWait * factor
	if w < est.MinWait {
		w = est.MinWait
	}
	if w > est.MaxWait {
		w = est.MaxWait
	}
	if w > maxWaitCap {
		w = maxWaitCap
	}

	logging.TrackerDebug("%s: wait %.2fs (base=%.2fs explore=%v)", engine, w, est.BaseWait, explore)
	return secondsToDuration(w)
}

// RecordOutcome appends an observed outcome to the ring and the persisted
// attempt log, then recomputes the estimate. It never fails: persistence
// errors are logged and the in-memory path continues.
func (t *Tracker) RecordOutcome(engine string, wait time.Duration, success bool, retryCount int, errorKind string) {
	st := t.state(engine)

	st.mu.Lock()
	st.ring[st.ringPos] = outcome{wait: wait.Seconds(), success: success}
	st.ringPos = (st.ringPos + 1) % len(st.ring)
	if st.ringLen < len(st.ring) {
		st.ringLen++
	}
	st.attempts++
	if success {
		st.successes++
	}
	t.recomputeLocked(engine, st)
	est := cloneEstimate(st.estimate)
	st.mu.Unlock()

	if t.store != nil {
		attempt := Attempt{
			Engine:     engine,
			Timestamp:  time.Now(),
			WaitTime:   wait.Seconds(),
			RetryCount: retryCount,
			Success:    success,
			ErrorKind:  errorKind,
		}
		if err := t.store.AppendAttempt(attempt); err != nil {
			logging.TrackerWarn("failed to persist attempt for %s: %v", engine, err)
		}
		if est != nil {
			if err := t.store.SaveEstimate(*est); err != nil {
				logging.TrackerWarn("failed to persist estimate for %s: %v", engine, err)
			}
		}
	}
}

// Reset clears all learned state for an engine.
func (t *Tracker) Reset(engine string) error {
	t.mu.Lock()
	delete(t.engines, engine)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.DeleteEngine(engine); err != nil {
			logging.TrackerWarn("failed to reset persisted state for %s: %v", engine, err)
			return err
		}
	}
	logging.Tracker("reset tracker state for %s", engine)
	return nil
}

// Cleanup removes persisted attempts older than the given number of days.
func (t *Tracker) Cleanup(olderThanDays int) (int64, error) {
	if t.store == nil {
		return 0, nil
	}
	return t.store.CleanupAttempts(olderThanDays)
}

// EngineStats summarizes learned state for one engine.
type EngineStats struct {
	Engine      string  `json:"engine"`
	BaseWait    float64 `json:"base_wait"`
	MinWait     float64 `json:"min_wait"`
	MaxWait     float64 `json:"max_wait"`
	Confidence  float64 `json:"confidence"`
	Attempts    int64   `json:"attempts"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats returns a snapshot of all tracked engines, sorted by the caller.
func (t *Tracker) Stats() []EngineStats {
	t.mu.RLock()
	names := make([]string, 0, len(t.engines))
	for name := range t.engines {
		names = append(names, name)
	}
	t.mu.RUnlock()

	stats := make([]EngineStats, 0, len(names))
	for _, name := range names {
		st := t.state(name)
		st.mu.Lock()
		s := EngineStats{Engine: name, Attempts: st.attempts}
		if st.attempts > 0 {
			s.SuccessRate = float64(st.successes) / float64(st.attempts)
		}
		if st.estimate != nil {
			s.BaseWait = st.estimate.BaseWait
			s.MinWait = st.estimate.MinWait
			s.MaxWait = st.estimate.MaxWait
			s.Confidence = st.estimate.Confidence
		}
		st.mu.Unlock()
		stats = append(stats, s)
	}
	return stats
}

// Estimate returns a copy of the current estimate for an engine, or nil.
func (t *Tracker) Estimate(engine string) *Estimate {
	st := t.state(engine)
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneEstimate(st.estimate)
}

func cloneEstimate(e *Estimate) *Estimate {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// String implements fmt.Stringer for diagnostics.
func (e *Estimate) String() string {
	return fmt.Sprintf("%s: base=%.2fs range=[%.2fs,%.2fs] conf=%.2f attempts=%d",
		e.Engine, e.BaseWait, e.MinWait, e.MaxWait, e.Confidence, e.Attempts)
}
