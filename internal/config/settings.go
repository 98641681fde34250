package config

import (
	"strconv"
	"strings"
	"sync"
)

// SettingsProvider exposes dotted-key settings lookups to the research core.
// Implementations must be safe for concurrent readers. Unknown keys return
// the supplied default and never error.
type SettingsProvider interface {
	GetString(key, def string) string
	GetInt(key string, def int) int
	GetFloat(key string, def float64) float64
	GetBool(key string, def bool) bool
}

// Snapshot is an immutable map-backed SettingsProvider. Strategies receive a
// snapshot per run; there is no live reload inside a run.
type Snapshot struct {
	values map[string]string
}

// NewSnapshot builds a Snapshot from raw dotted-key values.
func NewSnapshot(values map[string]string) *Snapshot {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Snapshot{values: copied}
}

// SnapshotFromConfig flattens a Config into the dotted-key namespace the
// core reads (search.iterations, rate_limiting.profile, ...).
func SnapshotFromConfig(cfg *Config) *Snapshot {
	values := map[string]string{
		"search.tool":                    cfg.Search.Tool,
		"search.strategy":                cfg.Search.Strategy,
		"search.iterations":              strconv.Itoa(cfg.Search.Iterations),
		"search.questions_per_iteration": strconv.Itoa(cfg.Search.QuestionsPerIteration),
		"search.max_results":             strconv.Itoa(cfg.Search.MaxResults),
		"search.max_filtered_results":    strconv.Itoa(cfg.Search.MaxFilteredResults),
		"search.snippets_only":           strconv.FormatBool(cfg.Search.SnippetsOnly),
		"search.preview_timeout":         cfg.Search.PreviewTimeout,
		"search.full_content_timeout":    cfg.Search.FullContentTimeout,
		"search.worker_pool_size":        strconv.Itoa(cfg.Search.WorkerPoolSize),
		"rate_limiting.enabled":          strconv.FormatBool(cfg.RateLimit.Enabled),
		"rate_limiting.profile":          cfg.RateLimit.Profile,
		"rate_limiting.learning_rate":    strconv.FormatFloat(cfg.RateLimit.LearningRate, 'f', -1, 64),
		"rate_limiting.explore_rate":     strconv.FormatFloat(cfg.RateLimit.ExploreRate, 'f', -1, 64),
		"llm.provider":                   cfg.LLM.Provider,
		"llm.model":                      cfg.LLM.Model,
		"llm.temperature":                strconv.FormatFloat(cfg.LLM.Temperature, 'f', -1, 64),
	}

	for name, es := range cfg.Search.Engines {
		prefix := "search.engine.web." + name + "."
		if es.APIKey != "" {
			values[prefix+"api_key"] = es.APIKey
		}
		if es.Region != "" {
			values[prefix+"region"] = es.Region
		}
		if es.Language != "" {
			values[prefix+"language"] = es.Language
		}
		values[prefix+"safe_search"] = strconv.FormatBool(es.SafeSearch)
		if es.MaxResults > 0 {
			values[prefix+"max_results"] = strconv.Itoa(es.MaxResults)
		}
		for k, v := range es.DefaultParams {
			values[prefix+k] = v
		}
	}

	return NewSnapshot(values)
}

// GetString returns the value for key or def when absent.
func (s *Snapshot) GetString(key, def string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// GetInt returns the integer value for key or def when absent or malformed.
func (s *Snapshot) GetInt(key string, def int) int {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns the float value for key or def when absent or malformed.
func (s *Snapshot) GetFloat(key string, def float64) float64 {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool returns the boolean value for key or def when absent or malformed.
func (s *Snapshot) GetBool(key string, def bool) bool {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// MutableSettings is a thread-safe SettingsProvider for tests and the CLI.
type MutableSettings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMutableSettings creates an empty MutableSettings.
func NewMutableSettings() *MutableSettings {
	return &MutableSettings{values: make(map[string]string)}
}

// Set stores a raw value under a dotted key.
func (m *MutableSettings) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Snapshot returns an immutable copy of the current values.
func (m *MutableSettings) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NewSnapshot(m.values)
}

// GetString returns the value for key or def when absent.
func (m *MutableSettings) GetString(key, def string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

// GetInt returns the integer value for key or def.
func (m *MutableSettings) GetInt(key string, def int) int {
	return m.Snapshot().GetInt(key, def)
}

// GetFloat returns the float value for key or def.
func (m *MutableSettings) GetFloat(key string, def float64) float64 {
	return m.Snapshot().GetFloat(key, def)
}

// GetBool returns the boolean value for key or def.
func (m *MutableSettings) GetBool(key string, def bool) bool {
	return m.Snapshot().GetBool(key, def)
}
