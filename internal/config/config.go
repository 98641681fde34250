// Package config holds deepresearch configuration and the settings provider
// consumed by the research core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deepresearch configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Search pipeline
	Search SearchConfig `yaml:"search"`

	// Adaptive rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limiting"`

	// Local embedding index
	Index IndexConfig `yaml:"index"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the synthesis/filtering LLM.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // ollama, genai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding backend used by the local index.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// SearchConfig configures the search pipeline.
type SearchConfig struct {
	Tool                  string `yaml:"tool"`     // default engine name
	Strategy              string `yaml:"strategy"` // direct, decomposition, reasoning, source-based, auto
	Iterations            int    `yaml:"iterations"`
	QuestionsPerIteration int    `yaml:"questions_per_iteration"`
	MaxResults            int    `yaml:"max_results"`
	MaxFilteredResults    int    `yaml:"max_filtered_results"`
	SnippetsOnly          bool   `yaml:"snippets_only"`
	PreviewTimeout        string `yaml:"preview_timeout"`
	FullContentTimeout    string `yaml:"full_content_timeout"`
	WorkerPoolSize        int    `yaml:"worker_pool_size"`

	// Per-engine settings keyed by engine name
	Engines map[string]EngineSettings `yaml:"engines"`
}

// EngineSettings holds per-engine overrides from the settings store.
type EngineSettings struct {
	APIKey        string            `yaml:"api_key"`
	Region        string            `yaml:"region"`
	Language      string            `yaml:"language"`
	SafeSearch    bool              `yaml:"safe_search"`
	MaxResults    int               `yaml:"max_results"`
	DefaultParams map[string]string `yaml:"default_params"`
}

// RateLimitConfig configures the adaptive rate-limit tracker.
type RateLimitConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Profile       string  `yaml:"profile"` // balanced, conservative, aggressive
	LearningRate  float64 `yaml:"learning_rate"`
	ExploreRate   float64 `yaml:"explore_rate"`
	WindowSize    int     `yaml:"window_size"`
	DecayPerDay   float64 `yaml:"decay_per_day"`
	DatabasePath  string  `yaml:"database_path"`
	RetentionDays int     `yaml:"retention_days"`
}

// IndexConfig configures the local embedding index.
type IndexConfig struct {
	CacheDir     string `yaml:"cache_dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`

	// Named collections of folders
	Collections map[string]CollectionConfig `yaml:"collections"`
}

// CollectionConfig defines a named group of folders sharing an embedding config.
type CollectionConfig struct {
	Folders        []string `yaml:"folders"`
	EmbeddingModel string   `yaml:"embedding_model"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deepresearch",
		Version: "1.0.0",
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1",
			BaseURL:     "http://localhost:11434",
			Temperature: 0.7,
			Timeout:     "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		Search: SearchConfig{
			Tool:                  "auto",
			Strategy:              "auto",
			Iterations:            8,
			QuestionsPerIteration: 3,
			MaxResults:            10,
			MaxFilteredResults:    5,
			PreviewTimeout:        "15s",
			FullContentTimeout:    "30s",
			WorkerPoolSize:        4,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Profile:       "balanced",
			LearningRate:  0.3,
			ExploreRate:   0.1,
			WindowSize:    100,
			DecayPerDay:   0.95,
			RetentionDays: 30,
		},
		Index: IndexConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    32,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML or JSON file, applying defaults for
// missing values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LLMTimeout parses the configured LLM timeout, falling back to two minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
