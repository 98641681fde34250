package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "balanced", cfg.RateLimit.Profile)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 1000, cfg.Index.ChunkSize)
	assert.Equal(t, 200, cfg.Index.ChunkOverlap)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 2*time.Minute, cfg.LLMTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search.MaxResults, cfg.Search.MaxResults)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
llm:
  provider: genai
  model: gemini-2.0-flash
  timeout: 90s
search:
  max_results: 25
  engines:
    brave:
      api_key: secret
rate_limiting:
  profile: conservative
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "genai", cfg.LLM.Provider)
	assert.Equal(t, 90*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.Equal(t, "secret", cfg.Search.Engines["brave"].APIKey)
	assert.Equal(t, "conservative", cfg.RateLimit.Profile)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Index.ChunkSize)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Search.Tool = "arxiv"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "arxiv", loaded.Search.Tool)
}

func TestSnapshotFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.MaxResults = 7
	cfg.Search.Engines = map[string]EngineSettings{
		"brave": {APIKey: "k", MaxResults: 3, DefaultParams: map[string]string{"country": "de"}},
	}

	s := SnapshotFromConfig(cfg)

	assert.Equal(t, 7, s.GetInt("search.max_results", 0))
	assert.Equal(t, "k", s.GetString("search.engine.web.brave.api_key", ""))
	assert.Equal(t, 3, s.GetInt("search.engine.web.brave.max_results", 0))
	assert.Equal(t, "de", s.GetString("search.engine.web.brave.country", ""))
	assert.Equal(t, "fallback", s.GetString("missing.key", "fallback"))
	assert.True(t, s.GetBool("rate_limiting.enabled", false))
}

func TestMutableSettings(t *testing.T) {
	m := NewMutableSettings()
	m.Set("search.tool", "wikipedia")
	m.Set("search.max_results", "4")

	assert.Equal(t, "wikipedia", m.GetString("search.tool", ""))
	assert.Equal(t, 4, m.GetInt("search.max_results", 0))

	// Snapshots are detached from later writes.
	snap := m.Snapshot()
	m.Set("search.tool", "arxiv")
	assert.Equal(t, "wikipedia", snap.GetString("search.tool", ""))
}

func TestEngineRegistryDefaults(t *testing.T) {
	reg := DefaultEngineRegistry()

	require.Contains(t, reg, "duckduckgo")
	assert.False(t, reg["duckduckgo"].RequiresAPIKey)
	assert.True(t, reg["brave"].RequiresAPIKey)
	assert.True(t, reg["github"].RequiresLLM)
	assert.Equal(t, "archival", reg["wayback"].Type)
}

func TestLoadEngineRegistryMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	doc := `
duckduckgo:
  type: web
  requires_api_key: true
internal_kb:
  type: retriever
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	reg, err := LoadEngineRegistry(path)
	require.NoError(t, err)

	// Overrides replace, unknown names extend, defaults survive.
	assert.True(t, reg["duckduckgo"].RequiresAPIKey)
	assert.Equal(t, "retriever", reg["internal_kb"].Type)
	assert.Contains(t, reg, "arxiv")
}
