package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngineSpec describes one engine in the engine registry document. The
// factory reads this plus the settings store to instantiate adapters.
type EngineSpec struct {
	Type               string            `yaml:"type" json:"type"` // meta, web, academic, archival, github, local, retriever
	RequiresAPIKey     bool              `yaml:"requires_api_key" json:"requires_api_key"`
	RequiresLLM        bool              `yaml:"requires_llm" json:"requires_llm"`
	SupportsFullSearch bool              `yaml:"supports_full_search" json:"supports_full_search"`
	DefaultParams      map[string]string `yaml:"default_params" json:"default_params"`
}

// EngineRegistry maps engine name to its spec.
type EngineRegistry map[string]EngineSpec

// DefaultEngineRegistry returns the built-in engine set.
func DefaultEngineRegistry() EngineRegistry {
	return EngineRegistry{
		"searxng": {
			Type:               "meta",
			SupportsFullSearch: true,
			DefaultParams:      map[string]string{"base_url": "http://localhost:8080"},
		},
		"brave": {
			Type:               "web",
			RequiresAPIKey:     true,
			SupportsFullSearch: true,
		},
		"google_pse": {
			Type:               "web",
			RequiresAPIKey:     true,
			SupportsFullSearch: true,
		},
		"duckduckgo": {
			Type:               "web",
			SupportsFullSearch: true,
		},
		"arxiv": {
			Type:               "academic",
			SupportsFullSearch: true,
		},
		"wikipedia": {
			Type:               "academic",
			SupportsFullSearch: true,
		},
		"semantic_scholar": {
			Type:               "academic",
			SupportsFullSearch: true,
		},
		"wayback": {
			Type:               "archival",
			SupportsFullSearch: true,
		},
		"github": {
			Type:               "github",
			RequiresLLM:        true,
			SupportsFullSearch: true,
		},
		"local": {
			Type:               "local",
			SupportsFullSearch: true,
		},
	}
}

// LoadEngineRegistry reads an engine registry document (YAML or JSON),
// merging it over the defaults. Unknown engine names extend the set.
func LoadEngineRegistry(path string) (EngineRegistry, error) {
	reg := DefaultEngineRegistry()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read engine registry: %w", err)
	}

	loaded := EngineRegistry{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse engine registry: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse engine registry: %w", err)
		}
	}

	for name, spec := range loaded {
		reg[name] = spec
	}
	return reg, nil
}
