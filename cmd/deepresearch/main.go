package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/ratelimit"
)

var (
	// Global flags
	verbose    bool
	configPath string
	stateDir   string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "deepresearch - adaptive multi-engine research pipeline",
	Long: `deepresearch answers questions by searching multiple engines,
filtering previews through an LLM before fetching full content, and
iterating with constraint-tracking strategies until confident.

Engines are paced by an adaptive rate-limit tracker that learns each
engine's tolerance from observed outcomes and persists estimates
across runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		if err := logging.Initialize(stateDir); err != nil {
			logger.Warn("Categorized logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <state-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".deepresearch", "Directory for config, caches, and databases")

	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(ratelimitCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(stateDir, "config.yaml")
}

// newLLMClient builds the synthesis/filter client from config.
func newLLMClient() (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "ollama":
		return llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLMTimeout()), nil
	case "genai", "gemini":
		key := cfg.LLM.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		return llm.NewGeminiClient(key, cfg.LLM.Model, cfg.LLM.Temperature)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (use 'ollama' or 'genai')", cfg.LLM.Provider)
	}
}

// newTracker builds the adaptive tracker with SQLite persistence. The
// returned store is nil when persistence could not be opened; the
// in-memory tracker still works.
func newTracker() (*ratelimit.Tracker, *ratelimit.Store) {
	profile := ratelimit.ProfileByName(cfg.RateLimit.Profile)
	if cfg.RateLimit.LearningRate > 0 {
		profile.LearningRate = cfg.RateLimit.LearningRate
	}
	if cfg.RateLimit.ExploreRate > 0 {
		profile.ExploreRate = cfg.RateLimit.ExploreRate
	}

	opts := []ratelimit.Option{
		ratelimit.WithEnabled(cfg.RateLimit.Enabled),
		ratelimit.WithProfile(profile),
	}
	if cfg.RateLimit.WindowSize > 0 {
		opts = append(opts, ratelimit.WithWindowSize(cfg.RateLimit.WindowSize))
	}

	store, err := ratelimit.NewStore(trackerDBPath(), cfg.RateLimit.DecayPerDay)
	if err != nil {
		logger.Warn("Rate-limit persistence unavailable", zap.Error(err))
		store = nil
	} else {
		opts = append(opts, ratelimit.WithStore(store))
	}
	return ratelimit.NewTracker(opts...), store
}

func trackerDBPath() string {
	if cfg.RateLimit.DatabasePath != "" {
		return cfg.RateLimit.DatabasePath
	}
	return filepath.Join(stateDir, "ratelimit.db")
}
