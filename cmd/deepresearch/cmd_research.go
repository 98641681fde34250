package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepresearch/internal/config"
	"deepresearch/internal/embedding"
	"deepresearch/internal/index"
	"deepresearch/internal/metrics"
	"deepresearch/internal/research"
	"deepresearch/internal/search"
)

var (
	researchStrategy     string
	researchEngines      []string
	researchIterations   int
	researchQuestions    int
	researchMaxResults   int
	researchSnippetsOnly bool
	researchOutput       string
)

// researchCmd runs a query through the strategy pipeline
var researchCmd = &cobra.Command{
	Use:   "research [query]",
	Short: "Run a research query",
	Long: `Runs a query through the research pipeline: strategy selection,
per-engine two-phase search, LLM relevance filtering, and synthesis
with stable numbered citations.

Strategies:
  - auto: classify the question and route (default)
  - direct: single search plus synthesis
  - reasoning: iterative constraint tracking until confident
  - decomposition: break compound puzzles into verification steps
  - source-based: decompose into sub-queries searched in parallel

Example:
  deepresearch research "Which couple vanished on an alpine hike in 1942?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVarP(&researchStrategy, "strategy", "s", "", "Strategy (default: from config, else auto)")
	researchCmd.Flags().StringSliceVarP(&researchEngines, "engine", "e", nil, "Search engines (default: from config)")
	researchCmd.Flags().IntVar(&researchIterations, "iterations", 0, "Cap for iterative strategies")
	researchCmd.Flags().IntVar(&researchQuestions, "questions-per-iteration", 0, "Sub-queries generated per iteration")
	researchCmd.Flags().IntVar(&researchMaxResults, "max-results", 0, "Results per engine")
	researchCmd.Flags().BoolVar(&researchSnippetsOnly, "snippets-only", false, "Skip full-content fetches")
	researchCmd.Flags().StringVarP(&researchOutput, "output", "o", "", "Write the report to a file instead of stdout")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := strings.Join(args, " ")

	client, err := newLLMClient()
	if err != nil {
		return err
	}

	tracker, store := newTracker()
	if store != nil {
		defer store.Close()
	}

	sink, closeSink := newMetricsSink()
	defer closeSink()

	settings := config.SnapshotFromConfig(cfg)

	strategy := researchStrategy
	if strategy == "" {
		strategy = settings.GetString("search.strategy", "")
	}

	orch := &research.Orchestrator{
		LLM:      client,
		Settings: settings,
		Tracker:  tracker,
		Metrics:  sink,
		Factory: &search.Factory{
			Registry:   config.DefaultEngineRegistry(),
			Settings:   settings,
			LLM:        client,
			Searcher:   newLocalSearcher(),
			MaxResults: researchMaxResults,
		},
		Cache: search.NewCache(filepath.Join(stateDir, "search_cache"), time.Hour),
	}

	start := time.Now()
	res := orch.Research(ctx, query, research.Context{
		Strategy:              strategy,
		Engines:               researchEngines,
		Iterations:            researchIterations,
		QuestionsPerIteration: researchQuestions,
		MaxResults:            researchMaxResults,
		SnippetsOnly:          researchSnippetsOnly,
		Progress: func(message string, percent int, detail string) {
			if verbose {
				fmt.Fprintf(os.Stderr, "[%3d%%] %s %s\n", percent, message, detail)
			}
		},
	})

	logger.Info("Research complete",
		zap.String("research_id", res.ResearchID),
		zap.String("strategy", res.Strategy),
		zap.Int("iterations", res.Iterations),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("elapsed", time.Since(start)))

	report := res.FormattedFindings
	if report == "" {
		report = res.CurrentKnowledge
	}

	if researchOutput != "" {
		if err := os.WriteFile(researchOutput, []byte(report), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", researchOutput)
	} else {
		fmt.Println(report)
	}

	if res.Cancelled {
		fmt.Fprintf(os.Stderr, "Cancelled after %d iterations; partial results above.\n", res.Iterations)
	}
	return nil
}

// newMetricsSink opens the SQLite sink, degrading to in-memory when the
// database cannot be opened.
func newMetricsSink() (metrics.Sink, func()) {
	sink, err := metrics.NewSQLiteSink(filepath.Join(stateDir, "metrics.db"))
	if err != nil {
		logger.Warn("Metrics database unavailable", zap.Error(err))
		return metrics.NewMemorySink(), func() {}
	}
	return sink, func() { _ = sink.Close() }
}

// newLocalSearcher wires the local embedding index when collections are
// configured. Research runs work without it; the "local" engine just
// reports unavailable.
func newLocalSearcher() *index.Searcher {
	if len(cfg.Index.Collections) == 0 {
		return nil
	}
	eng, err := embedding.NewEngine(embeddingConfig())
	if err != nil {
		logger.Warn("Embedding engine unavailable, local index disabled", zap.Error(err))
		return nil
	}
	ix, err := index.NewIndexer(indexConfig(), eng)
	if err != nil {
		logger.Warn("Local index unavailable", zap.Error(err))
		return nil
	}
	return index.NewSearcher(ix)
}

func embeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	}
}

func indexConfig() config.IndexConfig {
	icfg := cfg.Index
	if icfg.CacheDir == "" {
		icfg.CacheDir = filepath.Join(stateDir, "index_cache")
	}
	return icfg
}
