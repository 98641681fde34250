package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepresearch/internal/embedding"
	"deepresearch/internal/index"
)

var (
	indexCollection string
	indexLimit      int
	indexThreshold  float64
	watchDebounce   time.Duration
)

// indexCmd manages the local embedding index
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the local embedding index",
	Long: `Builds and queries the per-folder vector index over configured
collections. Indexing is incremental: only files modified since the
last run are re-embedded, and deleted files are purged. Changing the
chunking or embedding configuration forces a full rebuild.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [collection]",
	Short: "Index configured collections (all when none named)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndexBuild,
}

var indexSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over indexed folders",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndexSearch,
}

var indexWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reindex collection folders as they change",
	RunE:  runIndexWatch,
}

func init() {
	indexSearchCmd.Flags().StringVar(&indexCollection, "collection", "", "Restrict to one collection")
	indexSearchCmd.Flags().IntVar(&indexLimit, "limit", 10, "Maximum hits")
	indexSearchCmd.Flags().Float64Var(&indexThreshold, "threshold", 0.3, "Minimum cosine similarity")
	indexWatchCmd.Flags().DurationVar(&watchDebounce, "debounce", 5*time.Second, "Quiet period before reindexing")

	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexSearchCmd)
	indexCmd.AddCommand(indexWatchCmd)
}

func newIndexer() (*index.Indexer, error) {
	if len(cfg.Index.Collections) == 0 {
		return nil, fmt.Errorf("no index collections configured")
	}
	eng, err := embedding.NewEngine(embeddingConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}
	return index.NewIndexer(indexConfig(), eng)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := newIndexer()
	if err != nil {
		return err
	}
	defer ix.Close()

	if err := ix.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedding engine not ready: %w", err)
	}

	names := make([]string, 0, len(cfg.Index.Collections))
	if len(args) == 1 {
		names = append(names, args[0])
	} else {
		for name := range cfg.Index.Collections {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tINDEXED\tREMOVED\tCHUNKS\tREBUILD\tTIME")
	for _, name := range names {
		stats, err := ix.IndexCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to index collection %q: %w", name, err)
		}
		for _, st := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%v\t%s\n",
				st.Folder, st.FilesIndexed, st.FilesRemoved, st.ChunksAdded,
				st.FullRebuild, st.Duration.Round(time.Millisecond))
		}
	}
	return w.Flush()
}

func runIndexSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := newIndexer()
	if err != nil {
		return err
	}
	defer ix.Close()

	query := strings.Join(args, " ")
	hits, err := index.NewSearcher(ix).Search(ctx, indexCollection, query, indexLimit, indexThreshold)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for i, hit := range hits {
		fmt.Printf("%d. %s (%.3f)\n", i+1, hit.RelPath, hit.Similarity)
		content := hit.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		fmt.Printf("   %s\n\n", strings.ReplaceAll(content, "\n", " "))
	}
	return nil
}

func runIndexWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := newIndexer()
	if err != nil {
		return err
	}
	defer ix.Close()

	// Bring the index current before watching.
	names := make([]string, 0, len(cfg.Index.Collections))
	for name := range cfg.Index.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := ix.IndexCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to index collection %q: %w", name, err)
		}
	}

	w, err := index.NewWatcher(ix, watchDebounce)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Close()

	logger.Info("Watching collection folders", zap.Int("collections", len(names)))
	fmt.Println("Watching for changes. Ctrl-C to stop.")
	w.Run(ctx)
	return nil
}
