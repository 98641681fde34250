package research

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/search"
)

// ProgressFunc publishes strategy progress to the caller. detail may be
// empty.
type ProgressFunc func(message string, percent int, detail string)

// Result is a strategy's structured output, and the orchestrator's return
// value.
type Result struct {
	Query                string
	Strategy             string
	Findings             []Finding
	Iterations           int
	QuestionsByIteration map[int][]string
	FormattedFindings    string
	CurrentKnowledge     string
	Links                []string
	Confidence           float64
	Cancelled            bool
	ResearchID           string
}

// Strategy is one named search algorithm.
type Strategy interface {
	Name() string
	AnalyzeTopic(ctx context.Context, query string) (*Result, error)
}

const defaultWorkerPool = 4

// Toolkit bundles the run-scoped collaborators every strategy shares. The
// orchestrator builds one per run.
type Toolkit struct {
	LLM       llm.Client
	Runner    *search.Runner
	Engines   []search.Engine
	Filter    *search.Filter
	Citations *Citations
	Findings  *Repository
	Progress  ProgressFunc

	MaxResults int
	WorkerPool int
	// Questions caps the sub-queries generated per iteration; <= 0 uses
	// each strategy's default.
	Questions int
}

func (t *Toolkit) progress(message string, percent int, detail string) {
	if t.Progress != nil {
		t.Progress(message, percent, detail)
	}
}

// searchAll runs one query against every configured engine and returns
// the concatenated results. Engine failures yield empty slices, never
// errors; the only error out of here is context cancellation.
func (t *Toolkit) searchAll(ctx context.Context, query string) ([]search.Result, error) {
	var all []search.Result
	for _, eng := range t.Engines {
		results, err := t.Runner.Run(ctx, eng, query)
		if err != nil {
			return all, err
		}
		all = append(all, results...)
	}
	return all, nil
}

// searchParallel fans sub-queries out over the worker pool and collects
// all results. Result order follows query order regardless of completion
// order.
func (t *Toolkit) searchParallel(ctx context.Context, queries []string) ([]search.Result, error) {
	pool := t.WorkerPool
	if pool <= 0 {
		pool = defaultWorkerPool
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool)

	var mu sync.Mutex
	byQuery := make([][]search.Result, len(queries))

	for i, q := range queries {
		g.Go(func() error {
			results, err := t.searchAll(gctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			byQuery[i] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []search.Result
	for _, results := range byQuery {
		all = append(all, results...)
	}
	return all, nil
}

// searchAndCite runs one query, applies the cross-engine filter with
// citation continuation, and stamps citation indices.
func (t *Toolkit) searchAndCite(ctx context.Context, query string) ([]search.Result, error) {
	results, err := t.searchAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	filtered := t.Filter.CrossEngine(ctx, query, results, search.CrossOptions{
		Reorder:    true,
		Reindex:    true,
		StartIndex: t.Citations.Count(),
		MaxResults: t.MaxResults,
	})
	cited := t.Citations.Assign(filtered)
	logging.Strategy("query %q: %d results, %d kept", query, len(results), len(cited))
	return cited, nil
}
