package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/metrics"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/search"
)

// Context configures one research run. Immutable once the run starts.
type Context struct {
	ResearchID            string
	Strategy              string // empty routes through the smart router
	Engines               []string
	Iterations            int
	QuestionsPerIteration int
	MaxResults            int
	SnippetsOnly          bool
	Progress              ProgressFunc
}

// Orchestrator is the public entry point: it builds the run-scoped
// containers, picks a strategy, and guarantees a structured result on
// every path.
type Orchestrator struct {
	LLM      llm.Client
	Settings config.SettingsProvider
	Tracker  *ratelimit.Tracker
	Metrics  metrics.Sink
	Factory  *search.Factory
	Cache    *search.Cache
}

// Research runs one query. It never returns an error: cancellation yields
// a partial result with Cancelled set, and strategy failures degrade to
// an Error finding with a "Error:" summary.
func (o *Orchestrator) Research(ctx context.Context, query string, rc Context) (res *Result) {
	query = strings.TrimSpace(query)
	if rc.ResearchID == "" {
		rc.ResearchID = uuid.NewString()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Orchestrator("research %s panicked: %v", rc.ResearchID, r)
			res = o.errorResult(query, rc, fmt.Errorf("research panicked: %v", r))
		}
	}()

	if query == "" {
		return o.errorResult(query, rc, fmt.Errorf("empty query"))
	}

	tk, err := o.toolkit(rc)
	if err != nil {
		return o.errorResult(query, rc, err)
	}

	iterations := rc.Iterations
	if iterations <= 0 && o.Settings != nil {
		iterations = o.Settings.GetInt("search.iterations", 0)
	}
	strategy, err := o.strategy(tk, rc.Strategy, iterations)
	if err != nil {
		return o.errorResult(query, rc, err)
	}

	logging.Orchestrator("research %s: strategy=%s query=%q", rc.ResearchID, strategy.Name(), query)
	timer := logging.StartTimer(logging.CategoryOrchestrator, "research "+rc.ResearchID)

	res, err = strategy.AnalyzeTopic(ctx, query)
	timer.Stop()

	switch {
	case ctx.Err() != nil:
		// Partial result over failure: keep whatever completed.
		if res == nil {
			res = &Result{Query: query, Strategy: strategy.Name()}
		}
		res.Cancelled = true
		if res.Findings == nil {
			res.Findings = tk.Findings.All()
		}
		if res.CurrentKnowledge == "" {
			res.CurrentKnowledge = "Research cancelled"
		}
		if res.FormattedFindings == "" {
			res.FormattedFindings = tk.Findings.Format(res.CurrentKnowledge)
		}
		logging.Orchestrator("research %s cancelled after %d iterations", rc.ResearchID, res.Iterations)

	case err != nil:
		logging.Orchestrator("research %s failed: %v", rc.ResearchID, err)
		res = o.errorResult(query, rc, err)
		res.Strategy = strategy.Name()
		res.Findings = append(tk.Findings.All(), res.Findings...)

	case res == nil:
		res = o.errorResult(query, rc, fmt.Errorf("strategy returned no result"))

	case tk.Findings.Len() == 0 && strategy.Name() != "direct":
		// A run that produced nothing gets one cheap direct pass before
		// giving up.
		logging.Orchestrator("research %s empty, trying direct fallback", rc.ResearchID)
		if fallback, ferr := NewDirectStrategy(tk).AnalyzeTopic(ctx, query); ferr == nil && fallback != nil && len(fallback.Findings) > 0 {
			fallback.Strategy = res.Strategy
			fallback.Iterations = res.Iterations
			res = fallback
		}
	}

	res.Query = query
	res.ResearchID = rc.ResearchID
	return res
}

// toolkit assembles the run-scoped collaborators.
func (o *Orchestrator) toolkit(rc Context) (*Toolkit, error) {
	names := rc.Engines
	if len(names) == 0 && o.Settings != nil {
		if tool := o.Settings.GetString("search.tool", ""); tool != "" {
			names = strings.Split(tool, ",")
		}
	}
	if len(names) == 0 {
		names = []string{"duckduckgo"}
	}

	var engines []search.Engine
	for _, name := range names {
		eng, ok := o.Factory.Build(strings.TrimSpace(name))
		if !ok {
			logging.Orchestrator("engine %q unavailable, skipping", name)
			continue
		}
		engines = append(engines, eng)
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("no usable search engines among %v", names)
	}

	maxResults := rc.MaxResults
	if maxResults <= 0 && o.Settings != nil {
		maxResults = o.Settings.GetInt("search.max_results", 10)
	}
	maxFiltered := 0
	if o.Settings != nil {
		maxFiltered = o.Settings.GetInt("search.max_filtered_results", 0)
	}

	filter := search.NewFilter(o.LLM, maxFiltered)
	runner := &search.Runner{
		Tracker:      o.Tracker,
		Filter:       filter,
		Metrics:      o.Metrics,
		Cache:        o.Cache,
		SnippetsOnly: rc.SnippetsOnly,
		ResearchID:   rc.ResearchID,
	}
	if o.Settings != nil && !rc.SnippetsOnly {
		runner.SnippetsOnly = o.Settings.GetBool("search.snippets_only", false)
	}

	workers := defaultWorkerPool
	if o.Settings != nil {
		workers = o.Settings.GetInt("search.worker_pool_size", defaultWorkerPool)
	}

	questions := rc.QuestionsPerIteration
	if questions <= 0 && o.Settings != nil {
		questions = o.Settings.GetInt("search.questions_per_iteration", 0)
	}

	return &Toolkit{
		LLM:        o.LLM,
		Runner:     runner,
		Engines:    engines,
		Filter:     filter,
		Citations:  NewCitations(o.LLM),
		Findings:   NewRepository(),
		Progress:   rc.Progress,
		MaxResults: maxResults,
		WorkerPool: workers,
		Questions:  questions,
	}, nil
}

// strategy resolves a strategy name; empty means the smart router. A
// positive iterations value overrides the iterative strategies' caps.
func (o *Orchestrator) strategy(tk *Toolkit, name string, iterations int) (Strategy, error) {
	switch name {
	case "", "smart", "auto":
		return NewSmartRouter(tk), nil
	case "direct":
		return NewDirectStrategy(tk), nil
	case "iterative-reasoning", "reasoning":
		s := NewReasoningStrategy(tk)
		if iterations > 0 {
			s.MaxIterations = iterations
		}
		return s, nil
	case "iterative-decomposition", "decomposition":
		s := NewDecomposeStrategy(tk)
		if iterations > 0 {
			s.MaxSteps = iterations
		}
		return s, nil
	case "source-based", "parallel":
		return NewSourceBasedStrategy(tk), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// errorResult is the never-throw shape for unrecoverable failures.
func (o *Orchestrator) errorResult(query string, rc Context, err error) *Result {
	summary := "Error: " + err.Error()
	return &Result{
		Query:             query,
		ResearchID:        rc.ResearchID,
		Findings:          []Finding{{Phase: PhaseError, Question: query, Content: summary}},
		CurrentKnowledge:  summary,
		FormattedFindings: summary,
	}
}
