package research

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/goleak"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
	"deepresearch/internal/metrics"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/search"
)

func TestMain(m *testing.M) {
	// The genai client's opencensus dependency starts a process-lifetime
	// stats worker at init.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubEngine returns canned results and can trip a cancel func on a given
// call number.
type stubEngine struct {
	name     string
	results  []search.Result
	calls    int
	cancelOn int // 1-based call number, 0 disables
	cancel   context.CancelFunc
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) GetPreviews(ctx context.Context, query string) ([]search.Result, error) {
	s.calls++
	if s.cancelOn > 0 && s.calls == s.cancelOn {
		s.cancel()
		return nil, ctx.Err()
	}
	out := make([]search.Result, len(s.results))
	copy(out, s.results)
	return out, nil
}

func (s *stubEngine) GetFullContent(_ context.Context, previews []search.Result) ([]search.Result, error) {
	out := make([]search.Result, len(previews))
	copy(out, previews)
	for i := range out {
		out[i].Content = out[i].Snippet
	}
	return out, nil
}

func stubResults(prefix string, n int) []search.Result {
	out := make([]search.Result, n)
	for i := range out {
		out[i] = search.Result{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Title:   fmt.Sprintf("%s result %d", prefix, i),
			Link:    fmt.Sprintf("https://example.com/%s/%d", prefix, i),
			Snippet: fmt.Sprintf("Snippet %d from %s", i, prefix),
			Source:  prefix,
		}
	}
	return out
}

func newToolkit(client llm.Client, engines ...search.Engine) *Toolkit {
	return &Toolkit{
		LLM: client,
		Runner: &search.Runner{
			Tracker: ratelimit.NewTracker(ratelimit.WithEnabled(false)),
			Metrics: metrics.NopSink{},
		},
		Engines:    engines,
		Filter:     search.NewFilter(client, 5),
		Citations:  NewCitations(client),
		Findings:   NewRepository(),
		MaxResults: 10,
	}
}

// parisRetriever serves as an offline engine for orchestrator tests.
type parisRetriever struct{}

func (parisRetriever) Retrieve(_ context.Context, query string) ([]search.Document, error) {
	return []search.Document{
		{
			Title:   "France - Factbook",
			Link:    "https://example.com/france",
			Content: "France is a country in Western Europe. The capital of France is Paris.",
		},
	}, nil
}

func TestFactoidResearch(t *testing.T) {
	search.RegisterRetriever("factbook", parisRetriever{})

	client := &llm.MockClient{
		Responses: map[string]string{
			"Classify":            "factoid",
			"Answer the question": "The capital of France is Paris [1].",
		},
	}
	o := &Orchestrator{
		LLM:     client,
		Tracker: ratelimit.NewTracker(ratelimit.WithEnabled(false)),
		Metrics: metrics.NewMemorySink(),
		Factory: &search.Factory{Registry: config.DefaultEngineRegistry(), LLM: client},
	}

	res := o.Research(context.Background(), "What is the capital of France?", Context{
		Engines: []string{"factbook"},
	})

	if res.Cancelled {
		t.Fatal("run reported cancelled")
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if !contains(res.CurrentKnowledge, "Paris") {
		t.Errorf("answer missing Paris: %q", res.CurrentKnowledge)
	}
	if len(res.Links) < 1 {
		t.Error("no citations issued")
	}
	if len(res.Findings) != 1 {
		t.Errorf("got %d findings, want 1", len(res.Findings))
	}
	if res.ResearchID == "" {
		t.Error("no research ID assigned")
	}
}

func TestReasoningConverges(t *testing.T) {
	client := &llm.MockClient{
		ResponseQueue: []string{
			`{"next_search_query": "hikers frozen glacier identified", "extracted_facts": ["the couple disappeared in 1942"], "updated_candidates": [{"answer": "Marcelin and Francine Dumoulin", "confidence": 0.5}], "remaining_uncertainties": ["year of discovery"], "confidence": 0.5}`,
			`{"next_search_query": "", "extracted_facts": ["the bodies were found in 2017"], "updated_candidates": [{"answer": "Marcelin and Francine Dumoulin", "confidence": 0.9}], "remaining_uncertainties": [], "confidence": 0.9}`,
		},
	}
	eng := &stubEngine{name: "stub", results: stubResults("stub", 3)}
	s := NewReasoningStrategy(newToolkit(client, eng))

	res, err := s.AnalyzeTopic(context.Background(), "Which couple vanished on an alpine hike and was found decades later?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations > 8 {
		t.Errorf("iterations = %d, exceeds cap", res.Iterations)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if res.Confidence < 0.85 {
		t.Errorf("confidence %.2f below threshold without label", res.Confidence)
	}
	if !contains(res.CurrentKnowledge, "Dumoulin") {
		t.Errorf("best candidate missing: %q", res.CurrentKnowledge)
	}
}

func TestReasoningLabelsLowConfidence(t *testing.T) {
	// Model stops proposing queries while still unsure.
	client := &llm.MockClient{
		ResponseQueue: []string{
			`{"next_search_query": "", "extracted_facts": [], "updated_candidates": [{"answer": "maybe this", "confidence": 0.4}], "remaining_uncertainties": ["everything"], "confidence": 0.4}`,
		},
	}
	eng := &stubEngine{name: "stub", results: stubResults("stub", 2)}
	s := NewReasoningStrategy(newToolkit(client, eng))

	res, err := s.AnalyzeTopic(context.Background(), "obscure question")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(res.CurrentKnowledge, "below threshold") {
		t.Errorf("low-confidence answer not labeled: %q", res.CurrentKnowledge)
	}
}

func TestCancellationMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &llm.MockClient{
		ResponseQueue: []string{
			`{"next_search_query": "q2", "extracted_facts": ["f1"], "updated_candidates": [], "remaining_uncertainties": [], "confidence": 0.2}`,
			`{"next_search_query": "q3", "extracted_facts": ["f2"], "updated_candidates": [], "remaining_uncertainties": [], "confidence": 0.3}`,
		},
	}
	// Cancellation fires during iteration 3's search.
	eng := &stubEngine{name: "stub", results: stubResults("stub", 2), cancelOn: 3, cancel: cancel}
	s := NewReasoningStrategy(newToolkit(client, eng))
	s.MaxIterations = 5

	res, err := s.AnalyzeTopic(ctx, "question")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled {
		t.Error("result not marked cancelled")
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 completed", res.Iterations)
	}
	if got := len(res.Findings); got != 2 {
		t.Errorf("got %d findings, want 2 completed", got)
	}
}

func TestOrchestratorNeverErrors(t *testing.T) {
	o := &Orchestrator{
		Factory: &search.Factory{Registry: config.DefaultEngineRegistry()},
		Tracker: ratelimit.NewTracker(ratelimit.WithEnabled(false)),
	}

	// Empty query.
	res := o.Research(context.Background(), "   ", Context{})
	if !contains(res.CurrentKnowledge, "Error:") {
		t.Errorf("empty query result: %q", res.CurrentKnowledge)
	}
	if len(res.Findings) != 1 || res.Findings[0].Phase != PhaseError {
		t.Errorf("no error finding: %+v", res.Findings)
	}

	// Unknown strategy.
	res = o.Research(context.Background(), "q", Context{Strategy: "nonsense"})
	if !contains(res.CurrentKnowledge, "Error:") {
		t.Errorf("unknown strategy result: %q", res.CurrentKnowledge)
	}
}

func TestCitationStability(t *testing.T) {
	c := NewCitations(nil)

	batch1 := c.Assign([]search.Result{
		{Title: "A", Link: "https://a.example"},
		{Title: "B", Link: "https://b.example"},
	})
	if batch1[0].Index != 1 || batch1[1].Index != 2 {
		t.Fatalf("first batch indices: %d, %d", batch1[0].Index, batch1[1].Index)
	}

	// Reuse for a seen link, next integer for a new one.
	batch2 := c.Assign([]search.Result{
		{Title: "B again", Link: "https://b.example"},
		{Title: "C", Link: "https://c.example"},
	})
	if batch2[0].Index != 2 {
		t.Errorf("repeated link got index %d, want 2", batch2[0].Index)
	}
	if batch2[1].Index != 3 {
		t.Errorf("new link got index %d, want 3", batch2[1].Index)
	}

	// Idempotent on the same link set.
	batch3 := c.Assign([]search.Result{{Title: "B", Link: "https://b.example"}})
	if batch3[0].Index != 2 {
		t.Errorf("assignment not idempotent: %d", batch3[0].Index)
	}

	links := c.Links()
	if len(links) != 3 || links[0] != "https://a.example" || links[2] != "https://c.example" {
		t.Errorf("links out of order: %v", links)
	}
}

func TestRouterRedispatchesAtMostOnce(t *testing.T) {
	tk := newToolkit(&llm.MockClient{Default: "research"})

	primary := &countingStrategy{name: "primary", confidence: 0.1}
	fallback := &countingStrategy{name: "fallback", confidence: 0.15}
	r := &SmartRouter{
		tk:         tk,
		direct:     primary,
		reasoning:  fallback,
		decompose:  primary,
		sourceBase: primary,
	}

	res, err := r.AnalyzeTopic(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if primary.calls != 1 {
		t.Errorf("primary dispatched %d times, want 1", primary.calls)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback dispatched %d times, want 1", fallback.calls)
	}
	// Both below the floor, but no third dispatch: best result wins.
	if res.Confidence != 0.15 {
		t.Errorf("result confidence %.2f, want the better attempt", res.Confidence)
	}
}

type countingStrategy struct {
	name       string
	confidence float64
	calls      int
}

func (c *countingStrategy) Name() string { return c.name }

func (c *countingStrategy) AnalyzeTopic(context.Context, string) (*Result, error) {
	c.calls++
	return &Result{Strategy: c.name, Confidence: c.confidence}, nil
}

func TestKnowledgeStateMerge(t *testing.T) {
	k := &KnowledgeState{}
	k.MergeCandidates([]Candidate{
		{Answer: "The Dumoulins.", Confidence: 0.4},
		{Answer: "someone else", Confidence: 0.3},
	})
	k.MergeCandidates([]Candidate{
		{Answer: "the dumoulins", Confidence: 0.8}, // same answer, normalized
	})

	if len(k.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(k.Candidates))
	}
	best, ok := k.Best()
	if !ok || best.Confidence != 0.8 {
		t.Errorf("best = %+v", best)
	}

	k.AddFacts([]string{"fact one", "fact one", "  "})
	if len(k.KeyFacts) != 1 {
		t.Errorf("facts not deduplicated: %v", k.KeyFacts)
	}
}

func TestFindingsRepositoryFormat(t *testing.T) {
	r := NewRepository()
	r.Add(Finding{Phase: PhaseIteration, Question: "q1", Content: "first"})
	r.Add(Finding{Phase: PhaseSynthesis, Question: "q2", Content: "second"})
	r.AddDocuments([]search.Document{{Title: "doc", Link: "https://d.example"}})

	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	out := r.Format("the answer")
	if !strings.HasPrefix(out, "the answer") {
		t.Errorf("knowledge not leading: %q", out)
	}
	if !contains(out, "## Finding 1 (iteration)") || !contains(out, "## Finding 2 (synthesis)") {
		t.Errorf("findings not numbered in order: %q", out)
	}
	if strings.Index(out, "first") > strings.Index(out, "second") {
		t.Error("findings out of append order")
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

func TestReasoningStopsOnRepeatedEmptyResults(t *testing.T) {
	// The model keeps proposing the same query and the engine keeps
	// returning nothing: the loop must stop on the second empty round
	// with that query, not grind through the iteration cap.
	client := &llm.MockClient{
		Default: `{"next_search_query": "dead end", "extracted_facts": [], "updated_candidates": [], "remaining_uncertainties": [], "confidence": 0.1}`,
	}
	eng := &stubEngine{name: "stub"}
	s := NewReasoningStrategy(newToolkit(client, eng))

	res, err := s.AnalyzeTopic(context.Background(), "unanswerable question")
	if err != nil {
		t.Fatal(err)
	}
	// Iteration 1 searches the original query, 2 and 3 the repeated one.
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if eng.calls != 3 {
		t.Errorf("engine called %d times, want 3", eng.calls)
	}
	if client.CallCount() != 2 {
		t.Errorf("model called %d times, want 2", client.CallCount())
	}
}

func TestDecomposeStopsOnRepeatedEmptyResults(t *testing.T) {
	client := &llm.MockClient{
		Responses: map[string]string{
			"Pick the single best next action": `{"action": "propose_candidates", "query": "ghost ship 1882", "candidate": "", "confidence": 0.1}`,
			"Propose candidate answers":        `[]`,
		},
	}
	eng := &stubEngine{name: "stub"}
	s := NewDecomposeStrategy(newToolkit(client, eng))

	res, err := s.AnalyzeTopic(context.Background(), "which ghost ship was found in 1882?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if eng.calls != 2 {
		t.Errorf("engine called %d times, want 2", eng.calls)
	}
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	// A nil factory makes toolkit construction panic; the caller still
	// gets a structured error result.
	o := &Orchestrator{
		Tracker: ratelimit.NewTracker(ratelimit.WithEnabled(false)),
	}

	res := o.Research(context.Background(), "q", Context{Engines: []string{"duckduckgo"}})
	if res == nil {
		t.Fatal("nil result after panic")
	}
	if !strings.HasPrefix(res.CurrentKnowledge, "Error:") {
		t.Errorf("panic not converted to error result: %q", res.CurrentKnowledge)
	}
	if len(res.Findings) != 1 || res.Findings[0].Phase != PhaseError {
		t.Errorf("no error finding: %+v", res.Findings)
	}
	if res.ResearchID == "" {
		t.Error("no research ID assigned")
	}
}

func TestSourceBasedHonorsQuestionCount(t *testing.T) {
	client := &llm.MockClient{
		Responses: map[string]string{
			"complementary web search queries": `["alpha query", "beta query", "gamma query"]`,
			"Answer the question":              "Merged answer [1].",
		},
	}
	eng := &stubEngine{name: "stub", results: stubResults("stub", 2)}
	tk := newToolkit(client, eng)
	tk.Questions = 2
	tk.WorkerPool = 1 // keep the unsynchronized stub engine sequential
	s := NewSourceBasedStrategy(tk)

	res, err := s.AnalyzeTopic(context.Background(), "broad question")
	if err != nil {
		t.Fatal(err)
	}
	queries := res.QuestionsByIteration[1]
	if len(queries) != 2 {
		t.Fatalf("ran %d sub-queries, want 2: %v", len(queries), queries)
	}
	if queries[0] != "alpha query" || queries[1] != "beta query" {
		t.Errorf("wrong sub-queries kept: %v", queries)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	s := "日本語のテキスト"
	for limit := 0; limit <= len(s); limit++ {
		got := truncate(s, limit)
		if !utf8.ValidString(got) {
			t.Errorf("limit %d produced invalid UTF-8: %q", limit, got)
		}
		if len(got) > limit {
			t.Errorf("limit %d returned %d bytes", limit, len(got))
		}
	}
	if got := truncate("short", 100); got != "short" {
		t.Errorf("short string altered: %q", got)
	}
}
