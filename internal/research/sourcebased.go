package research

import (
	"context"
	"fmt"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/search"
)

const defaultSubQueries = 3

// SourceBasedStrategy fans a set of generated sub-queries out in
// parallel, filters the accumulated previews once across all engines,
// and synthesizes a single answer from the merged sources.
type SourceBasedStrategy struct {
	tk         *Toolkit
	SubQueries int
}

func NewSourceBasedStrategy(tk *Toolkit) *SourceBasedStrategy {
	n := defaultSubQueries
	if tk.Questions > 0 {
		n = tk.Questions
	}
	return &SourceBasedStrategy{tk: tk, SubQueries: n}
}

func (s *SourceBasedStrategy) Name() string { return "source-based" }

func (s *SourceBasedStrategy) AnalyzeTopic(ctx context.Context, query string) (*Result, error) {
	t := s.tk

	res := &Result{
		Query:                query,
		Strategy:             s.Name(),
		Iterations:           1,
		QuestionsByIteration: make(map[int][]string),
	}

	t.progress("Generating sub-queries", 5, query)
	queries := s.subQueries(ctx, query)
	res.QuestionsByIteration[1] = queries

	t.progress("Searching sources", 20, fmt.Sprintf("%d queries", len(queries)))
	all, err := t.searchParallel(ctx, queries)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		res.CurrentKnowledge = "No results found for: " + query
		res.FormattedFindings = res.CurrentKnowledge
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.progress("Filtering", 60, fmt.Sprintf("%d raw results", len(all)))
	filtered := t.Filter.CrossEngine(ctx, query, all, search.CrossOptions{
		Reorder:    true,
		Reindex:    true,
		StartIndex: t.Citations.Count(),
		MaxResults: t.MaxResults,
	})
	cited := t.Citations.Assign(filtered)
	logging.Strategy("source-based: %d raw, %d kept", len(all), len(cited))

	t.progress("Synthesizing", 80, "")
	answer, err := t.Citations.Synthesize(ctx, query, cited)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Strategy("source-based synthesis failed: %v", err)
		answer = "Sources found but synthesis unavailable for: " + query
	}

	t.Findings.Add(Finding{
		Phase:         PhaseSynthesis,
		Question:      query,
		Content:       answer,
		SearchResults: cited,
	})

	res.Findings = t.Findings.All()
	res.CurrentKnowledge = answer
	res.FormattedFindings = t.Findings.Format(answer) + "\n\n" + t.Citations.References()
	res.Links = t.Citations.Links()
	res.Confidence = 0.7
	t.progress("Done", 100, "")
	return res, nil
}

// subQueries asks the model for complementary sub-queries; on any failure
// the original query runs alone.
func (s *SourceBasedStrategy) subQueries(ctx context.Context, query string) []string {
	n := s.SubQueries
	if n <= 0 {
		n = defaultSubQueries
	}
	if s.tk.LLM == nil {
		return []string{query}
	}

	prompt := fmt.Sprintf(`Generate %d complementary web search queries that together
cover this research question. Respond with ONLY a JSON array of strings.

Question: %s`, n, query)

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return []string{query}
	}
	var queries []string
	if err := llm.ExtractJSONArray(resp, &queries); err != nil || len(queries) == 0 {
		return []string{query}
	}
	if len(queries) > n {
		queries = queries[:n]
	}
	return queries
}
