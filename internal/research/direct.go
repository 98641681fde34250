package research

import (
	"context"

	"deepresearch/internal/logging"
)

// DirectStrategy answers in a single pass: one search, one filter, one
// synthesis. The router picks it for entity and factoid queries.
type DirectStrategy struct {
	tk *Toolkit
}

func NewDirectStrategy(tk *Toolkit) *DirectStrategy {
	return &DirectStrategy{tk: tk}
}

func (s *DirectStrategy) Name() string { return "direct" }

func (s *DirectStrategy) AnalyzeTopic(ctx context.Context, query string) (*Result, error) {
	t := s.tk
	t.progress("Searching", 10, query)

	results, err := t.searchAndCite(ctx, query)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Query:                query,
		Strategy:             s.Name(),
		Iterations:           1,
		QuestionsByIteration: map[int][]string{1: {query}},
	}

	if len(results) == 0 {
		logging.Strategy("direct search for %q found nothing", query)
		res.CurrentKnowledge = "No results found for: " + query
		res.FormattedFindings = res.CurrentKnowledge
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.progress("Synthesizing", 70, "")
	answer, err := t.Citations.Synthesize(ctx, query, results)
	if err != nil {
		logging.Strategy("direct synthesis failed: %v", err)
		answer = "Sources found but synthesis unavailable for: " + query
	}

	t.Findings.Add(Finding{
		Phase:         PhaseSynthesis,
		Question:      query,
		Content:       answer,
		SearchResults: results,
	})

	res.Findings = t.Findings.All()
	res.CurrentKnowledge = answer
	res.FormattedFindings = t.Findings.Format(answer) + "\n\n" + t.Citations.References()
	res.Links = t.Citations.Links()
	res.Confidence = 0.9
	t.progress("Done", 100, "")
	return res, nil
}
