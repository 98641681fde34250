package research

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/search"
)

const (
	defaultReasoningThreshold  = 0.85
	defaultReasoningIterations = 8
)

// ReasoningStrategy iterates a search/update loop over a KnowledgeState:
// each round the LLM proposes the next query and revises facts,
// candidates, and confidence. It stops at the confidence threshold, the
// iteration cap, or two consecutive empty rounds with the same query.
type ReasoningStrategy struct {
	tk            *Toolkit
	Threshold     float64
	MaxIterations int
}

func NewReasoningStrategy(tk *Toolkit) *ReasoningStrategy {
	return &ReasoningStrategy{
		tk:            tk,
		Threshold:     defaultReasoningThreshold,
		MaxIterations: defaultReasoningIterations,
	}
}

func (s *ReasoningStrategy) Name() string { return "iterative-reasoning" }

// reasoningStep is the JSON shape the model returns each iteration.
type reasoningStep struct {
	NextSearchQuery        string      `json:"next_search_query"`
	ExtractedFacts         []string    `json:"extracted_facts"`
	UpdatedCandidates      []Candidate `json:"updated_candidates"`
	RemainingUncertainties []string    `json:"remaining_uncertainties"`
	Confidence             float64     `json:"confidence"`
}

func (s *ReasoningStrategy) AnalyzeTopic(ctx context.Context, query string) (*Result, error) {
	t := s.tk
	state := &KnowledgeState{}

	res := &Result{
		Query:                query,
		Strategy:             s.Name(),
		QuestionsByIteration: make(map[int][]string),
	}

	lastQuery := ""
	lastEmpty := false
	searchQuery := query

	for state.Iteration < s.MaxIterations {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			break
		}

		iter := state.Iteration + 1
		t.progress(fmt.Sprintf("Reasoning iteration %d", iter),
			10+80*state.Iteration/s.MaxIterations, searchQuery)

		results, err := t.searchAndCite(ctx, searchQuery)
		if err != nil {
			res.Cancelled = true
			break
		}
		res.QuestionsByIteration[iter] = []string{searchQuery}
		state.SearchHistory = append(state.SearchHistory, searchQuery)

		// Livelock guard: stop as soon as the same query has come back
		// empty two rounds in a row.
		empty := len(results) == 0
		if empty && lastEmpty && searchQuery == lastQuery {
			logging.Strategy("reasoning stopped: repeated empty results for %q", searchQuery)
			state.Iteration = iter
			res.Iterations = iter
			break
		}
		lastEmpty = empty
		lastQuery = searchQuery

		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			break
		}

		step, err := s.reason(ctx, query, state, results)
		if err != nil {
			logging.Strategy("reasoning step %d failed: %v", iter, err)
			state.Iteration = iter
			res.Iterations = iter
			break
		}

		state.AddFacts(step.ExtractedFacts)
		state.MergeCandidates(step.UpdatedCandidates)
		state.Uncertainties = step.RemainingUncertainties
		state.Confidence = clamp01(step.Confidence)
		state.Iteration = iter
		res.Iterations = iter

		var content strings.Builder
		fmt.Fprintf(&content, "Confidence: %.2f\n", state.Confidence)
		if len(step.ExtractedFacts) > 0 {
			content.WriteString("Facts:\n")
			for _, f := range step.ExtractedFacts {
				content.WriteString("- " + f + "\n")
			}
		}
		t.Findings.Add(Finding{
			Phase:         PhaseIteration,
			Question:      searchQuery,
			Content:       content.String(),
			SearchResults: results,
		})

		if state.Confidence >= s.Threshold {
			logging.Strategy("reasoning converged at %.2f after %d iterations", state.Confidence, iter)
			break
		}
		if step.NextSearchQuery == "" {
			break
		}
		searchQuery = step.NextSearchQuery
	}

	s.conclude(res, state)
	return res, nil
}

// reason prompts the model with the current state and the latest results,
// expecting the reasoningStep JSON shape back.
func (s *ReasoningStrategy) reason(ctx context.Context, query string, state *KnowledgeState, results []search.Result) (*reasoningStep, error) {
	if s.tk.LLM == nil {
		return nil, fmt.Errorf("no LLM configured")
	}

	var evidence strings.Builder
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", r.Index, r.Title, truncate(content, 1000))
	}

	var candidates strings.Builder
	for _, c := range state.Candidates {
		fmt.Fprintf(&candidates, "- %s (%.2f)\n", c.Answer, c.Confidence)
	}

	prompt := fmt.Sprintf(`You are researching: %s

Known facts:
%s
Candidate answers:
%s
Open uncertainties:
%s
New evidence:
%s
Update your analysis. Respond with ONLY this JSON object:
{
  "next_search_query": "the single most useful next query, or empty if done",
  "extracted_facts": ["new facts from the evidence"],
  "updated_candidates": [{"answer": "...", "confidence": 0.0}],
  "remaining_uncertainties": ["..."],
  "confidence": 0.0
}`,
		query,
		bulletList(state.KeyFacts),
		candidates.String(),
		bulletList(state.Uncertainties),
		evidence.String())

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var step reasoningStep
	if err := llm.ExtractJSONObject(resp, &step); err != nil {
		return nil, fmt.Errorf("unparseable reasoning step: %w", err)
	}
	return &step, nil
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- " + item + "\n")
	}
	return sb.String()
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// conclude fills the final answer from the best candidate.
func (s *ReasoningStrategy) conclude(res *Result, state *KnowledgeState) {
	t := s.tk

	best, ok := state.Best()
	switch {
	case !ok:
		res.CurrentKnowledge = "No answer candidates found for: " + res.Query
	case state.Confidence >= s.Threshold:
		res.CurrentKnowledge = best.Answer
	default:
		// Below threshold the best candidate is still returned, labeled.
		res.CurrentKnowledge = fmt.Sprintf("%s (confidence %.2f, below threshold)", best.Answer, best.Confidence)
	}

	res.Confidence = state.Confidence
	res.Findings = t.Findings.All()
	res.FormattedFindings = t.Findings.Format(res.CurrentKnowledge) + "\n\n" + t.Citations.References()
	res.Links = t.Citations.Links()
	t.progress("Done", 100, "")
}
