package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

// errNoProgress stops the step loop when searches repeat without
// producing anything.
var errNoProgress = errors.New("repeated empty search results")

const (
	defaultMinConfidence = 0.8
	defaultMaxSteps      = 10
)

// Decomposition actions the controller dispatches on. The model chooses
// one per step from this closed set.
const (
	actionExtractConstraints = "extract_constraints"
	actionProposeCandidates  = "propose_candidates"
	actionVerifyCandidate    = "verify_candidate"
	actionRefineQuery        = "refine_query"
	actionConclude           = "conclude"
)

// DecomposeStrategy breaks a compound question into constraint
// extraction, candidate proposal, and verification steps, letting the
// model pick the next action each round.
type DecomposeStrategy struct {
	tk            *Toolkit
	MinConfidence float64
	MaxSteps      int
}

func NewDecomposeStrategy(tk *Toolkit) *DecomposeStrategy {
	return &DecomposeStrategy{
		tk:            tk,
		MinConfidence: defaultMinConfidence,
		MaxSteps:      defaultMaxSteps,
	}
}

func (s *DecomposeStrategy) Name() string { return "iterative-decomposition" }

// working is the decomposition strategy's mutable state.
type working struct {
	Constraints []string
	Candidates  []Candidate
	Verified    []string
	Query       string
	Confidence  float64

	lastQuery string
	lastEmpty bool
}

// stalled reports whether this search repeated the previous query and
// both rounds came back empty.
func (w *working) stalled(query string, found int) bool {
	empty := found == 0
	repeat := empty && w.lastEmpty && query == w.lastQuery
	w.lastEmpty = empty
	w.lastQuery = query
	return repeat
}

// decomposeStep is the JSON shape the model returns when picking an
// action.
type decomposeStep struct {
	Action     string  `json:"action"`
	Query      string  `json:"query"`
	Candidate  string  `json:"candidate"`
	Confidence float64 `json:"confidence"`
}

func (s *DecomposeStrategy) AnalyzeTopic(ctx context.Context, query string) (*Result, error) {
	t := s.tk
	w := &working{Query: query}

	res := &Result{
		Query:                query,
		Strategy:             s.Name(),
		QuestionsByIteration: make(map[int][]string),
	}

	for step := 1; step <= s.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			break
		}
		t.progress(fmt.Sprintf("Decomposition step %d", step), 10+80*(step-1)/s.MaxSteps, "")

		next, err := s.pickAction(ctx, query, w)
		if err != nil {
			logging.Strategy("action selection failed at step %d: %v", step, err)
			break
		}
		logging.StrategyDebug("step %d action %s", step, next.Action)

		var content string
		switch next.Action {
		case actionExtractConstraints:
			content, err = s.extractConstraints(ctx, query, w)
		case actionProposeCandidates:
			content, err = s.proposeCandidates(ctx, w, next.Query, res, step)
		case actionVerifyCandidate:
			content, err = s.verifyCandidate(ctx, w, next.Candidate, res, step)
		case actionRefineQuery:
			if next.Query != "" {
				w.Query = next.Query
			}
			content = "Refined query: " + w.Query
		case actionConclude:
			w.Confidence = clamp01(next.Confidence)
			content = "Concluded."
		default:
			err = fmt.Errorf("unknown action %q", next.Action)
		}

		res.Iterations = step
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			if errors.Is(err, errNoProgress) {
				logging.Strategy("decomposition stopped at step %d: %v", step, err)
				break
			}
			logging.Strategy("step %d (%s) failed: %v", step, next.Action, err)
			continue
		}

		t.Findings.Add(Finding{
			Phase:    PhaseIteration,
			Question: w.Query,
			Content:  fmt.Sprintf("[%s] %s", next.Action, content),
		})

		if next.Action == actionConclude || w.Confidence >= s.MinConfidence {
			break
		}
	}

	best, ok := bestOf(w.Candidates)
	switch {
	case !ok:
		res.CurrentKnowledge = "No answer found for: " + query
	default:
		res.CurrentKnowledge = best.Answer
	}
	res.Confidence = w.Confidence
	if res.Confidence == 0 && ok {
		res.Confidence = best.Confidence
	}
	res.Findings = t.Findings.All()
	res.FormattedFindings = t.Findings.Format(res.CurrentKnowledge) + "\n\n" + t.Citations.References()
	res.Links = t.Citations.Links()
	t.progress("Done", 100, "")
	return res, nil
}

// pickAction asks the model which routine to dispatch next.
func (s *DecomposeStrategy) pickAction(ctx context.Context, query string, w *working) (*decomposeStep, error) {
	if s.tk.LLM == nil {
		return nil, fmt.Errorf("no LLM configured")
	}

	var cands strings.Builder
	for _, c := range w.Candidates {
		fmt.Fprintf(&cands, "- %s (%.2f)\n", c.Answer, c.Confidence)
	}

	prompt := fmt.Sprintf(`You are decomposing the question: %s

Constraints found:
%s
Candidates:
%s
Verified facts:
%s
Current confidence: %.2f

Pick the single best next action from: extract_constraints,
propose_candidates, verify_candidate, refine_query, conclude.
Respond with ONLY this JSON object:
{"action": "...", "query": "search query if needed", "candidate": "candidate to verify if needed", "confidence": 0.0}`,
		query, bulletList(w.Constraints), cands.String(), bulletList(w.Verified), w.Confidence)

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var step decomposeStep
	if err := llm.ExtractJSONObject(resp, &step); err != nil {
		return nil, fmt.Errorf("unparseable action: %w", err)
	}
	return &step, nil
}

func (s *DecomposeStrategy) extractConstraints(ctx context.Context, query string, w *working) (string, error) {
	prompt := fmt.Sprintf(`List the distinct constraints an answer to this question must
satisfy, one per line, as a JSON array of strings: %s`, query)

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	var constraints []string
	if err := llm.ExtractJSONArray(resp, &constraints); err != nil {
		return "", fmt.Errorf("unparseable constraints: %w", err)
	}
	w.Constraints = constraints
	return fmt.Sprintf("%d constraints", len(constraints)), nil
}

func (s *DecomposeStrategy) proposeCandidates(ctx context.Context, w *working, searchQuery string, res *Result, step int) (string, error) {
	if searchQuery == "" {
		searchQuery = w.Query
	}
	results, err := s.tk.searchAndCite(ctx, searchQuery)
	if err != nil {
		return "", err
	}
	res.QuestionsByIteration[step] = []string{searchQuery}
	if w.stalled(searchQuery, len(results)) {
		return "", errNoProgress
	}

	var evidence strings.Builder
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", r.Index, r.Title, truncate(content, 800))
	}

	prompt := fmt.Sprintf(`Question: %s
Constraints:
%s
Evidence:
%s
Propose candidate answers satisfying the constraints. Respond with ONLY a
JSON array: [{"answer": "...", "confidence": 0.0}]`,
		w.Query, bulletList(w.Constraints), evidence.String())

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	var proposed []Candidate
	if err := llm.ExtractJSONArray(resp, &proposed); err != nil {
		return "", fmt.Errorf("unparseable candidates: %w", err)
	}

	ks := &KnowledgeState{Candidates: w.Candidates}
	ks.MergeCandidates(proposed)
	w.Candidates = ks.Candidates
	return fmt.Sprintf("%d candidates", len(w.Candidates)), nil
}

func (s *DecomposeStrategy) verifyCandidate(ctx context.Context, w *working, candidate string, res *Result, step int) (string, error) {
	if candidate == "" {
		if best, ok := bestOf(w.Candidates); ok {
			candidate = best.Answer
		} else {
			return "", fmt.Errorf("no candidate to verify")
		}
	}

	searchQuery := fmt.Sprintf("%s %s", candidate, strings.Join(w.Constraints, " "))
	results, err := s.tk.searchAndCite(ctx, searchQuery)
	if err != nil {
		return "", err
	}
	res.QuestionsByIteration[step] = []string{searchQuery}
	if w.stalled(searchQuery, len(results)) {
		return "", errNoProgress
	}

	var evidence strings.Builder
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", r.Index, r.Title, truncate(content, 800))
	}

	prompt := fmt.Sprintf(`Does the evidence support "%s" as the answer to: %s
Constraints:
%s
Evidence:
%s
Respond with ONLY this JSON object:
{"verified_facts": ["..."], "confidence": 0.0}`,
		candidate, w.Query, bulletList(w.Constraints), evidence.String())

	resp, err := s.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	var verdict struct {
		VerifiedFacts []string `json:"verified_facts"`
		Confidence    float64  `json:"confidence"`
	}
	if err := llm.ExtractJSONObject(resp, &verdict); err != nil {
		return "", fmt.Errorf("unparseable verification: %w", err)
	}

	w.Verified = append(w.Verified, verdict.VerifiedFacts...)
	w.Confidence = clamp01(verdict.Confidence)
	ks := &KnowledgeState{Candidates: w.Candidates}
	ks.MergeCandidates([]Candidate{{Answer: candidate, Confidence: w.Confidence}})
	w.Candidates = ks.Candidates
	return fmt.Sprintf("confidence %.2f for %q", w.Confidence, candidate), nil
}

func bestOf(cands []Candidate) (Candidate, bool) {
	ks := &KnowledgeState{Candidates: cands}
	return ks.Best()
}
