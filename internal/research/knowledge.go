package research

import "strings"

// Candidate is one possible answer with the model's confidence in it.
type Candidate struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// KnowledgeState is the iterative-reasoning strategy's running belief:
// what is known, what might be the answer, and what is still unclear.
type KnowledgeState struct {
	KeyFacts      []string
	Candidates    []Candidate
	Uncertainties []string
	SearchHistory []string
	Iteration     int
	Confidence    float64
}

// MergeCandidates folds new candidates into the state, deduplicating on
// the normalized answer and keeping the highest confidence seen.
func (k *KnowledgeState) MergeCandidates(incoming []Candidate) {
	for _, nc := range incoming {
		nc.Confidence = clamp01(nc.Confidence)
		key := normalizeAnswer(nc.Answer)
		if key == "" {
			continue
		}

		merged := false
		for i := range k.Candidates {
			if normalizeAnswer(k.Candidates[i].Answer) == key {
				if nc.Confidence > k.Candidates[i].Confidence {
					k.Candidates[i] = nc
				}
				merged = true
				break
			}
		}
		if !merged {
			k.Candidates = append(k.Candidates, nc)
		}
	}
}

// AddFacts appends facts not already known (exact match).
func (k *KnowledgeState) AddFacts(facts []string) {
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" || containsString(k.KeyFacts, f) {
			continue
		}
		k.KeyFacts = append(k.KeyFacts, f)
	}
}

// Best returns the highest-confidence candidate.
func (k *KnowledgeState) Best() (Candidate, bool) {
	if len(k.Candidates) == 0 {
		return Candidate{}, false
	}
	best := k.Candidates[0]
	for _, c := range k.Candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}

// normalizeAnswer makes candidate answers comparable: lowercase, trimmed,
// trailing sentence punctuation stripped, inner whitespace collapsed.
func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".,;:!?")
	return strings.Join(strings.Fields(s), " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
