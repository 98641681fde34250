// Package research implements the strategy layer and the orchestrator:
// findings, citations, knowledge state, the strategy family, and the
// public research entry point.
package research

import (
	"fmt"
	"strings"
	"sync"

	"deepresearch/internal/search"
)

// Finding is one synthesis step's output. Findings are append-only within
// a run and emitted in strategy-dispatch order.
type Finding struct {
	Phase         string
	Question      string
	Content       string
	SearchResults []search.Result
	Documents     []search.Document
}

// Phases used across strategies.
const (
	PhaseInitial    = "initial"
	PhaseIteration  = "iteration"
	PhaseSynthesis  = "synthesis"
	PhaseConclusion = "conclusion"
	PhaseError      = "error"
)

// Repository is the run-scoped append-only findings log.
type Repository struct {
	mu       sync.Mutex
	findings []Finding
	docs     []search.Document
}

// NewRepository creates an empty findings log.
func NewRepository() *Repository {
	return &Repository{}
}

// Add appends one finding.
func (r *Repository) Add(f Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, f)
}

// AddDocuments appends retrieved documents.
func (r *Repository) AddDocuments(docs []search.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, docs...)
}

// All returns a copy of the findings in append order.
func (r *Repository) All() []Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

// Len returns the number of findings.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.findings)
}

// Format renders the findings log plus the current knowledge into the
// orchestrator's formatted return string.
func (r *Repository) Format(currentKnowledge string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	if currentKnowledge != "" {
		sb.WriteString(currentKnowledge)
		sb.WriteString("\n\n")
	}

	for i, f := range r.findings {
		fmt.Fprintf(&sb, "## Finding %d (%s)\n", i+1, f.Phase)
		if f.Question != "" {
			fmt.Fprintf(&sb, "Question: %s\n", f.Question)
		}
		sb.WriteString(f.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
