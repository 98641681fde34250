// Package search implements the two-phase search-engine contract: cheap
// previews, an LLM relevance filter, then full-content retrieval, all
// wrapped in a tracker-paced retry loop. Engine adapters for the concrete
// back-ends live alongside the contract.
package search

// Result is one search result. The preview form carries title, link, and
// snippet; GetFullContent upgrades it in place with Content/FullContent.
// ID is engine-local and stable within a run.
type Result struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Link    string  `json:"link"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score,omitempty"`

	// Index is the citation-facing rank stamped by the cross-engine
	// filter; zero means unstamped.
	Index int `json:"index,omitempty"`

	// Content and FullContent are populated by the second phase.
	Content     string `json:"content,omitempty"`
	FullContent string `json:"full_content,omitempty"`

	// Extra carries adapter-private payloads between the two phases
	// (for example a local-index chunk kept from the preview pass).
	Extra map[string]string `json:"-"`
}

// Document is what an external retriever returns; the retriever adapter
// maps these into Results.
type Document struct {
	Title    string
	Link     string
	Content  string
	Metadata map[string]string
}
