package search

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

const (
	// Prompt construction caps: at most this many previews in the
	// numbered context, snippets truncated to this many characters.
	filterMaxItems      = 30
	filterSnippetLength = 300

	// Below this many combined previews the cross-engine filter skips
	// the LLM pass entirely; ranking a handful is not worth a call.
	crossFilterMinPreviews = 10

	defaultMaxFiltered = 5
)

// Filter ranks and culls previews with the LLM. A nil client degrades to
// identity: previews pass through untouched.
type Filter struct {
	client      llm.Client
	maxFiltered int
}

// NewFilter builds a relevance filter. maxFiltered <= 0 uses the default
// cap of 5.
func NewFilter(client llm.Client, maxFiltered int) *Filter {
	if maxFiltered <= 0 {
		maxFiltered = defaultMaxFiltered
	}
	return &Filter{client: client, maxFiltered: maxFiltered}
}

// ForRelevance is the per-engine filter: rank previews against the query
// and keep the most relevant, capped at max_filtered_results. On any LLM
// or parse failure the top previews pass through in original order.
func (f *Filter) ForRelevance(ctx context.Context, query string, previews []Result) []Result {
	if f.client == nil || len(previews) <= 1 {
		return f.cap(previews)
	}

	indices, err := f.rank(ctx, query, previews)
	if err != nil {
		logging.Filter("relevance ranking failed, keeping top previews: %v", err)
		return f.cap(previews)
	}
	if len(indices) == 0 {
		logging.FilterDebug("model kept no previews for %q", query)
		return nil
	}

	out := make([]Result, 0, len(indices))
	for _, i := range indices {
		out = append(out, previews[i])
	}
	return f.cap(out)
}

// CrossOptions controls the cross-engine filter pass.
type CrossOptions struct {
	// Reorder applies the LLM ranking order to the kept set.
	Reorder bool
	// Reindex restamps Index as StartIndex+1, +2, ... over kept items.
	Reindex bool
	// StartIndex is the number of citations already issued in the run.
	StartIndex int
	// MaxResults truncates the kept set; <= 0 means no truncation.
	MaxResults int
}

// CrossEngine filters the concatenated previews of multiple engines.
// Duplicate links are collapsed first. With few previews or no LLM the
// pass degrades to truncate-and-restamp.
func (f *Filter) CrossEngine(ctx context.Context, query string, previews []Result, opts CrossOptions) []Result {
	previews = dedupeByLink(previews)

	kept := previews
	if f.client != nil && len(previews) > crossFilterMinPreviews {
		indices, err := f.rank(ctx, query, previews)
		if err != nil {
			logging.Filter("cross-engine ranking failed, keeping originals: %v", err)
		} else if len(indices) > 0 {
			if opts.Reorder {
				kept = make([]Result, 0, len(indices))
				for _, i := range indices {
					kept = append(kept, previews[i])
				}
			} else {
				// Keep the model's selection in original order.
				selected := make(map[int]bool, len(indices))
				for _, i := range indices {
					selected[i] = true
				}
				kept = make([]Result, 0, len(indices))
				for i, p := range previews {
					if selected[i] {
						kept = append(kept, p)
					}
				}
			}
		}
	}

	if opts.MaxResults > 0 && len(kept) > opts.MaxResults {
		kept = kept[:opts.MaxResults]
	}
	if opts.Reindex {
		for i := range kept {
			kept[i].Index = opts.StartIndex + i + 1
		}
	}
	return kept
}

// rank asks the LLM for a JSON array of preview indices ranked most to
// least relevant.
func (f *Filter) rank(ctx context.Context, query string, previews []Result) ([]int, error) {
	n := len(previews)
	if n > filterMaxItems {
		n = filterMaxItems
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		p := previews[i]
		snippet := p.Snippet
		if len(snippet) > filterSnippetLength {
			snippet = truncateContent(snippet, filterSnippetLength)
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i, p.Title, snippet)
	}

	prompt := fmt.Sprintf(`You are ranking search results for the query: %q

Results:
%s
Return ONLY a JSON array of the indices of relevant results, ordered from
most to least relevant. Exclude irrelevant results. Example: [2, 0, 5]`,
		query, sb.String())

	resp, err := f.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("relevance filter LLM call failed: %w", err)
	}
	return llm.ExtractIndices(resp, n)
}

func (f *Filter) cap(previews []Result) []Result {
	if len(previews) > f.maxFiltered {
		return previews[:f.maxFiltered]
	}
	return previews
}

// dedupeByLink drops later previews whose link was already seen. Results
// without a link are kept as-is.
func dedupeByLink(previews []Result) []Result {
	seen := make(map[string]bool, len(previews))
	out := make([]Result, 0, len(previews))
	for _, p := range previews {
		if p.Link != "" {
			if seen[p.Link] {
				continue
			}
			seen[p.Link] = true
		}
		out = append(out, p)
	}
	return out
}
