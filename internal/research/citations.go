package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/search"
)

// Citations numbers sources for one run. Indices are 1-based and
// monotonic across strategy iterations; a link seen twice keeps its first
// index. The mutex serializes index assignment so concurrent sub-queries
// still produce contiguous numbering.
type Citations struct {
	client llm.Client

	mu     sync.Mutex
	byLink map[string]int
	titles map[int]string
	next   int
}

// NewCitations creates an empty citation map for a run.
func NewCitations(client llm.Client) *Citations {
	return &Citations{
		client: client,
		byLink: make(map[string]int),
		titles: make(map[int]string),
	}
}

// Assign stamps citation indices onto a batch of results, reusing the
// existing index for links already cited. Results without a link get no
// index.
func (c *Citations) Assign(results []search.Result) []search.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]search.Result, len(results))
	copy(out, results)
	for i := range out {
		link := out[i].Link
		if link == "" {
			continue
		}
		idx, ok := c.byLink[link]
		if !ok {
			c.next++
			idx = c.next
			c.byLink[link] = idx
			c.titles[idx] = out[i].Title
		}
		out[i].Index = idx
	}
	return out
}

// Count returns the number of citations issued so far.
func (c *Citations) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Links returns every cited link ordered by citation index.
func (c *Citations) Links() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type pair struct {
		link string
		idx  int
	}
	pairs := make([]pair, 0, len(c.byLink))
	for link, idx := range c.byLink {
		pairs = append(pairs, pair{link, idx})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].idx < pairs[j].idx })

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.link
	}
	return out
}

// References renders the numbered source list for the formatted output.
func (c *Citations) References() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next == 0 {
		return ""
	}

	byIdx := make(map[int]string, len(c.byLink))
	for link, idx := range c.byLink {
		byIdx[idx] = link
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for i := 1; i <= c.next; i++ {
		title := c.titles[i]
		if title == "" {
			title = byIdx[i]
		}
		fmt.Fprintf(&sb, "[%d] %s - %s\n", i, title, byIdx[i])
	}
	return sb.String()
}

// Synthesize asks the LLM to answer the question from the cited results,
// inline-citing with the assigned indices. The results must already be
// stamped by Assign.
func (c *Citations) Synthesize(ctx context.Context, question string, results []search.Result) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("no LLM configured for synthesis")
	}

	var sb strings.Builder
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", r.Index, r.Title, content)
	}

	prompt := fmt.Sprintf(`Answer the question using ONLY the sources below.
Cite sources inline with their bracketed numbers, e.g. [1].

Question: %s

Sources:
%s`, question, sb.String())

	answer, err := c.client.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	logging.Citation("synthesized answer with %d sources", len(results))
	return strings.TrimSpace(answer), nil
}
