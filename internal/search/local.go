package search

import (
	"context"
	"fmt"
	"path/filepath"

	"deepresearch/internal/index"
)

// LocalEngine serves results from the local embedding index. Previews
// carry the chunk content so the second phase needs no further I/O, and
// similarity order makes the LLM relevance filter redundant.
type LocalEngine struct {
	searcher   *index.Searcher
	collection string // empty searches all collections
	maxResults int
	threshold  float64
}

func NewLocalEngine(searcher *index.Searcher, collection string, maxResults int, threshold float64) *LocalEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &LocalEngine{
		searcher:   searcher,
		collection: collection,
		maxResults: maxResults,
		threshold:  threshold,
	}
}

func (e *LocalEngine) Name() string { return "local" }

// PreRanked tells the runner to skip the LLM relevance filter.
func (e *LocalEngine) PreRanked() bool { return true }

func (e *LocalEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	hits, err := e.searcher.Search(ctx, e.collection, query, e.maxResults, e.threshold)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for i, h := range hits {
		snippet := h.Content
		if len(snippet) > filterSnippetLength {
			snippet = truncateContent(snippet, filterSnippetLength)
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("local-%d", i),
			Title:   h.RelPath,
			Link:    "file://" + filepath.Join(h.Folder, h.RelPath),
			Snippet: snippet,
			Score:   h.Similarity,
			Source:  e.Name(),
			Extra: map[string]string{
				"full_content": h.Content,
				"collection":   h.Collection,
				"chunk_id":     h.ChunkID,
			},
		})
	}
	return results, nil
}

// GetFullContent promotes the chunk text carried on the preview.
func (e *LocalEngine) GetFullContent(_ context.Context, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)
	for i := range out {
		content := out[i].Extra["full_content"]
		if content == "" {
			content = out[i].Snippet
		}
		out[i].Content = content
		out[i].FullContent = content
	}
	return out, nil
}
