package search

import (
	"context"
	"fmt"
	"sync"
)

// Retriever is the externally-supplied document source installed via
// RegisterRetriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// RetrieverEngine wraps a Retriever behind the engine contract. Documents
// arrive pre-ranked and with their content, so both the relevance filter
// and the second phase are no-ops.
type RetrieverEngine struct {
	name       string
	retriever  Retriever
	maxResults int
}

func NewRetrieverEngine(name string, r Retriever, maxResults int) *RetrieverEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &RetrieverEngine{name: name, retriever: r, maxResults: maxResults}
}

func (e *RetrieverEngine) Name() string    { return e.name }
func (e *RetrieverEngine) PreRanked() bool { return true }

func (e *RetrieverEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	docs, err := e.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(docs))
	for i, d := range docs {
		if i >= e.maxResults {
			break
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("%s-%d", e.name, i),
			Title:   d.Title,
			Link:    d.Link,
			Snippet: truncateContent(d.Content, filterSnippetLength),
			Source:  e.name,
			Extra:   map[string]string{"full_content": d.Content},
		})
	}
	return results, nil
}

func (e *RetrieverEngine) GetFullContent(_ context.Context, previews []Result) ([]Result, error) {
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

var (
	retrieverMu sync.RWMutex
	retrievers  = make(map[string]Retriever)
)

// RegisterRetriever installs an external retriever as a named engine.
// Thread-safe; overwrites on name collision.
func RegisterRetriever(name string, r Retriever) {
	retrieverMu.Lock()
	defer retrieverMu.Unlock()
	retrievers[name] = r
}

// LookupRetriever returns a registered retriever by name.
func LookupRetriever(name string) (Retriever, bool) {
	retrieverMu.RLock()
	defer retrieverMu.RUnlock()
	r, ok := retrievers[name]
	return r, ok
}
