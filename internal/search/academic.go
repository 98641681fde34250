package search

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"deepresearch/internal/logging"
)

// ArxivEngine queries the arXiv Atom API. Full content returns the
// abstract; PDF extraction is deliberately out of scope.
type ArxivEngine struct {
	maxResults int
	client     *http.Client
}

func NewArxivEngine(maxResults int) *ArxivEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &ArxivEngine{maxResults: maxResults, client: newHTTPClient(0)}
}

func (e *ArxivEngine) Name() string { return "arxiv" }

type arxivFeed struct {
	Entries []struct {
		ID      string `xml:"id"`
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		Authors []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (e *ArxivEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf(
		"http://export.arxiv.org/api/query?search_query=all:%s&start=0&max_results=%d",
		url.QueryEscape(query), e.maxResults)

	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	return e.parseFeed(body)
}

func (e *ArxivEngine) parseFeed(body []byte) ([]Result, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to parse feed: %w", err)
	}

	results := make([]Result, 0, len(feed.Entries))
	for i, entry := range feed.Entries {
		snippet := strings.TrimSpace(entry.Summary)
		if len(snippet) > filterSnippetLength {
			snippet = truncateContent(snippet, filterSnippetLength)
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("arxiv-%d", i),
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			Link:    strings.TrimSpace(entry.ID),
			Snippet: snippet,
			Source:  e.Name(),
			Extra:   map[string]string{"abstract": strings.TrimSpace(entry.Summary)},
		})
	}
	return results, nil
}

// GetFullContent promotes the stored abstract; no second network pass.
func (e *ArxivEngine) GetFullContent(_ context.Context, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)
	for i := range out {
		abstract := out[i].Extra["abstract"]
		if abstract == "" {
			abstract = out[i].Snippet
		}
		out[i].Content = abstract
		out[i].FullContent = abstract
	}
	return out, nil
}

// WikipediaEngine uses the MediaWiki search and extract APIs.
type WikipediaEngine struct {
	maxResults int
	client     *http.Client
}

func NewWikipediaEngine(maxResults int) *WikipediaEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &WikipediaEngine{maxResults: maxResults, client: newHTTPClient(0)}
}

func (e *WikipediaEngine) Name() string { return "wikipedia" }

func (e *WikipediaEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf(
		"https://en.wikipedia.org/w/api.php?action=query&list=search&srsearch=%s&srlimit=%d&format=json",
		url.QueryEscape(query), e.maxResults)

	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("wikipedia: failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(resp.Query.Search))
	for i, s := range resp.Query.Search {
		results = append(results, Result{
			ID:      fmt.Sprintf("wikipedia-%d", i),
			Title:   s.Title,
			Link:    "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(s.Title, " ", "_")),
			Snippet: stripTags(s.Snippet),
			Source:  e.Name(),
		})
	}
	return results, nil
}

// GetFullContent fetches plain-text extracts for each page title.
func (e *WikipediaEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)

	for i := range out {
		if err := ctx.Err(); err != nil {
			return out[:i], err
		}
		u := fmt.Sprintf(
			"https://en.wikipedia.org/w/api.php?action=query&prop=extracts&explaintext=1&titles=%s&format=json",
			url.QueryEscape(out[i].Title))

		body, err := httpGet(ctx, e.client, e.Name(), u, nil)
		if err != nil {
			logging.EngineDebug("wikipedia extract for %q failed: %v", out[i].Title, err)
			continue
		}

		var resp struct {
			Query struct {
				Pages map[string]struct {
					Extract string `json:"extract"`
				} `json:"pages"`
			} `json:"query"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			continue
		}
		for _, page := range resp.Query.Pages {
			if page.Extract != "" {
				content := truncateContent(page.Extract, maxContentChars)
				out[i].Content = content
				out[i].FullContent = content
			}
			break
		}
	}
	return out, nil
}

// SemanticScholarEngine queries the Semantic Scholar Graph API. An API
// key raises the rate limit but is not required.
type SemanticScholarEngine struct {
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewSemanticScholarEngine(apiKey string, maxResults int) *SemanticScholarEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &SemanticScholarEngine{apiKey: apiKey, maxResults: maxResults, client: newHTTPClient(0)}
}

func (e *SemanticScholarEngine) Name() string { return "semantic_scholar" }

func (e *SemanticScholarEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf(
		"https://api.semanticscholar.org/graph/v1/paper/search?query=%s&limit=%d&fields=title,abstract,url",
		url.QueryEscape(query), e.maxResults)

	var header http.Header
	if e.apiKey != "" {
		header = http.Header{}
		header.Set("x-api-key", e.apiKey)
	}

	body, err := httpGet(ctx, e.client, e.Name(), u, header)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Title    string `json:"title"`
			Abstract string `json:"abstract"`
			URL      string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("semantic_scholar: failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(resp.Data))
	for i, p := range resp.Data {
		results = append(results, Result{
			ID:      fmt.Sprintf("semantic_scholar-%d", i),
			Title:   p.Title,
			Link:    p.URL,
			Snippet: truncateContent(p.Abstract, filterSnippetLength),
			Source:  e.Name(),
			Extra:   map[string]string{"abstract": p.Abstract},
		})
	}
	return results, nil
}

// GetFullContent promotes the stored abstract; paper PDFs are not fetched.
func (e *SemanticScholarEngine) GetFullContent(_ context.Context, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)
	for i := range out {
		abstract := out[i].Extra["abstract"]
		if abstract == "" {
			abstract = out[i].Snippet
		}
		out[i].Content = abstract
		out[i].FullContent = abstract
	}
	return out, nil
}
