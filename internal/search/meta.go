package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"deepresearch/internal/logging"
)

// SearxNGEngine queries a self-hosted SearxNG metasearch instance. JSON
// output is preferred; instances with format=json disabled fall back to
// HTML scraping.
type SearxNGEngine struct {
	baseURL    string
	maxResults int
	client     *http.Client
}

// NewSearxNGEngine builds the adapter against a base URL like
// "http://localhost:8080".
func NewSearxNGEngine(baseURL string, maxResults int) *SearxNGEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &SearxNGEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		client:     newHTTPClient(0),
	}
}

func (e *SearxNGEngine) Name() string { return "searxng" }

type searxResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (e *SearxNGEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf("%s/search?q=%s&format=json", e.baseURL, url.QueryEscape(query))
	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	var resp searxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Some instances disable the JSON format; scrape the HTML page.
		logging.EngineDebug("searxng JSON parse failed, trying HTML: %v", err)
		return e.previewsFromHTML(ctx, query)
	}

	results := make([]Result, 0, len(resp.Results))
	for i, r := range resp.Results {
		if i >= e.maxResults {
			break
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("searxng-%d", i),
			Title:   r.Title,
			Link:    r.URL,
			Snippet: r.Content,
			Score:   r.Score,
			Source:  e.Name(),
		})
	}
	return results, nil
}

func (e *SearxNGEngine) previewsFromHTML(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf("%s/search?q=%s", e.baseURL, url.QueryEscape(query))
	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	links := anchorRe.FindAllStringSubmatch(string(body), -1)
	var results []Result
	for _, m := range links {
		href, title := m[1], stripTags(m[2])
		if !strings.HasPrefix(href, "http") || title == "" {
			continue
		}
		results = append(results, Result{
			ID:     fmt.Sprintf("searxng-%d", len(results)),
			Title:  title,
			Link:   href,
			Source: e.Name(),
		})
		if len(results) >= e.maxResults {
			break
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("searxng: no results parsed from HTML")
	}
	return results, nil
}

// GetFullContent downloads each preview's page and extracts readable text.
func (e *SearxNGEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	return fetchAll(ctx, e.client, e.Name(), previews)
}
