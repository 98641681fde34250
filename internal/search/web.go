package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"deepresearch/internal/logging"
)

// WebParams carries the locale and safe-search settings shared by the
// web adapters. Empty fields leave the provider defaults in place;
// SafeSearch holds "true" or "false" when configured.
type WebParams struct {
	Region     string
	Language   string
	SafeSearch string
}

var (
	// DuckDuckGo's HTML endpoint wraps result links in a redirect with the
	// target in the uddg parameter.
	anchorRe  = regexp.MustCompile(`(?is)<a[^>]+class="[^"]*result[^"]*"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`(?is)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
)

func stripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

// BraveEngine queries the Brave Search API.
type BraveEngine struct {
	apiKey     string
	maxResults int
	params     WebParams
	baseURL    string
	client     *http.Client
}

// NewBraveEngine requires a subscription token; without one the factory
// reports the engine unavailable instead of constructing it.
func NewBraveEngine(apiKey string, maxResults int, params WebParams) *BraveEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &BraveEngine{
		apiKey:     apiKey,
		maxResults: maxResults,
		params:     params,
		baseURL:    "https://api.search.brave.com/res/v1/web/search",
		client:     newHTTPClient(0),
	}
}

func (e *BraveEngine) Name() string { return "brave" }

func (e *BraveEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(e.maxResults))
	if e.params.Region != "" {
		q.Set("country", e.params.Region)
	}
	if e.params.Language != "" {
		q.Set("search_lang", e.params.Language)
	}
	switch e.params.SafeSearch {
	case "true":
		q.Set("safesearch", "strict")
	case "false":
		q.Set("safesearch", "off")
	}
	u := e.baseURL + "?" + q.Encode()
	header := http.Header{}
	header.Set("X-Subscription-Token", e.apiKey)
	header.Set("Accept", "application/json")

	body, err := httpGet(ctx, e.client, e.Name(), u, header)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("brave: failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(resp.Web.Results))
	for i, r := range resp.Web.Results {
		if i >= e.maxResults {
			break
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("brave-%d", i),
			Title:   r.Title,
			Link:    r.URL,
			Snippet: stripTags(r.Description),
			Source:  e.Name(),
		})
	}
	return results, nil
}

func (e *BraveEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	return fetchAll(ctx, e.client, e.Name(), previews)
}

// GooglePSEEngine queries a Google Programmable Search Engine. Pagination
// uses the start parameter in steps of 10 until maxResults is reached.
type GooglePSEEngine struct {
	apiKey     string
	searchID   string
	maxResults int
	params     WebParams
	baseURL    string
	client     *http.Client
}

func NewGooglePSEEngine(apiKey, searchID string, maxResults int, params WebParams) *GooglePSEEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &GooglePSEEngine{
		apiKey:     apiKey,
		searchID:   searchID,
		maxResults: maxResults,
		params:     params,
		baseURL:    "https://www.googleapis.com/customsearch/v1",
		client:     newHTTPClient(0),
	}
}

func (e *GooglePSEEngine) Name() string { return "google_pse" }

func (e *GooglePSEEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	var results []Result
	for start := 1; len(results) < e.maxResults; start += 10 {
		q := url.Values{}
		q.Set("key", e.apiKey)
		q.Set("cx", e.searchID)
		q.Set("q", query)
		q.Set("start", strconv.Itoa(start))
		if e.params.Region != "" {
			q.Set("gl", e.params.Region)
		}
		if e.params.Language != "" {
			q.Set("lr", e.params.Language)
		}
		switch e.params.SafeSearch {
		case "true":
			q.Set("safe", "active")
		case "false":
			q.Set("safe", "off")
		}
		u := e.baseURL + "?" + q.Encode()

		body, err := httpGet(ctx, e.client, e.Name(), u, nil)
		if err != nil {
			if len(results) > 0 {
				logging.EngineDebug("google_pse pagination stopped at %d results: %v", len(results), err)
				break
			}
			return nil, err
		}

		var resp struct {
			Items []struct {
				Title   string `json:"title"`
				Link    string `json:"link"`
				Snippet string `json:"snippet"`
			} `json:"items"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("google_pse: failed to parse response: %w", err)
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, item := range resp.Items {
			results = append(results, Result{
				ID:      fmt.Sprintf("google_pse-%d", len(results)),
				Title:   item.Title,
				Link:    item.Link,
				Snippet: item.Snippet,
				Source:  e.Name(),
			})
			if len(results) >= e.maxResults {
				break
			}
		}
	}
	return results, nil
}

func (e *GooglePSEEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	return fetchAll(ctx, e.client, e.Name(), previews)
}

// DuckDuckGoEngine scrapes the keyless HTML endpoint.
type DuckDuckGoEngine struct {
	maxResults int
	params     WebParams
	baseURL    string
	client     *http.Client
}

func NewDuckDuckGoEngine(maxResults int, params WebParams) *DuckDuckGoEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &DuckDuckGoEngine{
		maxResults: maxResults,
		params:     params,
		baseURL:    "https://html.duckduckgo.com/html/",
		client:     newHTTPClient(0),
	}
}

func (e *DuckDuckGoEngine) Name() string { return "duckduckgo" }

func (e *DuckDuckGoEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	// kl is DuckDuckGo's combined region-language code, e.g. "us-en".
	if e.params.Region != "" {
		q.Set("kl", e.params.Region)
	}
	switch e.params.SafeSearch {
	case "true":
		q.Set("kp", "1")
	case "false":
		q.Set("kp", "-2")
	}
	u := e.baseURL + "?" + q.Encode()
	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	page := string(body)
	anchors := anchorRe.FindAllStringSubmatch(page, -1)
	snippets := snippetRe.FindAllStringSubmatch(page, -1)

	var results []Result
	for _, m := range anchors {
		link := resolveUDDG(m[1])
		title := stripTags(m[2])
		if link == "" || title == "" {
			continue
		}
		res := Result{
			ID:     fmt.Sprintf("duckduckgo-%d", len(results)),
			Title:  title,
			Link:   link,
			Source: e.Name(),
		}
		if len(results) < len(snippets) {
			res.Snippet = stripTags(snippets[len(results)][1])
		}
		results = append(results, res)
		if len(results) >= e.maxResults {
			break
		}
	}
	return results, nil
}

func (e *DuckDuckGoEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	return fetchAll(ctx, e.client, e.Name(), previews)
}

// resolveUDDG unwraps DuckDuckGo's redirect URLs to the real target.
func resolveUDDG(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

// fetchAll is the shared full-content pass for web engines.
func fetchAll(ctx context.Context, client *http.Client, engine string, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)
	for i := range out {
		if err := ctx.Err(); err != nil {
			return out[:i], err
		}
		if err := fetchPageContent(ctx, client, engine, &out[i]); err != nil {
			logging.EngineDebug("%s full content for %s failed: %v", engine, out[i].Link, err)
		}
	}
	return out, nil
}
