package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

// GitHubEngine searches repositories. The natural-language query is
// rewritten into GitHub's qualifier syntax by the LLM; README content is
// fetched on demand in the second phase. Without an LLM the engine is
// unavailable and yields nothing.
type GitHubEngine struct {
	client     llm.Client
	token      string // optional, raises the rate limit
	maxResults int
	http       *http.Client
}

func NewGitHubEngine(client llm.Client, token string, maxResults int) *GitHubEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &GitHubEngine{client: client, token: token, maxResults: maxResults, http: newHTTPClient(0)}
}

func (e *GitHubEngine) Name() string { return "github" }

func (e *GitHubEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	if e.client == nil {
		return nil, nil
	}

	searchQuery, err := e.rewriteQuery(ctx, query)
	if err != nil {
		logging.EngineDebug("github query rewrite failed, using raw query: %v", err)
		searchQuery = query
	}

	u := fmt.Sprintf(
		"https://api.github.com/search/repositories?q=%s&sort=stars&per_page=%d",
		url.QueryEscape(searchQuery), e.maxResults)

	body, err := httpGet(ctx, e.http, e.Name(), u, e.header())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []struct {
			FullName    string `json:"full_name"`
			HTMLURL     string `json:"html_url"`
			Description string `json:"description"`
			Stars       int    `json:"stargazers_count"`
			Language    string `json:"language"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("github: failed to parse response: %w", err)
	}

	results := make([]Result, 0, len(resp.Items))
	for i, repo := range resp.Items {
		snippet := repo.Description
		if repo.Language != "" {
			snippet = fmt.Sprintf("%s (%s, %d stars)", repo.Description, repo.Language, repo.Stars)
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("github-%d", i),
			Title:   repo.FullName,
			Link:    repo.HTMLURL,
			Snippet: snippet,
			Score:   starScore(repo.Stars),
			Source:  e.Name(),
			Extra:   map[string]string{"full_name": repo.FullName},
		})
	}
	return results, nil
}

// rewriteQuery asks the LLM for GitHub qualifier syntax.
func (e *GitHubEngine) rewriteQuery(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`Rewrite this natural-language request as a GitHub repository
search query using GitHub's qualifier syntax (language:, stars:, topic:, in:).
Return only the query string, nothing else.

Request: %s`, query)

	resp, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(llm.StripCodeFences(resp))
	if rewritten == "" || strings.Contains(rewritten, "\n") {
		return "", fmt.Errorf("unusable rewrite: %q", rewritten)
	}
	return rewritten, nil
}

// GetFullContent fetches each repository's README.
func (e *GitHubEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	out := make([]Result, len(previews))
	copy(out, previews)

	for i := range out {
		if err := ctx.Err(); err != nil {
			return out[:i], err
		}
		fullName := out[i].Extra["full_name"]
		if fullName == "" {
			continue
		}

		body, err := httpGet(ctx, e.http, e.Name(),
			"https://api.github.com/repos/"+fullName+"/readme", e.header())
		if err != nil {
			logging.EngineDebug("github README for %s failed: %v", fullName, err)
			continue
		}

		var readme struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := json.Unmarshal(body, &readme); err != nil || readme.Encoding != "base64" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(readme.Content, "\n", ""))
		if err != nil {
			continue
		}
		content := truncateContent(string(decoded), maxContentChars)
		out[i].Content = content
		out[i].FullContent = content
	}
	return out, nil
}

func (e *GitHubEngine) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	if e.token != "" {
		h.Set("Authorization", "Bearer "+e.token)
	}
	return h
}

// starScore maps a star count onto [0, 1] on a log scale; 100k stars
// saturates.
func starScore(stars int) float64 {
	if stars <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(float64(stars)+1)/5)
}
