package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxPageBytes    = 1 << 20 // 1 MiB per fetched page
	maxContentChars = 8000
	userAgent       = "deepresearch/1.0"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|nav|header|footer|aside)[^>]*>.*?</\s*(script|style|nav|header|footer|aside)\s*>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
	spaceRe  = regexp.MustCompile(`[ \t]{2,}`)
)

// newHTTPClient builds the pooled client shared by one adapter instance.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// httpGet performs a GET with the standard headers and maps throttling
// statuses to RateLimitError.
func httpGet(ctx context.Context, client *http.Client, engine, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &RateLimitError{Engine: engine, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Engine: engine, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: unexpected HTTP %d", engine, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// extractMainContent strips boilerplate markup from an HTML page and
// returns readable text.
func extractMainContent(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
	).Replace(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	out := strings.Join(lines, "\n")
	out = blankRe.ReplaceAllString(out, "\n\n")
	return truncateContent(out, maxContentChars)
}

// truncateContent cuts text at the last sentence or word boundary before
// the limit, never splitting a rune.
func truncateContent(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]
	if i := strings.LastIndex(cut, ". "); i > limit/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		return cut[:i]
	}
	return cut
}

// fetchPageContent downloads a result's page and fills Content/FullContent.
// Failures leave the preview untouched.
func fetchPageContent(ctx context.Context, client *http.Client, engine string, res *Result) error {
	if res.Link == "" {
		return nil
	}
	body, err := httpGet(ctx, client, engine, res.Link, nil)
	if err != nil {
		return err
	}
	content := extractMainContent(string(body))
	if content == "" {
		content = res.Snippet
	}
	res.Content = content
	res.FullContent = content
	return nil
}
