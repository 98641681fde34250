package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"deepresearch/internal/logging"
)

// WaybackEngine searches archived snapshots via the Wayback CDX API. A
// free-text query is first resolved to URLs through a resolver engine;
// without one, free-text queries return nothing.
type WaybackEngine struct {
	resolver   Engine // nil when no web engine is available
	maxResults int
	fromDate   string // yyyymmdd, optional
	toDate     string
	cdxBase    string
	client     *http.Client

	// The missing-resolver condition is reported once per run, not per
	// query.
	resolverWarn sync.Once
}

func NewWaybackEngine(resolver Engine, maxResults int, fromDate, toDate string) *WaybackEngine {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &WaybackEngine{
		resolver:   resolver,
		maxResults: maxResults,
		fromDate:   fromDate,
		toDate:     toDate,
		cdxBase:    "https://web.archive.org/cdx/search/cdx",
		client:     newHTTPClient(0),
	}
}

func (e *WaybackEngine) Name() string { return "wayback" }

func (e *WaybackEngine) GetPreviews(ctx context.Context, query string) ([]Result, error) {
	targets := []string{query}
	if !looksLikeURL(query) {
		resolved, err := e.resolveQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		targets = resolved
	}

	var results []Result
	for _, target := range targets {
		snaps, err := e.snapshots(ctx, target)
		if err != nil {
			logging.EngineDebug("wayback lookup for %s failed: %v", target, err)
			continue
		}
		results = append(results, snaps...)
		if len(results) >= e.maxResults {
			results = results[:e.maxResults]
			break
		}
	}

	for i := range results {
		results[i].ID = fmt.Sprintf("wayback-%d", i)
	}
	return results, nil
}

// resolveQuery turns free text into candidate URLs via the resolver
// engine's previews.
func (e *WaybackEngine) resolveQuery(ctx context.Context, query string) ([]string, error) {
	if e.resolver == nil {
		e.resolverWarn.Do(func() {
			err := &ConfigError{Engine: e.Name(), Reason: "free-text query needs a web engine to resolve URLs"}
			logging.EngineWarn("%v", err)
		})
		return nil, nil
	}

	previews, err := e.resolver.GetPreviews(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("wayback: URL resolution failed: %w", err)
	}

	urls := make([]string, 0, 3)
	for _, p := range previews {
		if p.Link == "" {
			continue
		}
		urls = append(urls, p.Link)
		if len(urls) == 3 {
			break
		}
	}
	return urls, nil
}

// snapshots queries the CDX index for one URL.
func (e *WaybackEngine) snapshots(ctx context.Context, target string) ([]Result, error) {
	u := fmt.Sprintf(
		"%s?url=%s&output=json&limit=%d&filter=statuscode:200&collapse=digest",
		e.cdxBase, url.QueryEscape(target), e.maxResults)
	if e.fromDate != "" {
		u += "&from=" + e.fromDate
	}
	if e.toDate != "" {
		u += "&to=" + e.toDate
	}

	body, err := httpGet(ctx, e.client, e.Name(), u, nil)
	if err != nil {
		return nil, err
	}

	// CDX JSON output: first row is the field header.
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("wayback: failed to parse CDX response: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[name] = i
	}
	tsCol, okTS := cols["timestamp"]
	urlCol, okURL := cols["original"]
	if !okTS || !okURL {
		return nil, fmt.Errorf("wayback: unexpected CDX header: %v", rows[0])
	}

	results := make([]Result, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= tsCol || len(row) <= urlCol {
			continue
		}
		ts, original := row[tsCol], row[urlCol]
		results = append(results, Result{
			Title:   fmt.Sprintf("Archived %s (%s)", original, formatCDXTimestamp(ts)),
			Link:    fmt.Sprintf("https://web.archive.org/web/%s/%s", ts, original),
			Snippet: "Wayback Machine snapshot of " + original,
			Source:  e.Name(),
		})
	}
	return results, nil
}

// GetFullContent downloads the archived page text.
func (e *WaybackEngine) GetFullContent(ctx context.Context, previews []Result) ([]Result, error) {
	return fetchAll(ctx, e.client, e.Name(), previews)
}

func looksLikeURL(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	return !strings.Contains(s, " ") && strings.Contains(s, ".")
}

func formatCDXTimestamp(ts string) string {
	if len(ts) < 8 {
		return ts
	}
	return ts[:4] + "-" + ts[4:6] + "-" + ts[6:8]
}
