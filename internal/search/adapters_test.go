package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestSearxNGParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "golang" {
			t.Errorf("query not forwarded: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"results": [
			{"title": "The Go Programming Language", "url": "https://go.dev", "content": "Build simple systems", "score": 9.1},
			{"title": "Go wiki", "url": "https://go.dev/wiki", "content": "Community wiki", "score": 4.2}
		]}`))
	}))
	defer srv.Close()

	eng := NewSearxNGEngine(srv.URL, 10)
	previews, err := eng.GetPreviews(context.Background(), "golang")
	if err != nil {
		t.Fatalf("previews failed: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("got %d previews, want 2", len(previews))
	}
	if previews[0].Title != "The Go Programming Language" || previews[0].Link != "https://go.dev" {
		t.Errorf("first preview wrong: %+v", previews[0])
	}
	if previews[0].Score != 9.1 {
		t.Errorf("score not carried: %v", previews[0].Score)
	}
}

func TestSearxNGRateLimitSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	eng := NewSearxNGEngine(srv.URL, 10)
	_, err := eng.GetPreviews(context.Background(), "q")
	if !IsRateLimited(err) {
		t.Errorf("HTTP 429 not classified as rate limit: %v", err)
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv2.Close()

	eng = NewSearxNGEngine(srv2.URL, 10)
	_, err = eng.GetPreviews(context.Background(), "q")
	if !IsRateLimited(err) {
		t.Errorf("HTTP 503 not classified as rate limit: %v", err)
	}
}

func TestBraveLocaleParams(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		w.Write([]byte(`{"web": {"results": []}}`))
	}))
	defer srv.Close()

	eng := NewBraveEngine("token", 5, WebParams{Region: "DE", Language: "de", SafeSearch: "true"})
	eng.baseURL = srv.URL
	if _, err := eng.GetPreviews(context.Background(), "golang"); err != nil {
		t.Fatalf("previews failed: %v", err)
	}

	q, err := url.ParseQuery(got)
	if err != nil {
		t.Fatal(err)
	}
	if q.Get("country") != "DE" {
		t.Errorf("country = %q, want DE", q.Get("country"))
	}
	if q.Get("search_lang") != "de" {
		t.Errorf("search_lang = %q, want de", q.Get("search_lang"))
	}
	if q.Get("safesearch") != "strict" {
		t.Errorf("safesearch = %q, want strict", q.Get("safesearch"))
	}
}

func TestGooglePSELocaleParams(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	eng := NewGooglePSEEngine("key", "cx1", 5, WebParams{Region: "us", Language: "lang_en", SafeSearch: "false"})
	eng.baseURL = srv.URL
	if _, err := eng.GetPreviews(context.Background(), "golang"); err != nil {
		t.Fatalf("previews failed: %v", err)
	}

	q, err := url.ParseQuery(got)
	if err != nil {
		t.Fatal(err)
	}
	if q.Get("gl") != "us" {
		t.Errorf("gl = %q, want us", q.Get("gl"))
	}
	if q.Get("lr") != "lang_en" {
		t.Errorf("lr = %q, want lang_en", q.Get("lr"))
	}
	if q.Get("safe") != "off" {
		t.Errorf("safe = %q, want off", q.Get("safe"))
	}
}

func TestDuckDuckGoLocaleParams(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	eng := NewDuckDuckGoEngine(5, WebParams{Region: "us-en", SafeSearch: "true"})
	eng.baseURL = srv.URL
	if _, err := eng.GetPreviews(context.Background(), "golang"); err != nil {
		t.Fatalf("previews failed: %v", err)
	}

	q, err := url.ParseQuery(got)
	if err != nil {
		t.Fatal(err)
	}
	if q.Get("kl") != "us-en" {
		t.Errorf("kl = %q, want us-en", q.Get("kl"))
	}
	if q.Get("kp") != "1" {
		t.Errorf("kp = %q, want 1", q.Get("kp"))
	}

	// Unset params leave the provider defaults alone.
	eng = NewDuckDuckGoEngine(5, WebParams{})
	eng.baseURL = srv.URL
	if _, err := eng.GetPreviews(context.Background(), "golang"); err != nil {
		t.Fatalf("previews failed: %v", err)
	}
	q, err = url.ParseQuery(got)
	if err != nil {
		t.Fatal(err)
	}
	if q.Has("kl") || q.Has("kp") {
		t.Errorf("unexpected locale params: %s", got)
	}
}

func TestResolveUDDG(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=abc", "https://go.dev/doc/"},
		{"https://example.com/page", "https://example.com/page"},
		{"javascript:void(0)", ""},
	}
	for _, c := range cases {
		if got := resolveUDDG(c.in); got != c.want {
			t.Errorf("resolveUDDG(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestArxivParsesAtom(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762</id>
    <title>Attention Is All
 You Need</title>
    <summary>The dominant sequence transduction models are based on RNNs.</summary>
    <author><name>Ashish Vaswani</name></author>
  </entry>
</feed>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	eng := NewArxivEngine(5)
	eng.client = srv.Client()

	// Point at the test server by rewriting through its transport.
	previews, err := parseArxivFrom(t, srv.URL, eng)
	if err != nil {
		t.Fatalf("previews failed: %v", err)
	}
	if len(previews) != 1 {
		t.Fatalf("got %d previews, want 1", len(previews))
	}
	if previews[0].Title != "Attention Is All You Need" {
		t.Errorf("title not normalized: %q", previews[0].Title)
	}
	if previews[0].Link != "http://arxiv.org/abs/1706.03762" {
		t.Errorf("link wrong: %q", previews[0].Link)
	}

	full, err := eng.GetFullContent(context.Background(), previews)
	if err != nil {
		t.Fatal(err)
	}
	if full[0].Content == "" {
		t.Error("abstract not promoted to content")
	}
}

// parseArxivFrom fetches the test server directly and runs the same
// parsing path as GetPreviews.
func parseArxivFrom(t *testing.T, url string, eng *ArxivEngine) ([]Result, error) {
	t.Helper()
	body, err := httpGet(context.Background(), eng.client, eng.Name(), url, nil)
	if err != nil {
		return nil, err
	}
	return eng.parseFeed(body)
}

func TestWaybackParsesCDX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
			["dev,go)/", "20200101000000", "https://go.dev/", "text/html", "200", "AAA", "1234"],
			["dev,go)/", "20210601000000", "https://go.dev/", "text/html", "200", "BBB", "2345"]
		]`))
	}))
	defer srv.Close()

	eng := NewWaybackEngine(nil, 10, "", "")
	eng.cdxBase = srv.URL

	previews, err := eng.GetPreviews(context.Background(), "https://go.dev/")
	if err != nil {
		t.Fatalf("previews failed: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(previews))
	}
	want := "https://web.archive.org/web/20200101000000/https://go.dev/"
	if previews[0].Link != want {
		t.Errorf("snapshot link = %q, want %q", previews[0].Link, want)
	}
}

func TestWaybackFreeTextWithoutResolver(t *testing.T) {
	eng := NewWaybackEngine(nil, 10, "", "")
	previews, err := eng.GetPreviews(context.Background(), "history of the go language")
	if err != nil {
		t.Fatalf("free-text query errored: %v", err)
	}
	if len(previews) != 0 {
		t.Errorf("free-text query without resolver returned %d results", len(previews))
	}
}

func TestUnavailableEngineYieldsNothing(t *testing.T) {
	eng := &unavailableEngine{name: "broken", reason: "no API key"}
	previews, err := eng.GetPreviews(context.Background(), "q")
	if err != nil || len(previews) != 0 {
		t.Errorf("unavailable engine: %v, %v", previews, err)
	}
}

func TestStarScore(t *testing.T) {
	if starScore(0) != 0 {
		t.Error("zero stars must score 0")
	}
	if s := starScore(100); s <= 0 || s >= 1 {
		t.Errorf("100 stars = %f, want in (0, 1)", s)
	}
	if s := starScore(10_000_000); s != 1 {
		t.Errorf("huge star count = %f, want saturated at 1", s)
	}
	if starScore(100) >= starScore(10000) {
		t.Error("star score not monotonic")
	}
}
