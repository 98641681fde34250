package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"deepresearch/internal/llm"
)

func TestForRelevancePassThrough(t *testing.T) {
	f := NewFilter(nil, 5)
	previews := somePreviews(3)

	got := f.ForRelevance(context.Background(), "q", previews)
	if len(got) != 3 {
		t.Errorf("nil-LLM filter dropped previews: %d", len(got))
	}

	// Single preview never goes to the LLM.
	client := &llm.MockClient{Default: "[]"}
	f = NewFilter(client, 5)
	got = f.ForRelevance(context.Background(), "q", previews[:1])
	if len(got) != 1 || client.CallCount() != 0 {
		t.Errorf("single preview hit the LLM")
	}
}

func TestForRelevanceRanks(t *testing.T) {
	client := &llm.MockClient{Default: "[2, 0]"}
	f := NewFilter(client, 5)

	got := f.ForRelevance(context.Background(), "q", somePreviews(4))
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "fake-2" || got[1].ID != "fake-0" {
		t.Errorf("ranking not applied: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestForRelevanceFallbackOnGarbage(t *testing.T) {
	client := &llm.MockClient{Default: "I cannot rank these results."}
	f := NewFilter(client, 2)

	got := f.ForRelevance(context.Background(), "q", somePreviews(5))
	if len(got) != 2 {
		t.Fatalf("fallback returned %d results, want top 2", len(got))
	}
	if got[0].ID != "fake-0" || got[1].ID != "fake-1" {
		t.Errorf("fallback changed order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestForRelevanceCap(t *testing.T) {
	client := &llm.MockClient{Default: "[0, 1, 2, 3, 4, 5, 6]"}
	f := NewFilter(client, 5)

	got := f.ForRelevance(context.Background(), "q", somePreviews(8))
	if len(got) != 5 {
		t.Errorf("cap not applied: got %d results", len(got))
	}
}

func TestCrossEngineSkipsSmallSets(t *testing.T) {
	client := &llm.MockClient{Default: "[0]"}
	f := NewFilter(client, 5)

	previews := somePreviews(4)
	got := f.CrossEngine(context.Background(), "q", previews, CrossOptions{MaxResults: 10})
	if client.CallCount() != 0 {
		t.Error("small preview set hit the LLM")
	}
	if len(got) != 4 {
		t.Errorf("got %d results, want 4", len(got))
	}
}

func TestCrossEngineReindex(t *testing.T) {
	f := NewFilter(nil, 5)
	previews := somePreviews(6)

	got := f.CrossEngine(context.Background(), "q", previews, CrossOptions{
		Reindex:    true,
		StartIndex: 7,
		MaxResults: 4,
	})
	if len(got) != 4 {
		t.Fatalf("got %d results, want 4", len(got))
	}
	for i, res := range got {
		if want := 7 + i + 1; res.Index != want {
			t.Errorf("result %d index = %d, want %d", i, res.Index, want)
		}
	}
}

func TestCrossEngineDedup(t *testing.T) {
	// Two engines with overlapping links.
	var previews []Result
	for i := 0; i < 3; i++ {
		previews = append(previews, Result{
			ID:    fmt.Sprintf("a-%d", i),
			Title: fmt.Sprintf("A %d", i),
			Link:  fmt.Sprintf("https://example.com/%d", i),
		})
	}
	for i := 1; i < 4; i++ {
		previews = append(previews, Result{
			ID:    fmt.Sprintf("b-%d", i),
			Title: fmt.Sprintf("B %d", i),
			Link:  fmt.Sprintf("https://example.com/%d", i),
		})
	}

	f := NewFilter(nil, 5)
	got := f.CrossEngine(context.Background(), "q", previews, CrossOptions{Reindex: true, MaxResults: 10})

	seen := make(map[string]bool)
	for _, res := range got {
		if seen[res.Link] {
			t.Errorf("duplicate link survived: %s", res.Link)
		}
		seen[res.Link] = true
	}
	if len(got) != 4 {
		t.Errorf("got %d unique results, want 4", len(got))
	}
	for i, res := range got {
		if res.Index != i+1 {
			t.Errorf("index %d not contiguous: %d", i, res.Index)
		}
	}
}

func TestCrossEngineReorder(t *testing.T) {
	client := &llm.MockClient{Default: "[11, 3, 5]"}
	f := NewFilter(client, 5)

	previews := somePreviews(12)
	got := f.CrossEngine(context.Background(), "q", previews, CrossOptions{
		Reorder:    true,
		MaxResults: 10,
	})
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].ID != "fake-11" || got[1].ID != "fake-3" || got[2].ID != "fake-5" {
		t.Errorf("reorder not applied: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestCrossEngineKeepOriginalOrder(t *testing.T) {
	client := &llm.MockClient{Default: "[11, 3, 5]"}
	f := NewFilter(client, 5)

	previews := somePreviews(12)
	got := f.CrossEngine(context.Background(), "q", previews, CrossOptions{MaxResults: 10})
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	// Without reorder, the kept set stays in original order.
	if got[0].ID != "fake-3" || got[1].ID != "fake-5" || got[2].ID != "fake-11" {
		t.Errorf("original order not kept: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestTruncateContentRuneSafe(t *testing.T) {
	// No spaces, so the word-boundary fallback cannot rescue a cut that
	// lands inside a multi-byte rune.
	s := "x" + strings.Repeat("日", 200)
	got := truncateContent(s, filterSnippetLength)
	if !utf8.ValidString(got) {
		t.Errorf("invalid UTF-8 after truncation: %q", got[len(got)-6:])
	}
	if len(got) > filterSnippetLength {
		t.Errorf("got %d bytes, want <= %d", len(got), filterSnippetLength)
	}
}
