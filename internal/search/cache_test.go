package search

import (
	"testing"
	"time"
)

func TestCacheMemoryRoundTrip(t *testing.T) {
	c := NewCache("", time.Minute)

	if _, ok := c.Get("ddg", "query"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Put("ddg", "query", somePreviews(3))
	got, ok := c.Get("ddg", "query")
	if !ok || len(got) != 3 {
		t.Fatalf("cache miss after put: ok=%v n=%d", ok, len(got))
	}

	// Same query on another engine is a distinct key.
	if _, ok := c.Get("brave", "query"); ok {
		t.Error("keys not engine-scoped")
	}
}

func TestCacheDiskSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c1 := NewCache(dir, time.Minute)
	c1.Put("ddg", "persistent query", somePreviews(2))

	// A fresh cache over the same dir reads the entry from disk.
	c2 := NewCache(dir, time.Minute)
	got, ok := c2.Get("ddg", "persistent query")
	if !ok {
		t.Fatal("disk entry not found by fresh cache")
	}
	if len(got) != 2 || got[0].Link != somePreviews(2)[0].Link {
		t.Errorf("disk round trip altered results: %+v", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache("", 10*time.Millisecond)
	c.Put("ddg", "query", somePreviews(1))

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("ddg", "query"); ok {
		t.Error("expired entry served")
	}
}

func TestCacheClear(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, time.Minute)
	c.Put("ddg", "query", somePreviews(1))

	c.Clear()

	if _, ok := c.Get("ddg", "query"); ok {
		t.Error("entry survived clear")
	}
	// Disk level is gone too.
	if _, ok := NewCache(dir, time.Minute).Get("ddg", "query"); ok {
		t.Error("disk entry survived clear")
	}
}
