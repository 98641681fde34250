package index

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deepresearch/internal/config"
)

// hashEngine is a deterministic in-process embedding engine. Identical
// texts embed identically, and the word-frequency component gives related
// texts higher cosine similarity than unrelated ones.
type hashEngine struct {
	embedded []string
}

func (h *hashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	h.embedded = append(h.embedded, text)
	vec := make([]float32, 32)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(word))
		vec[int(sum[0])%32]++
	}
	return vec, nil
}

func (h *hashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEngine) Dimensions() int { return 32 }
func (h *hashEngine) Name() string    { return "hash-test" }

func newTestIndexer(t *testing.T, docs map[string]string) (*Indexer, *hashEngine, string) {
	t.Helper()

	root := t.TempDir()
	folder := filepath.Join(root, "docs")
	if err := os.MkdirAll(folder, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(folder, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	engine := &hashEngine{}
	ix, err := NewIndexer(config.IndexConfig{
		CacheDir:     filepath.Join(root, "cache"),
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Collections: map[string]config.CollectionConfig{
			"notes": {Folders: []string{folder}},
		},
	}, engine)
	if err != nil {
		t.Fatalf("failed to build indexer: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix, engine, folder
}

func TestIndexAndSearch(t *testing.T) {
	ix, _, folder := newTestIndexer(t, map[string]string{
		"go.md":      "Go is a statically typed compiled programming language.",
		"cooking.md": "Slice the onions thinly and caramelize them slowly.",
	})

	stats, err := ix.IndexFolder(context.Background(), folder)
	if err != nil {
		t.Fatalf("index failed: %v", err)
	}
	if stats.FilesIndexed != 2 {
		t.Errorf("indexed %d files, want 2", stats.FilesIndexed)
	}

	hits, err := NewSearcher(ix).Search(context.Background(), "notes", "compiled programming language", 5, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].RelPath != "go.md" {
		t.Errorf("top hit %s, want go.md", hits[0].RelPath)
	}
	if hits[0].Collection != "notes" {
		t.Errorf("hit collection %q, want notes", hits[0].Collection)
	}
}

func TestReindexIdempotent(t *testing.T) {
	ix, engine, folder := newTestIndexer(t, map[string]string{
		"a.txt": "alpha content",
		"b.txt": "beta content",
	})
	ctx := context.Background()

	if _, err := ix.IndexFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	before := ix.meta.Get(FolderHash(folder))
	filesBefore := cloneFiles(before.IndexedFiles)
	embedsBefore := len(engine.embedded)

	stats, err := ix.IndexFolder(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesIndexed != 0 || stats.ChunksAdded != 0 {
		t.Errorf("second pass did work: %+v", stats)
	}
	if len(engine.embedded) != embedsBefore {
		t.Errorf("second pass embedded %d texts", len(engine.embedded)-embedsBefore)
	}

	after := ix.meta.Get(FolderHash(folder))
	if diff := cmp.Diff(filesBefore, after.IndexedFiles); diff != "" {
		t.Errorf("indexed_files changed on no-op reindex:\n%s", diff)
	}
}

func TestIncrementalReindex(t *testing.T) {
	ix, engine, folder := newTestIndexer(t, map[string]string{
		"stable.txt":  "this file never changes",
		"changed.txt": "first version",
	})
	ctx := context.Background()

	if _, err := ix.IndexFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	meta := ix.meta.Get(FolderHash(folder))
	stableIDs := append([]string(nil), meta.IndexedFiles["stable.txt"]...)
	engine.embedded = nil

	changed := filepath.Join(folder, "changed.txt")
	if err := os.WriteFile(changed, []byte("second version with more words"), 0644); err != nil {
		t.Fatal(err)
	}
	// Force the mtime past the recorded index time regardless of clock
	// granularity.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(changed, future, future); err != nil {
		t.Fatal(err)
	}

	stats, err := ix.IndexFolder(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesIndexed != 1 {
		t.Errorf("reindexed %d files, want 1", stats.FilesIndexed)
	}
	for _, text := range engine.embedded {
		if !strings.Contains(text, "second version") {
			t.Errorf("re-embedded unchanged text: %q", text)
		}
	}

	meta = ix.meta.Get(FolderHash(folder))
	if diff := cmp.Diff(stableIDs, meta.IndexedFiles["stable.txt"]); diff != "" {
		t.Errorf("unchanged file's chunk IDs were replaced:\n%s", diff)
	}
}

func TestEditWithStaleMtimeReindexed(t *testing.T) {
	ix, engine, folder := newTestIndexer(t, map[string]string{
		"note.txt": "first version",
	})
	ctx := context.Background()

	if _, err := ix.IndexFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	engine.embedded = nil

	// An edit whose mtime does not advance past the index pass, as
	// happens when the write lands in the same filesystem-clock second
	// as the pass itself.
	note := filepath.Join(folder, "note.txt")
	if err := os.WriteFile(note, []byte("second version entirely"), 0644); err != nil {
		t.Fatal(err)
	}
	recorded := ix.meta.Get(FolderHash(folder)).FileTimes["note.txt"]
	stale := recorded.Add(-time.Second)
	if err := os.Chtimes(note, stale, stale); err != nil {
		t.Fatal(err)
	}

	stats, err := ix.IndexFolder(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesIndexed != 1 {
		t.Errorf("reindexed %d files, want 1", stats.FilesIndexed)
	}
	found := false
	for _, text := range engine.embedded {
		if strings.Contains(text, "second version") {
			found = true
		}
	}
	if !found {
		t.Error("edited content was not re-embedded")
	}
}

func TestDeletedFilePurged(t *testing.T) {
	ix, _, folder := newTestIndexer(t, map[string]string{
		"keep.txt":   "kept document",
		"remove.txt": "doomed document",
	})
	ctx := context.Background()

	if _, err := ix.IndexFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(folder, "remove.txt")); err != nil {
		t.Fatal(err)
	}

	stats, err := ix.IndexFolder(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("removed %d files, want 1", stats.FilesRemoved)
	}

	meta := ix.meta.Get(FolderHash(folder))
	if _, ok := meta.IndexedFiles["remove.txt"]; ok {
		t.Error("deleted file still in metadata")
	}

	store, err := ix.storeFor(FolderHash(folder))
	if err != nil {
		t.Fatal(err)
	}
	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(meta.IndexedFiles["keep.txt"]) {
		t.Errorf("store has %d chunks, want %d", n, len(meta.IndexedFiles["keep.txt"]))
	}
}

func TestConfigChangeForcesRebuild(t *testing.T) {
	ix, _, folder := newTestIndexer(t, map[string]string{
		"a.txt": "some document text",
	})
	ctx := context.Background()

	if _, err := ix.IndexFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	oldIDs := cloneFiles(ix.meta.Get(FolderHash(folder)).IndexedFiles)

	// Same folder, different chunking parameters.
	ix.chunker = NewChunker(500, 100)
	stats, err := ix.IndexFolder(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.FullRebuild {
		t.Error("chunk size change did not force a rebuild")
	}

	meta := ix.meta.Get(FolderHash(folder))
	if meta.ChunkSize != 500 {
		t.Errorf("metadata chunk size %d, want 500", meta.ChunkSize)
	}
	if diff := cmp.Diff(oldIDs["a.txt"], meta.IndexedFiles["a.txt"]); diff == "" {
		t.Error("chunk IDs survived a full rebuild")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadMetadata(dir)
	if err != nil {
		t.Fatal(err)
	}
	m.Put("abc123", &FolderMeta{
		Path:           "/data/docs",
		LastIndexed:    time.Now().UTC().Truncate(time.Second),
		ChunkSize:      1000,
		ChunkOverlap:   200,
		EmbeddingModel: "hash-test",
		IndexedFiles:   map[string][]string{"a.txt": {"id1", "id2"}},
	})
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m2, err := LoadMetadata(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := m2.Get("abc123")
	if got == nil {
		t.Fatal("folder metadata not persisted")
	}
	if diff := cmp.Diff(m.Get("abc123"), got); diff != "" {
		t.Errorf("metadata round-trip mismatch:\n%s", diff)
	}
}

func TestChunkerOverlap(t *testing.T) {
	c := NewChunker(100, 20)

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("word word word word word word word word\n")
	}
	chunks := c.Split(sb.String())
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 100 {
			t.Errorf("chunk %d has %d chars, exceeds size", i, len(ch))
		}
		if strings.TrimSpace(ch) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}

	if got := c.Split("   "); got != nil {
		t.Errorf("whitespace input produced chunks: %v", got)
	}
	if got := c.Split("short"); len(got) != 1 || got[0] != "short" {
		t.Errorf("short input = %v, want [short]", got)
	}
}

func cloneFiles(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
