package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepresearch/internal/config"
	"deepresearch/internal/embedding"
	"deepresearch/internal/logging"
)

// Indexer maintains the embedding index for the configured collections.
// One vector store per folder, shared metadata in index_metadata.json.
type Indexer struct {
	cfg     config.IndexConfig
	engine  embedding.Engine
	chunker *Chunker

	mu     sync.Mutex
	meta   *Metadata
	stores map[string]*VectorStore // folder_hash -> store
}

// IndexStats summarizes one IndexFolder run.
type IndexStats struct {
	Folder       string
	FilesIndexed int
	FilesRemoved int
	ChunksAdded  int
	FullRebuild  bool
	Duration     time.Duration
}

// NewIndexer builds an indexer over the given cache directory and embedding
// engine.
func NewIndexer(cfg config.IndexConfig, engine embedding.Engine) (*Indexer, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("index cache_dir is not configured")
	}

	meta, err := LoadMetadata(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	return &Indexer{
		cfg:     cfg,
		engine:  engine,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		meta:    meta,
		stores:  make(map[string]*VectorStore),
	}, nil
}

// IndexCollection indexes every folder of a named collection.
func (ix *Indexer) IndexCollection(ctx context.Context, name string) ([]IndexStats, error) {
	coll, ok := ix.cfg.Collections[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", name)
	}

	chunker := ix.chunker
	if coll.ChunkSize > 0 {
		overlap := coll.ChunkOverlap
		if overlap == 0 {
			overlap = ix.chunker.Overlap
		}
		chunker = NewChunker(coll.ChunkSize, overlap)
	}

	var stats []IndexStats
	for _, folder := range coll.Folders {
		st, err := ix.indexFolder(ctx, folder, chunker)
		if err != nil {
			return stats, fmt.Errorf("failed to index %s: %w", folder, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// IndexFolder incrementally indexes one folder. Files are reindexed when
// their mtime differs from the one recorded at the last pass or when they
// are missing from the metadata; chunks of deleted files are purged. A
// change in chunking parameters or embedding model forces a full rebuild.
func (ix *Indexer) IndexFolder(ctx context.Context, folder string) (IndexStats, error) {
	return ix.indexFolder(ctx, folder, ix.chunker)
}

func (ix *Indexer) indexFolder(ctx context.Context, folder string, chunker *Chunker) (IndexStats, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "index "+folder)
	defer timer.Stop()

	start := time.Now()
	stats := IndexStats{Folder: folder}

	abs, err := filepath.Abs(folder)
	if err != nil {
		return stats, err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return stats, fmt.Errorf("not an indexable folder: %s", folder)
	}

	hash := FolderHash(abs)
	store, err := ix.storeFor(hash)
	if err != nil {
		return stats, err
	}

	ix.mu.Lock()
	meta := ix.meta.Get(hash)
	ix.mu.Unlock()

	fullRebuild := meta == nil || ix.configChanged(meta, chunker)
	if fullRebuild && meta != nil {
		logging.Index("index config changed for %s, rebuilding", folder)
		for rel := range meta.IndexedFiles {
			if err := store.DeleteFile(rel); err != nil {
				return stats, err
			}
		}
		meta = nil
	}
	stats.FullRebuild = fullRebuild

	if meta == nil {
		meta = &FolderMeta{
			Path:           abs,
			ChunkSize:      chunker.Size,
			ChunkOverlap:   chunker.Overlap,
			EmbeddingModel: ix.engine.Name(),
			IndexedFiles:   make(map[string][]string),
			FileTimes:      make(map[string]time.Time),
		}
	}
	// Metadata written before per-file mtimes were recorded.
	if meta.FileTimes == nil {
		meta.FileTimes = make(map[string]time.Time)
	}

	// Walk the folder and build the work set.
	present := make(map[string]bool)
	var work []string
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.IndexWarn("walk error at %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != abs && !indexable(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexable(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return nil
		}
		present[rel] = true

		_, known := meta.IndexedFiles[rel]
		if known && !fullRebuild {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			// Compare against the mtime recorded for this file, not the
			// pass timestamp: an edit landing in the same second as the
			// index pass must still be picked up.
			if rec, ok := meta.FileTimes[rel]; ok && info.ModTime().Equal(rec) {
				return nil
			}
		}
		work = append(work, rel)
		return nil
	})
	if walkErr != nil {
		return stats, walkErr
	}
	sort.Strings(work)

	// Purge chunks of files that no longer exist.
	for rel := range meta.IndexedFiles {
		if present[rel] {
			continue
		}
		if err := store.DeleteFile(rel); err != nil {
			return stats, err
		}
		delete(meta.IndexedFiles, rel)
		delete(meta.FileTimes, rel)
		stats.FilesRemoved++
		logging.IndexDebug("purged deleted file %s", rel)
	}

	// Reindex the work set.
	for _, rel := range work {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		added, err := ix.indexFile(ctx, store, meta, chunker, abs, rel)
		if err != nil {
			logging.IndexWarn("failed to index %s: %v", rel, err)
			continue
		}
		if added >= 0 {
			stats.FilesIndexed++
			stats.ChunksAdded += added
		}
	}

	if stats.FilesIndexed > 0 || stats.FilesRemoved > 0 || fullRebuild {
		meta.LastIndexed = time.Now()
		ix.mu.Lock()
		ix.meta.Put(hash, meta)
		err = ix.meta.Save()
		ix.mu.Unlock()
		if err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	logging.Index("indexed %s: %d files, %d chunks, %d removed (%.1fs)",
		folder, stats.FilesIndexed, stats.ChunksAdded, stats.FilesRemoved, stats.Duration.Seconds())
	return stats, nil
}

// indexFile replaces a file's chunks in the store. Returns the number of
// chunks added, or -1 when the file type is unsupported.
func (ix *Indexer) indexFile(ctx context.Context, store *VectorStore, meta *FolderMeta, chunker *Chunker, root, rel string) (int, error) {
	path := filepath.Join(root, rel)

	// The mtime is captured before reading so an edit racing the read
	// leaves the file marked for the next pass.
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	text, supported, err := loadDocument(path)
	if err != nil {
		return 0, err
	}
	if !supported {
		return -1, nil
	}

	// Drop any stale chunks before re-adding.
	if _, known := meta.IndexedFiles[rel]; known {
		if err := store.DeleteFile(rel); err != nil {
			return 0, err
		}
		delete(meta.IndexedFiles, rel)
		delete(meta.FileTimes, rel)
	}

	pieces := chunker.Split(text)
	if len(pieces) == 0 {
		meta.IndexedFiles[rel] = []string{}
		meta.FileTimes[rel] = info.ModTime()
		return 0, nil
	}

	chunks := make([]Chunk, len(pieces))
	ids := make([]string, len(pieces))
	for i, p := range pieces {
		id := uuid.NewString()
		chunks[i] = Chunk{ID: id, RelPath: rel, Ordinal: i, Content: p}
		ids[i] = id
	}

	batch := ix.cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	var vectors [][]float32
	for i := 0; i < len(pieces); i += batch {
		end := i + batch
		if end > len(pieces) {
			end = len(pieces)
		}
		vecs, err := ix.engine.EmbedBatch(ctx, pieces[i:end])
		if err != nil {
			return 0, fmt.Errorf("embedding failed: %w", err)
		}
		vectors = append(vectors, vecs...)
	}

	if err := store.AddChunks(chunks, vectors); err != nil {
		return 0, err
	}
	meta.IndexedFiles[rel] = ids
	meta.FileTimes[rel] = info.ModTime()
	return len(chunks), nil
}

// configChanged reports whether chunking or model parameters differ from
// what a folder was last indexed with.
func (ix *Indexer) configChanged(meta *FolderMeta, chunker *Chunker) bool {
	return meta.ChunkSize != chunker.Size ||
		meta.ChunkOverlap != chunker.Overlap ||
		meta.EmbeddingModel != ix.engine.Name()
}

// storeFor returns (opening if needed) the vector store for a folder hash.
func (ix *Indexer) storeFor(hash string) (*VectorStore, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if s, ok := ix.stores[hash]; ok {
		return s, nil
	}
	s, err := OpenVectorStore(filepath.Join(ix.cfg.CacheDir, "index_"+hash))
	if err != nil {
		return nil, err
	}
	ix.stores[hash] = s
	return s, nil
}

// HealthCheck verifies the embedding backend is reachable when it exposes
// a health probe.
func (ix *Indexer) HealthCheck(ctx context.Context) error {
	if hc, ok := ix.engine.(embedding.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close closes every open vector store.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var first error
	for _, s := range ix.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
