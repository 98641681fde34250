package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"deepresearch/internal/logging"
)

// Hit is one similarity match across the index, tagged with its origin.
type Hit struct {
	ChunkID    string
	Collection string
	Folder     string
	RelPath    string
	Content    string
	Similarity float64
}

// Searcher runs similarity queries over indexed collections.
type Searcher struct {
	ix *Indexer
}

// NewSearcher wraps an indexer for querying.
func NewSearcher(ix *Indexer) *Searcher {
	return &Searcher{ix: ix}
}

// Search embeds the query and returns up to limit hits at or above the
// similarity threshold, merged across every folder of the named collection.
// An empty collection name searches all collections.
func (s *Searcher) Search(ctx context.Context, collection, query string, limit int, threshold float64) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	folders, err := s.resolveFolders(collection)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, nil
	}

	qvec, err := s.ix.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var hits []Hit
	for _, fc := range folders {
		abs, err := filepath.Abs(fc.folder)
		if err != nil {
			continue
		}
		hash := FolderHash(abs)

		s.ix.mu.Lock()
		meta := s.ix.meta.Get(hash)
		s.ix.mu.Unlock()
		if meta == nil {
			logging.IndexDebug("skipping unindexed folder %s", fc.folder)
			continue
		}

		store, err := s.ix.storeFor(hash)
		if err != nil {
			logging.IndexWarn("failed to open store for %s: %v", fc.folder, err)
			continue
		}

		stored, err := store.Search(qvec, limit)
		if err != nil {
			logging.IndexWarn("search failed in %s: %v", fc.folder, err)
			continue
		}
		for _, h := range stored {
			if h.Similarity < threshold {
				continue
			}
			hits = append(hits, Hit{
				ChunkID:    h.ChunkID,
				Collection: fc.collection,
				Folder:     abs,
				RelPath:    h.RelPath,
				Content:    h.Content,
				Similarity: h.Similarity,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type folderRef struct {
	collection string
	folder     string
}

func (s *Searcher) resolveFolders(collection string) ([]folderRef, error) {
	var out []folderRef
	if collection == "" {
		for name, coll := range s.ix.cfg.Collections {
			for _, f := range coll.Folders {
				out = append(out, folderRef{collection: name, folder: f})
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].collection != out[j].collection {
				return out[i].collection < out[j].collection
			}
			return out[i].folder < out[j].folder
		})
		return out, nil
	}

	coll, ok := s.ix.cfg.Collections[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", collection)
	}
	for _, f := range coll.Folders {
		out = append(out, folderRef{collection: collection, folder: f})
	}
	return out, nil
}
