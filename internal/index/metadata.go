// Package index implements the local embedding index: a set of named
// collections, each a group of folders chunked, embedded, and stored in
// per-folder SQLite vector stores with incremental reindexing.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FolderMeta records what has been indexed for one folder.
// Invariant: every live chunk ID in the folder's vector store is listed
// under exactly one file in IndexedFiles.
type FolderMeta struct {
	Path           string               `json:"path"`
	LastIndexed    time.Time            `json:"last_indexed"`
	ChunkSize      int                  `json:"chunk_size"`
	ChunkOverlap   int                  `json:"chunk_overlap"`
	EmbeddingModel string               `json:"embedding_model"`
	IndexedFiles   map[string][]string  `json:"indexed_files"`        // relpath -> chunk IDs
	FileTimes      map[string]time.Time `json:"file_times,omitempty"` // relpath -> mtime at index
}

// Metadata is the shared index metadata document, folder_hash -> FolderMeta.
type Metadata struct {
	mu      sync.Mutex
	path    string
	Folders map[string]*FolderMeta `json:"folders"`
}

// LoadMetadata reads (or initializes) <cache_dir>/index_metadata.json.
func LoadMetadata(cacheDir string) (*Metadata, error) {
	m := &Metadata{
		path:    filepath.Join(cacheDir, "index_metadata.json"),
		Folders: make(map[string]*FolderMeta),
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	if m.Folders == nil {
		m.Folders = make(map[string]*FolderMeta)
	}
	return m, nil
}

// Get returns the metadata for a folder hash, or nil.
func (m *Metadata) Get(folderHash string) *FolderMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Folders[folderHash]
}

// Put stores metadata for a folder hash.
func (m *Metadata) Put(folderHash string, meta *FolderMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Folders[folderHash] = meta
}

// Save writes the document back to disk atomically (write + rename).
func (m *Metadata) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// FolderHash computes a stable hash from the canonical path parts.
func FolderHash(folder string) string {
	abs, err := filepath.Abs(folder)
	if err != nil {
		abs = folder
	}
	abs = filepath.Clean(abs)
	h := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(h[:8])
}
