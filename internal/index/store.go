package index

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"deepresearch/internal/embedding"
)

// VectorStore is the per-folder chunk store. Chunk vectors live in SQLite;
// similarity search runs over an in-memory copy guarded by an RWMutex,
// loaded lazily and kept in sync by writers.
type VectorStore struct {
	db *sql.DB

	mu     sync.RWMutex
	cache  []storedChunk
	loaded bool
}

type storedChunk struct {
	id      string
	relPath string
	ordinal int
	content string
	vector  []float32
}

// StoredHit is one similarity match from a vector store.
type StoredHit struct {
	ChunkID    string
	RelPath    string
	Ordinal    int
	Content    string
	Similarity float64
}

// OpenVectorStore opens (creating if needed) the vector database for one
// indexed folder at <dir>/vectors.db.
func OpenVectorStore(dir string) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "vectors.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		rel_path TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_rel_path ON chunks(rel_path);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chunks table: %w", err)
	}

	return &VectorStore{db: db}, nil
}

// AddChunks inserts chunks with their vectors in one transaction.
func (v *VectorStore) AddChunks(chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO chunks (id, rel_path, ordinal, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.Exec(c.ID, c.RelPath, c.Ordinal, c.Content, encodeVector(vectors[i])); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if v.loaded {
		for i, c := range chunks {
			v.cache = append(v.cache, storedChunk{
				id: c.ID, relPath: c.RelPath, ordinal: c.Ordinal,
				content: c.Content, vector: vectors[i],
			})
		}
	}
	return nil
}

// DeleteFile removes every chunk belonging to a relative path.
func (v *VectorStore) DeleteFile(relPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.db.Exec(`DELETE FROM chunks WHERE rel_path = ?`, relPath); err != nil {
		return err
	}
	if v.loaded {
		kept := v.cache[:0]
		for _, c := range v.cache {
			if c.relPath != relPath {
				kept = append(kept, c)
			}
		}
		v.cache = kept
	}
	return nil
}

// Count returns the number of stored chunks.
func (v *VectorStore) Count() (int, error) {
	var n int
	err := v.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Search returns the top-k chunks by cosine similarity to the query vector.
func (v *VectorStore) Search(query []float32, k int) ([]StoredHit, error) {
	if err := v.ensureLoaded(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	items := make([][]float32, len(v.cache))
	for i := range v.cache {
		items[i] = v.cache[i].vector
	}
	top, err := embedding.FindTopK(query, items, k)
	if err != nil {
		return nil, err
	}

	hits := make([]StoredHit, 0, len(top))
	for _, r := range top {
		c := v.cache[r.Index]
		hits = append(hits, StoredHit{
			ChunkID:    c.id,
			RelPath:    c.relPath,
			Ordinal:    c.ordinal,
			Content:    c.content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// ensureLoaded populates the in-memory cache from SQLite once.
func (v *VectorStore) ensureLoaded() error {
	v.mu.RLock()
	loaded := v.loaded
	v.mu.RUnlock()
	if loaded {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return nil
	}

	rows, err := v.db.Query(`SELECT id, rel_path, ordinal, content, embedding FROM chunks`)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var cache []storedChunk
	for rows.Next() {
		var c storedChunk
		var blob []byte
		if err := rows.Scan(&c.id, &c.relPath, &c.ordinal, &c.content, &blob); err != nil {
			return err
		}
		c.vector = decodeVector(blob)
		cache = append(cache, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	v.cache = cache
	v.loaded = true
	return nil
}

// Close closes the underlying database.
func (v *VectorStore) Close() error {
	return v.db.Close()
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
