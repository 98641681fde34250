package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deepresearch/internal/logging"
)

// Cache is a two-level (memory + disk) TTL cache for search results,
// keyed by engine and query. Disk persistence is best-effort; a failed
// write only costs a repeat search later.
type Cache struct {
	dir string
	ttl time.Duration

	mu  sync.RWMutex
	mem map[string]cacheEntry
}

type cacheEntry struct {
	Results   []Result  `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCache creates a cache rooted at dir with the given TTL. An empty dir
// disables the disk level.
func NewCache(dir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.EngineWarn("cache dir unavailable, memory only: %v", err)
			dir = ""
		}
	}
	return &Cache{dir: dir, ttl: ttl, mem: make(map[string]cacheEntry)}
}

// Get returns cached results for an engine/query pair if fresh.
func (c *Cache) Get(engine, query string) ([]Result, bool) {
	key := cacheKey(engine, query)

	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()

	if !ok && c.dir != "" {
		entry, ok = c.readDisk(key)
		if ok {
			c.mu.Lock()
			c.mem[key] = entry
			c.mu.Unlock()
		}
	}
	if !ok || time.Since(entry.Timestamp) > c.ttl {
		return nil, false
	}
	return entry.Results, true
}

// Put stores results for an engine/query pair.
func (c *Cache) Put(engine, query string, results []Result) {
	key := cacheKey(engine, query)
	entry := cacheEntry{Results: results, Timestamp: time.Now()}

	c.mu.Lock()
	c.mem[key] = entry
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0644); err != nil {
		logging.EngineWarn("cache write failed: %v", err)
	}
}

// Clear drops every entry from both levels.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.mem = make(map[string]cacheEntry)
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}

func (c *Cache) readDisk(key string) (cacheEntry, bool) {
	data, err := os.ReadFile(filepath.Join(c.dir, key+".json"))
	if err != nil {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return cacheEntry{}, false
	}
	return entry, true
}

func cacheKey(engine, query string) string {
	sum := sha256.Sum256([]byte(engine + "\x00" + query))
	return hex.EncodeToString(sum[:16])
}
