// Package cache holds recently fetched page responses in a bounded in-memory store.
package cache

import (
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

// Entry is a cached successful response.
type Entry struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	StoredAt   time.Time
}

// ResponseCache is a fixed-capacity cache evicting the oldest inserted entry.
// A nil *ResponseCache is valid and never hits.
type ResponseCache struct {
	entries *lru.Cache[string, Entry]
}

// New returns a cache holding at most maxSize entries. A non-positive size
// disables caching and returns nil.
func New(maxSize int) (*ResponseCache, error) {
	if maxSize <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, Entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{entries: entries}, nil
}

// Get returns the entry stored under key. Reads do not refresh recency.
func (c *ResponseCache) Get(key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c.entries.Peek(key)
	metrics.ObserveCacheLookup(ok)
	return entry, ok
}

// Put stores entry under key, evicting the oldest entry when full.
func (c *ResponseCache) Put(key string, entry Entry) {
	if c == nil {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	c.entries.Add(key, entry)
}

// Len returns the number of cached entries.
func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
