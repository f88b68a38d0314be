package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quillagent/quill/pkg/models"
)

// queryCache memoizes retrieval results keyed by the full query shape.
// Any write to the store invalidates the whole cache: retrieval results
// are cheap to recompute and partial invalidation is not worth the
// bookkeeping.
type queryCache struct {
	lru    *lru.Cache[string, []*models.MemoryEntry]
	hits   atomic.Int64
	misses atomic.Int64
}

func newQueryCache(size int) (*queryCache, error) {
	cache, err := lru.New[string, []*models.MemoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &queryCache{lru: cache}, nil
}

// key derives a stable cache key from the query, result limit, and
// type filter.
func (c *queryCache) key(query string, topK int, memoryType models.MemoryType) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s", query, topK, memoryType)))
	return hex.EncodeToString(sum[:16])
}

func (c *queryCache) get(key string) ([]*models.MemoryEntry, bool) {
	entries, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entries, ok
}

func (c *queryCache) put(key string, entries []*models.MemoryEntry) {
	c.lru.Add(key, entries)
}

// invalidate drops every cached result.
func (c *queryCache) invalidate() {
	c.lru.Purge()
}

func (c *queryCache) len() int { return c.lru.Len() }

// hitRate returns the fraction of lookups served from cache, zero when
// no lookups have happened.
func (c *queryCache) hitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
