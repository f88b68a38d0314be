package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/quillagent/quill/pkg/models"
)

const (
	defaultTopK = 5
	maxTopK     = 100
)

// ManagerConfig tunes the memory manager.
type ManagerConfig struct {
	// CacheSize bounds the retrieval query cache.
	CacheSize int

	// Capacity bounds the total stored entries; zero disables capacity
	// eviction.
	Capacity int

	// TTL maps memory type to lifetime; types without an entry never
	// expire.
	TTL map[string]time.Duration
}

// Manager coordinates the persistent store, the query cache, and the
// lifecycle policy (TTL expiry plus capacity eviction).
type Manager struct {
	store  *Store
	cache  *queryCache
	cfg    ManagerConfig
	logger *slog.Logger
}

// NewManager wires a manager over an open store.
func NewManager(store *Store, cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	cache, err := newQueryCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, cache: cache, cfg: cfg, logger: logger}, nil
}

// Store persists an entry and invalidates the query cache.
func (m *Manager) Store(ctx context.Context, entry *models.MemoryEntry) error {
	entry.Importance = models.ClampImportance(entry.Importance)
	if err := m.store.Put(ctx, entry); err != nil {
		return err
	}
	m.cache.invalidate()
	m.logger.Debug("memory stored",
		"id", entry.ID,
		"type", entry.MemoryType,
		"importance", entry.Importance,
	)
	return nil
}

// Get returns an entry by id without counting it as a retrieval access.
func (m *Manager) Get(ctx context.Context, id string) (*models.MemoryEntry, error) {
	return m.store.Get(ctx, id)
}

// Delete removes an entry and invalidates the query cache.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		m.cache.invalidate()
	}
	return deleted, nil
}

// Count returns the number of stored entries for a type (empty matches
// all types).
func (m *Manager) Count(ctx context.Context, memoryType models.MemoryType) (int, error) {
	return m.store.Count(ctx, memoryType)
}

// Retrieve searches memories for a query. The cascade is cache, then
// full-text search, then LIKE substring matching when FTS rejects the
// query. Hits bump access counters; cache entries do not, so repeated
// identical queries count a single access.
func (m *Manager) Retrieve(ctx context.Context, query string, topK int, memoryType models.MemoryType) ([]*models.MemoryEntry, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	key := m.cache.key(query, topK, memoryType)
	if entries, ok := m.cache.get(key); ok {
		return entries, nil
	}

	entries, err := m.store.SearchFTS(ctx, query, memoryType, topK)
	if err != nil || len(entries) == 0 {
		if err != nil {
			m.logger.Debug("fts search failed, falling back to like", "error", err)
		}
		entries, err = m.store.SearchLike(ctx, query, memoryType, topK)
		if err != nil {
			return nil, err
		}
	}

	if len(entries) > 0 {
		now := time.Now()
		ids := make([]string, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
			entry.AccessCount++
			entry.LastAccessed = now
		}
		if err := m.store.TouchAccess(ctx, ids, now); err != nil {
			m.logger.Warn("failed to record memory access", "error", err)
		}
	}

	m.cache.put(key, entries)
	return entries, nil
}

// Recent returns the most recently accessed entries, bypassing the
// query cache.
func (m *Manager) Recent(ctx context.Context, memoryType models.MemoryType, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = defaultTopK
	}
	return m.store.Recent(ctx, memoryType, limit)
}

// CleanupResult summarizes one lifecycle sweep.
type CleanupResult struct {
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
}

// Cleanup applies the lifecycle policy: first TTL expiry per memory
// type, then capacity eviction of the least recently accessed entries
// (lowest importance first among ties, oldest creation as the final
// tiebreak) until the store fits the capacity bound.
func (m *Manager) Cleanup(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}
	now := time.Now()

	for memoryType, ttl := range m.cfg.TTL {
		if ttl <= 0 {
			continue
		}
		ids, err := m.store.ExpiredIDs(ctx, models.MemoryType(memoryType), now.Add(-ttl))
		if err != nil {
			return nil, err
		}
		deleted, err := m.store.DeleteBatch(ctx, ids)
		if err != nil {
			return nil, err
		}
		result.Expired += deleted
	}

	if m.cfg.Capacity > 0 {
		total, err := m.store.Count(ctx, "")
		if err != nil {
			return nil, err
		}
		if excess := total - m.cfg.Capacity; excess > 0 {
			ids, err := m.store.EvictionCandidates(ctx, excess)
			if err != nil {
				return nil, err
			}
			evicted, err := m.store.DeleteBatch(ctx, ids)
			if err != nil {
				return nil, err
			}
			result.Evicted = evicted
		}
	}

	if result.Expired > 0 || result.Evicted > 0 {
		m.cache.invalidate()
		m.logger.Info("memory cleanup",
			"expired", result.Expired,
			"evicted", result.Evicted,
		)
	}
	return result, nil
}

// RunCleanupLoop sweeps on the given interval until ctx is cancelled.
func (m *Manager) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx); err != nil {
				m.logger.Error("memory cleanup failed", "error", err)
			}
		}
	}
}

// Stats reports store and cache health for the status surface.
type Stats struct {
	TotalEntries int     `json:"total_entries"`
	CacheEntries int     `json:"cache_entries"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	FTSEnabled   bool    `json:"fts_enabled"`
	DBPath       string  `json:"db_path"`
}

// Stats returns current store and cache statistics.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	total, err := m.store.Count(ctx, "")
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalEntries: total,
		CacheEntries: m.cache.len(),
		CacheHits:    m.cache.hits.Load(),
		CacheMisses:  m.cache.misses.Load(),
		CacheHitRate: m.cache.hitRate(),
		FTSEnabled:   m.store.FTSEnabled(),
		DBPath:       m.store.Path(),
	}, nil
}
