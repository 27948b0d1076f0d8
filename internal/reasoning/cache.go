package reasoning

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/signal"
)

// DefaultCacheTTL bounds how long a deliberation result is reused for an
// identical signal set.
const DefaultCacheTTL = 5 * time.Minute

// Cache memoizes reasoning results per (city, event type, signal set).
// Entries are derived, idempotent recomputations; concurrent last-write-wins
// on the same key is acceptable. Construct once per process and inject.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result   LoopResult
	storedAt time.Time
}

// NewCache creates a cache with the given TTL. ttl <= 0 uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// CacheKey derives a deterministic key from the representative city, event
// type, and the signal set. The (source, text) pairs are sorted before
// hashing so any permutation of the same signals yields the same key.
func CacheKey(city, eventType string, signals []signal.Signal) string {
	pairs := make([]string, 0, len(signals))
	for _, s := range signals {
		pairs = append(pairs, string(s.Source)+"\x1f"+s.Text)
	}
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(city))
	h.Write([]byte{0x1e})
	h.Write([]byte(eventType))
	h.Write([]byte{0x1e})
	h.Write([]byte(strings.Join(pairs, "\x1e")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result if present and unexpired.
func (c *Cache) Get(key string) (*LoopResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Since(e.storedAt) > c.ttl {
		return nil, false
	}
	cp := e.result
	return &cp, true
}

// Put stores a copy of the result under the key.
func (c *Cache) Put(key string, r *LoopResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: *r, storedAt: time.Now()}
}

// Sweep drops expired entries. Called opportunistically by the clustering
// loop; correctness does not depend on it.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if time.Since(e.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}
