// ABOUTME: Bounded in-memory cache of recent task results.
// ABOUTME: Evicts oldest entries so a long-running process cannot grow unbounded.

package orchestrator

import (
	"sync"

	"github.com/2389/espfleet/internal/store"
)

// DefaultResultCacheSize caps the in-memory result cache when no size is
// configured.
const DefaultResultCacheSize = 1024

// resultCache is a bounded map of task id to result. The original design
// kept results forever, which is a slow leak in a long-running process; this
// cache evicts the oldest entry once capacity is reached, with the SQLite
// ledger (when configured) as the durable fallback for evicted ids.
type resultCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*store.TaskResult
	order    []string // insertion order, oldest first
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = DefaultResultCacheSize
	}
	return &resultCache{
		capacity: capacity,
		entries:  make(map[string]*store.TaskResult, capacity),
	}
}

// put stores a result under the given id, evicting the oldest entry if the
// cache is full. Storing an existing id overwrites in place.
func (c *resultCache) put(taskID string, result *store.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[taskID]; exists {
		c.entries[taskID] = result
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[taskID] = result
	c.order = append(c.order, taskID)
}

// get returns the cached result for the id, if present.
func (c *resultCache) get(taskID string) (*store.TaskResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[taskID]
	return r, ok
}

// len returns the number of cached results.
func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
