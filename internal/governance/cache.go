package governance

import (
	"sync"
	"time"

	"github.com/nelssec/atoguard/internal/models"
)

const defaultPolicyCacheTTL = 5 * time.Minute

// policyCache memoizes external policy lookups per resource id so repeated
// pre-flight evaluations on unchanged state avoid redundant queries.
type policyCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]policyCacheEntry
}

type policyCacheEntry struct {
	states    []models.PolicyState
	fetchedAt time.Time
}

func newPolicyCache(ttl time.Duration) *policyCache {
	if ttl <= 0 {
		ttl = defaultPolicyCacheTTL
	}
	return &policyCache{
		ttl:     ttl,
		entries: make(map[string]policyCacheEntry),
	}
}

func (c *policyCache) get(resourceID string) ([]models.PolicyState, bool) {
	c.mu.RLock()
	entry, ok := c.entries[resourceID]
	c.mu.RUnlock()

	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.states, true
}

func (c *policyCache) put(resourceID string, states []models.PolicyState) {
	c.mu.Lock()
	c.entries[resourceID] = policyCacheEntry{states: states, fetchedAt: time.Now()}
	c.mu.Unlock()
}
