package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache is a short-TTL, read-mostly cache of enumerated resources per
// subscription. It is warmed once at the start of an assessment and read
// concurrently by scanners and batch remediation.
type Cache struct {
	inv Inventory
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resources []Resource
	groups    []ResourceGroup
	fetchedAt time.Time
}

func NewCache(inv Inventory, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		inv:     inv,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Warm enumerates resources and resource groups for the subscription and
// stores them, replacing any stale entry.
func (c *Cache) Warm(ctx context.Context, subscriptionID string) error {
	resources, err := c.inv.ListResources(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("listing resources: %w", err)
	}
	groups, err := c.inv.ListResourceGroups(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("listing resource groups: %w", err)
	}

	c.mu.Lock()
	c.entries[subscriptionID] = cacheEntry{
		resources: resources,
		groups:    groups,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()

	return nil
}

// Resources returns the cached resources for the subscription, re-warming
// if the entry is missing or past its TTL.
func (c *Cache) Resources(ctx context.Context, subscriptionID string) ([]Resource, error) {
	c.mu.RLock()
	entry, ok := c.entries[subscriptionID]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.resources, nil
	}

	if err := c.Warm(ctx, subscriptionID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry = c.entries[subscriptionID]
	c.mu.RUnlock()
	return entry.resources, nil
}

// ResourcesInGroup filters the cached resources down to one resource group.
func (c *Cache) ResourcesInGroup(ctx context.Context, subscriptionID, group string) ([]Resource, error) {
	resources, err := c.Resources(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	filtered := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if r.Group == group {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ResourceGroups returns the cached resource groups for the subscription.
func (c *Cache) ResourceGroups(ctx context.Context, subscriptionID string) ([]ResourceGroup, error) {
	c.mu.RLock()
	entry, ok := c.entries[subscriptionID]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.groups, nil
	}

	if err := c.Warm(ctx, subscriptionID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry = c.entries[subscriptionID]
	c.mu.RUnlock()
	return entry.groups, nil
}

// Invalidate drops the cached entry for a subscription.
func (c *Cache) Invalidate(subscriptionID string) {
	c.mu.Lock()
	delete(c.entries, subscriptionID)
	c.mu.Unlock()
}
