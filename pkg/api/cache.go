package api

import (
	"context"
	"sync"

	"github.com/opencomply/opencomply/pkg/engine"
)

type cacheKey struct {
	workspace string
	t         engine.ResourceType
}

// resourceCache memoizes resource list projections per (workspace, type).
// Entries are dropped when the event bus reports a mutation for the pair.
type resourceCache struct {
	provider engine.ResourceStoreProvider

	mu      sync.RWMutex
	entries map[cacheKey][]engine.StoredResource
}

func newResourceCache(provider engine.ResourceStoreProvider) *resourceCache {
	return &resourceCache{
		provider: provider,
		entries:  make(map[cacheKey][]engine.StoredResource),
	}
}

// List returns the cached resource list, loading it from the store on a miss.
func (c *resourceCache) List(ctx context.Context, workspace string, t engine.ResourceType) ([]engine.StoredResource, error) {
	key := cacheKey{workspace, t}

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	rows, err := c.provider.Resources(workspace, t).List(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = rows
	c.mu.Unlock()
	return rows, nil
}

// Drop discards the cached list for one (workspace, type) pair.
func (c *resourceCache) Drop(workspace string, t engine.ResourceType) {
	c.mu.Lock()
	delete(c.entries, cacheKey{workspace, t})
	c.mu.Unlock()
}
