package store

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// VariableCount is the filled/total tally of a municipality's variable store.
type VariableCount struct {
	Filled int `json:"filled"`
	Total  int `json:"total"`
}

// CountCache memoizes VariableCount per municipality.
type CountCache struct {
	cache *gocache.Cache
}

// NewCountCache creates a cache whose entries expire after ttl.
func NewCountCache(ttl time.Duration) *CountCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CountCache{cache: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached count or calls load and caches its result.
// Load errors are not cached.
func (c *CountCache) Get(muni string, load func() (VariableCount, error)) (VariableCount, error) {
	if v, ok := c.cache.Get(muni); ok {
		return v.(VariableCount), nil
	}
	n, err := load()
	if err != nil {
		return VariableCount{}, err
	}
	c.cache.SetDefault(muni, n)
	return n, nil
}

func (c *CountCache) Invalidate(muni string) {
	c.cache.Delete(muni)
}

func (c *CountCache) Flush() {
	c.cache.Flush()
}
