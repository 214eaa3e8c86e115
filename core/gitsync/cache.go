package gitsync

import (
	"github.com/dgraph-io/ristretto"
)

const (
	cacheNumCounters = 1e5  // admission policy counters
	cacheMaxCost     = 64e6 // 64MB of cached content
	cacheBufferItems = 64
)

// contentCache is a read-through cache of file bytes keyed by
// (head commit, path). Because the head hash is part of the key, moving the
// head naturally invalidates every stale entry; no explicit flush needed.
type contentCache struct {
	cache *ristretto.Cache
}

func newContentCache() (*contentCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &contentCache{cache: cache}, nil
}

func cacheKey(head, path string) string {
	return head + "\x00" + path
}

func (c *contentCache) get(head, path string) ([]byte, bool) {
	value, ok := c.cache.Get(cacheKey(head, path))
	if !ok {
		return nil, false
	}
	data, ok := value.([]byte)
	return data, ok
}

func (c *contentCache) set(head, path string, data []byte) {
	c.cache.Set(cacheKey(head, path), data, int64(len(data)))
}
