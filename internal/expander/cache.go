package expander

import lru "github.com/hashicorp/golang-lru/v2"

// LRUCache is the process-local expansion cache keyed by
// "query|contextHints" (spec.md §4.6).
type LRUCache struct {
	inner *lru.Cache[string, Expansion]
}

func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	inner, _ := lru.New[string, Expansion](size)
	return &LRUCache{inner: inner}
}

func (c *LRUCache) Get(key string) (Expansion, bool) { return c.inner.Get(key) }
func (c *LRUCache) Add(key string, value Expansion)  { c.inner.Add(key, value) }
