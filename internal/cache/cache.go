// Package cache provides the bounded LRU+TTL caches used by the Embedder
// and Summarizer adapters and by GhostRegistry's per-user read-through
// layer. The Reranker adapter does not cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Keyer hashes arbitrary input into a SHA-256 cache key.
func Keyer(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TTLCache is a size-bounded, TTL-evicting cache of hashed keys to values.
// It is safe for concurrent use; golang-lru's expirable.LRU holds its own
// lock internally.
type TTLCache[V any] struct {
	inner *lru.LRU[string, V]
}

// New constructs a TTLCache holding up to size entries, each evicted after ttl.
func New[V any](size int, ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{inner: lru.NewLRU[string, V](size, nil, ttl)}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	return c.inner.Get(key)
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.inner.Add(key, value)
}

func (c *TTLCache[V]) Remove(key string) {
	c.inner.Remove(key)
}

func (c *TTLCache[V]) Len() int {
	return c.inner.Len()
}

func (c *TTLCache[V]) Purge() {
	c.inner.Purge()
}
