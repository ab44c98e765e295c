package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/types"
	"golang.org/x/sync/singleflight"
)

// BuildFunc computes the value for a cache miss, along with the read
// set it depended on and its size in bytes (for the byte-bounded
// eviction policy).
type BuildFunc[V any] func() (value V, readSet types.ReadSet, sizeBytes int, err error)

type entry[V any] struct {
	value     V
	readSet   types.ReadSet
	sizeBytes int
	builtAt   time.Time
	stale     bool
}

// Cache is a generic, read-set-invalidated, byte-bounded LRU. K is
// typically a struct key (component, udf path, arg fingerprint,
// pagination flag); V is whatever GetOrBuild's caller computes.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	lru       *lru.Cache[K, *entry[V]]
	group     singleflight.Group
	maxBytes  int
	usedBytes int
	maxAge    time.Duration
}

// New returns a cache capped at maxEntries items and maxBytes total
// size; maxAge bounds how old a cached entry may be before it is never
// served, matching spec's "stale entry... is never served".
func New[K comparable, V any](maxEntries, maxBytes int, maxAge time.Duration) (*Cache[K, V], error) {
	l, err := lru.New[K, *entry[V]](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{
		lru:      l,
		maxBytes: maxBytes,
		maxAge:   maxAge,
	}, nil
}

// GetOrBuild returns the cached value for key if it is present, fresh,
// and not invalidated; otherwise it calls build, with singleflight
// ensuring concurrent callers for the same key share one build.
func (c *Cache[K, V]) GetOrBuild(key K, build BuildFunc[V]) (V, error) {
	if v, ok := c.lookup(key); ok {
		metrics.CacheHitsTotal.Inc()
		return v, nil
	}
	metrics.CacheMissesTotal.Inc()

	groupKey := fmt.Sprintf("%v", key)
	v, err, _ := c.group.Do(groupKey, func() (interface{}, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		value, readSet, size, err := build()
		if err != nil {
			return value, err
		}
		c.store(key, value, readSet, size)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if e.stale {
		return zero, false
	}
	now := time.Now()
	if now.Sub(e.builtAt) > c.maxAge {
		return zero, false
	}
	if e.builtAt.After(now) {
		// Clock skew produced an entry from "the future"; never serve it.
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) store(key K, value V, readSet types.ReadSet, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.usedBytes -= old.sizeBytes
	}
	c.lru.Add(key, &entry[V]{value: value, readSet: readSet, sizeBytes: size, builtAt: time.Now()})
	c.usedBytes += size

	for c.usedBytes > c.maxBytes && c.lru.Len() > 0 {
		_, e, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.usedBytes -= e.sizeBytes
	}
	metrics.CacheEntriesTotal.Set(float64(c.lru.Len()))
}

// Invalidate marks every entry whose read set intersects any of the
// commit's written index entries as stale. Stale entries are dropped
// lazily at the next lookup, matching spec's "invalidated entries are
// dropped lazily at next probe" rather than walking the whole cache to
// delete them eagerly.
func (c *Cache[K, V]) Invalidate(indexID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok || e.stale {
			continue
		}
		if e.readSet.Intersects(indexID, types.Point(key)) {
			e.stale = true
		}
	}
}
