// Package cache memoizes data source lookups for the duration of one trace run.
package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 10000
)

// Key builds a cache key from a chain, an operation name and its arguments.
func Key(chain, op string, args ...interface{}) string {
	var sb strings.Builder
	sb.WriteString(chain)
	sb.WriteByte('|')
	sb.WriteString(op)
	for _, arg := range args {
		sb.WriteByte('|')
		fmt.Fprint(&sb, arg)
	}
	return sb.String()
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

type entry struct {
	key      string
	value    interface{}
	inserted time.Time
}

// ResultCache is a bounded TTL cache. Expired entries are dropped lazily on
// access. When the entry cap is reached the oldest inserted entry is evicted,
// regardless of how recently it was read.
type ResultCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	stats   Stats

	group singleflight.Group
}

func NewResultCache(ttl time.Duration, maxEntries int) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &ResultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *ResultCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *ResultCache) getLocked(key string) (interface{}, bool) {
	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.now().Sub(e.inserted) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key. Overwriting a key counts as a fresh insertion.
func (c *ResultCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
		c.stats.Evictions++
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, value: value, inserted: c.now()})
}

// GetOrCompute returns the cached value for key, or runs produce and caches
// its result. Concurrent callers for the same missing key share a single
// produce call. Errors are returned to every waiting caller and never cached.
func (c *ResultCache) GetOrCompute(key string, produce func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another caller may have filled the key while we waited on the group
		c.mu.Lock()
		if elem, ok := c.entries[key]; ok && c.now().Sub(elem.Value.(*entry).inserted) <= c.ttl {
			c.mu.Unlock()
			return elem.Value.(*entry).value, nil
		}
		c.mu.Unlock()

		v, err := produce()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	return v, err
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	return s
}
