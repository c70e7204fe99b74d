package pattern

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

const (
	// DefaultCacheSize is a reasonable matcher cache size for a single
	// monitor.
	DefaultCacheSize = 256
)

// Cache is a bounded, least-recently-used cache of compiled matchers. It is
// safe for concurrent use.
type Cache struct {
	// lock serializes access to matchers.
	lock sync.Mutex
	// matchers maps patterns to compiled matchers.
	matchers *lru.Cache
}

// NewCache creates a new cache holding at most maximumEntries matchers. A
// non-positive limit is treated as 1.
func NewCache(maximumEntries int) *Cache {
	if maximumEntries < 1 {
		maximumEntries = 1
	}
	return &Cache{matchers: lru.New(maximumEntries)}
}

// Compile returns the cached matcher for a pattern, compiling and caching it
// if necessary. Compilation failures are not cached.
func (c *Cache) Compile(p Pattern) (*Matcher, error) {
	// Check for a cached matcher.
	c.lock.Lock()
	if cached, ok := c.matchers.Get(p); ok {
		c.lock.Unlock()
		return cached.(*Matcher), nil
	}
	c.lock.Unlock()

	// Compile outside of the lock. Concurrent callers may both compile the
	// same pattern, but the results are equivalent.
	matcher, err := Compile(p)
	if err != nil {
		return nil, err
	}

	// Store the result.
	c.lock.Lock()
	c.matchers.Add(p, matcher)
	c.lock.Unlock()

	// Success.
	return matcher, nil
}

// Len returns the number of cached matchers.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.matchers.Len()
}

