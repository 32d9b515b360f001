package httpcache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"netstack/internal/nserr"
)

// lruNode is the payload stored in the container/list element for each
// fingerprint, letting Touch move an entry to the front in O(1).
type lruNode struct {
	fp    Fingerprint
	entry *Entry
}

// Cache is an in-memory, LRU-bounded HTTP cache, per spec.md §4.8.
// Single-flight collapses concurrent misses for the same fingerprint
// into one network fetch (spec.md §4.1 step 14, §8 testable property).
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	index    map[string]*list.Element
	order    *list.List // front = most recently used

	group singleflight.Group
	now   func() time.Time
}

// New returns a Cache bounded to maxBytes live bytes.
func New(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		index:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the stored entry for fp and its freshness, or ok=false if
// absent. Expired-and-still-present entries are returned with
// FreshnessStale so the caller can decide whether to serve it as-is
// (ForceCache, OnlyIfCached) or revalidate it (Default, NoCache).
func (c *Cache) Get(fp Fingerprint) (*Entry, Freshness, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[fp.String()]
	if !ok {
		return nil, FreshnessStale, false
	}
	node := el.Value.(*lruNode)
	node.entry.LastAccessed = c.now()
	c.order.MoveToFront(el)
	return node.entry, node.entry.Assess(c.now()), true
}

// Store inserts or replaces the entry for fp, then evicts LRU entries
// until total live bytes are within maxBytes (spec.md §3, §8: enforced
// immediately after Store returns).
func (c *Cache) Store(fp Fingerprint, entry *Entry) {
	entry.ReceivedAt = nonZero(entry.ReceivedAt, c.now())
	entry.LastAccessed = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[fp.String()]; ok {
		old := el.Value.(*lruNode)
		c.curBytes -= old.entry.Size
		old.entry = entry
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&lruNode{fp: fp, entry: entry})
		c.index[fp.String()] = el
	}
	c.curBytes += entry.Size
	c.evictLocked()
}

func nonZero(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func (c *Cache) evictLocked() {
	for c.curBytes > c.maxBytes && c.order.Len() > 0 {
		back := c.order.Back()
		node := back.Value.(*lruNode)
		c.order.Remove(back)
		delete(c.index, node.fp.String())
		c.curBytes -= node.entry.Size
	}
}

// EvictTo forces eviction until live bytes are at most bytes.
func (c *Cache) EvictTo(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.maxBytes
	c.maxBytes = bytes
	c.evictLocked()
	c.maxBytes = prev
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.order = list.New()
	c.curBytes = 0
}

// Refresh updates validators/headers/freshness of an existing entry after
// a 304 Not Modified response, per spec.md §4.8, without re-storing the
// body.
func (c *Cache) Refresh(fp Fingerprint, header map[string][]string, directives Directives, validators Validators) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[fp.String()]
	if !ok {
		return false
	}
	node := el.Value.(*lruNode)
	node.entry.Header = header
	node.entry.Directives = directives
	node.entry.Validators = validators
	node.entry.ReceivedAt = c.now()
	c.order.MoveToFront(el)
	return true
}

// Fetch performs a single-flight network fetch for fp: concurrent callers
// with the same fingerprint share one execution of fn and its result,
// per spec.md §4.1 step 14 and §8.
func (c *Cache) Fetch(fp Fingerprint, fn func() (*Entry, error)) (*Entry, error) {
	v, err, _ := c.group.Do(fp.String(), func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, nserr.Wrap(nserr.KindCache, "single-flight fetch failed", err)
	}
	return v.(*Entry), nil
}

// Bytes reports current live bytes, for tests and metrics.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
