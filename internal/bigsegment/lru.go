package bigsegment

import (
	"container/list"
	"sync"
	"time"
)

// lru is a small bounded, mutex-guarded least-recently-used cache
// keyed by context key, each entry carrying its own expiry time.
//
// No LRU library is present anywhere in the retrieved example pack
// (the reference implementation's own "github.com/launchdarkly/ccache"
// is not vendored alongside it); this mirrors the teacher's preference
// for a small hand-written concurrency-safe container over adding an
// unrelated dependency for one bounded map (see datastore's TTL-cache
// wrapper for the same reasoning).
type lru struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type lruEntry struct {
	key     string
	value   any // nil means "cached not-found"
	present bool
	expires time.Time
}

func newLRU(maxSize int, ttl time.Duration) *lru {
	return &lru{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// get returns (value, found). found is false if the key was never
// cached or has expired.
func (c *lru) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *lru) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		el.Value.(*lruEntry).expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&lruEntry{key: key, value: value, expires: time.Now().Add(c.ttl)})
	c.items[key] = el

	for c.maxSize > 0 && len(c.items) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lru) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}
