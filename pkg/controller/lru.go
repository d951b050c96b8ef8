package controller

import "container/list"

// lruCache is a strict least-recently-used cache of suggestion results.
// It belongs to exactly one controller and is only touched under the
// controller's own mutex, so it carries no locking of its own.
type lruCache struct {
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type lruEntry struct {
	query string
	items []Item
}

func newLRUCache(capacity int) *lruCache {
	if capacity < 1 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// get returns the cached items and promotes the entry to most recent.
func (c *lruCache) get(query string) ([]Item, bool) {
	el, ok := c.entries[query]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).items, true
}

// put inserts or refreshes query, evicting the least recent entry when
// over capacity.
func (c *lruCache) put(query string, items []Item) {
	if el, ok := c.entries[query]; ok {
		el.Value.(*lruEntry).items = items
		c.order.MoveToFront(el)
		return
	}
	c.entries[query] = c.order.PushFront(&lruEntry{query: query, items: items})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).query)
	}
}

func (c *lruCache) len() int {
	return c.order.Len()
}
