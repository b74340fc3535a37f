package pagestore

import "container/list"

// lru is a bounded, in-memory LRU cache of parsed pages, keyed by page id.
// It is not safe for concurrent use; callers (the [Store]) serialize access.
type lru struct {
	capacity int
	ll       *list.List
	items    map[PageID]*list.Element
}

type lruEntry struct {
	id   PageID
	page *Page
}

func newLRU(capacity int) *lru {
	if capacity < 1 {
		capacity = 1
	}

	return &lru{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[PageID]*list.Element, capacity),
	}
}

// get returns the cached page for id, if present, promoting it to
// most-recently-used.
func (c *lru) get(id PageID) (*Page, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}

	c.ll.MoveToFront(el)

	return el.Value.(*lruEntry).page, true
}

// put inserts or replaces the cached page for id, evicting the
// least-recently-used entry if the cache is over capacity. Evictions never
// write anything back: writes are synchronous through the cache, so an
// evicted page is simply re-read from the medium on next access.
func (c *lru) put(id PageID, page *Page) {
	if el, ok := c.items[id]; ok {
		el.Value.(*lruEntry).page = page
		c.ll.MoveToFront(el)

		return
	}

	el := c.ll.PushFront(&lruEntry{id: id, page: page})
	c.items[id] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).id)
		}
	}
}

// invalidate drops id from the cache, if present.
func (c *lru) invalidate(id PageID) {
	if el, ok := c.items[id]; ok {
		c.ll.Remove(el)
		delete(c.items, id)
	}
}
