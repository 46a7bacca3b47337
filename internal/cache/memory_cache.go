package cache

import (
	"container/list"
	"sync"
)

type blob struct {
	id    string
	value []byte
}

// MemoryBlobCache implements an in-memory LRU bounded by item count.
type MemoryBlobCache struct {
	mu       sync.Mutex
	maxItems int
	items    map[string]*list.Element
	lruList  *list.List
}

// NewMemoryBlobCache creates a new in-memory LRU holding at most maxItems blobs.
func NewMemoryBlobCache(maxItems int) *MemoryBlobCache {
	return &MemoryBlobCache{
		maxItems: maxItems,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

func (c *MemoryBlobCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[id]
	return ok
}

func (c *MemoryBlobCache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*blob).value, true
}

func (c *MemoryBlobCache) Set(id string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxItems <= 0 {
		return
	}

	if elem, ok := c.items[id]; ok {
		elem.Value.(*blob).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	for c.lruList.Len() >= c.maxItems {
		oldest := c.lruList.Back()
		delete(c.items, oldest.Value.(*blob).id)
		c.lruList.Remove(oldest)
	}

	elem := c.lruList.PushFront(&blob{id: id, value: value})
	c.items[id] = elem
}

func (c *MemoryBlobCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		c.lruList.Remove(elem)
		delete(c.items, id)
	}
}

func (c *MemoryBlobCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
}
