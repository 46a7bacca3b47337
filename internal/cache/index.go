package cache

import (
	"container/list"
	"sort"
)

// cacheIndex maps entry id to entry and keeps entries ordered by CreatedAt.
// It is not safe for concurrent use; the Engine lock guards it.
type cacheIndex struct {
	items      map[string]*list.Element
	byCreation *list.List
	totalBytes int64
}

func newCacheIndex() *cacheIndex {
	return &cacheIndex{
		items:      make(map[string]*list.Element),
		byCreation: list.New(),
	}
}

// load replaces the index contents.
func (idx *cacheIndex) load(entries []*CacheEntry) {
	idx.reset()

	sorted := make([]*CacheEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	for _, e := range sorted {
		idx.put(e)
	}
}

func (idx *cacheIndex) reset() {
	idx.items = make(map[string]*list.Element)
	idx.byCreation = list.New()
	idx.totalBytes = 0
}

func (idx *cacheIndex) get(id string) *CacheEntry {
	elem, ok := idx.items[id]
	if !ok {
		return nil
	}
	return elem.Value.(*CacheEntry)
}

// put inserts or replaces an entry, keeping creation order.
func (idx *cacheIndex) put(e *CacheEntry) {
	idx.remove(e.ID)

	// new entries are almost always the newest; walk back from the tail
	mark := idx.byCreation.Back()
	for mark != nil && mark.Value.(*CacheEntry).CreatedAt.After(e.CreatedAt) {
		mark = mark.Prev()
	}

	var elem *list.Element
	if mark == nil {
		elem = idx.byCreation.PushFront(e)
	} else {
		elem = idx.byCreation.InsertAfter(e, mark)
	}
	idx.items[e.ID] = elem
	idx.totalBytes += e.Size
}

func (idx *cacheIndex) remove(id string) *CacheEntry {
	elem, ok := idx.items[id]
	if !ok {
		return nil
	}
	e := idx.byCreation.Remove(elem).(*CacheEntry)
	delete(idx.items, id)
	idx.totalBytes -= e.Size
	return e
}

// find returns the first entry matched by key.
func (idx *cacheIndex) find(key Key) *CacheEntry {
	if key.Mode == ContentKeyed {
		return idx.get(contentID(key.Value))
	}
	for elem := idx.byCreation.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*CacheEntry)
		if key.matches(e) {
			return e
		}
	}
	return nil
}

// findByFile returns entries stored in the given file.
func (idx *cacheIndex) findByFile(fileName string) []*CacheEntry {
	var out []*CacheEntry
	for elem := idx.byCreation.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*CacheEntry)
		if e.fileName() == fileName {
			out = append(out, e)
		}
	}
	return out
}

func (idx *cacheIndex) oldest() *CacheEntry {
	if elem := idx.byCreation.Front(); elem != nil {
		return elem.Value.(*CacheEntry)
	}
	return nil
}

func (idx *cacheIndex) newest() *CacheEntry {
	if elem := idx.byCreation.Back(); elem != nil {
		return elem.Value.(*CacheEntry)
	}
	return nil
}

func (idx *cacheIndex) len() int {
	return len(idx.items)
}

func (idx *cacheIndex) size() int64 {
	return idx.totalBytes
}

// entries returns the live entries in creation order.
func (idx *cacheIndex) entries() []*CacheEntry {
	out := make([]*CacheEntry, 0, len(idx.items))
	for elem := idx.byCreation.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*CacheEntry))
	}
	return out
}

// snapshot returns copies of all entries in creation order.
func (idx *cacheIndex) snapshot() []*CacheEntry {
	live := idx.entries()
	out := make([]*CacheEntry, len(live))
	for i, e := range live {
		out[i] = e.clone()
	}
	return out
}
