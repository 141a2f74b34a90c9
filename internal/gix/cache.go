package gix

import "sync"

// Key identifies one posting list: a vocabulary word within one index
// key. KeyID/WordID are plain integers here (not schema.KeyID/vocab.WordID)
// so this package stays usable from both the vocab-typed callers in index
// and from the bulk loader, which works with raw ids before a full
// IndexVoc is wired up.
type Key struct {
	KeyID  int64
	WordID uint64
}

type cacheEntry struct {
	list PostingList
	size int64
	seq  int64
}

// cache is an in-memory posting-list cache bounded by estimated byte
// size. Eviction is size-first (biggest entries go first, since they did
// the most to blow the budget) with recency as the tiebreaker among
// equally-sized candidates, per the spec's cache_size_bytes eviction rule.
type cache struct {
	mu       sync.Mutex
	entries  map[Key]*cacheEntry
	bytes    int64
	maxBytes int64
	clock    int64
}

func newCache(maxBytes int64) *cache {
	return &cache{entries: make(map[Key]*cacheEntry), maxBytes: maxBytes}
}

func (c *cache) get(k Key) (PostingList, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	c.clock++
	e.seq = c.clock
	return e.list.Clone(), true
}

func (c *cache) put(k Key, list PostingList) {
	if c.maxBytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := list.sizeBytes()
	if old, ok := c.entries[k]; ok {
		c.bytes -= old.size
	}
	c.clock++
	c.entries[k] = &cacheEntry{list: list.Clone(), size: size, seq: c.clock}
	c.bytes += size

	c.evictLocked()
}

func (c *cache) invalidate(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[k]; ok {
		c.bytes -= old.size
		delete(c.entries, k)
	}
}

func (c *cache) evictLocked() {
	for c.bytes > c.maxBytes && len(c.entries) > 0 {
		var victim Key
		var victimSize int64 = -1
		var victimSeq int64
		for k, e := range c.entries {
			if e.size > victimSize || (e.size == victimSize && e.seq < victimSeq) {
				victim, victimSize, victimSeq = k, e.size, e.seq
			}
		}
		c.bytes -= victimSize
		delete(c.entries, victim)
	}
}
