package loader

import (
	"container/list"
	"sync"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// CacheEntry is the UTXO projection the Bulk Loader needs to resolve a
// spending input's address and value without a store round-trip.
type CacheEntry struct {
	Address string
	Value   types.Amount
}

// utxoCache is a bounded LRU keyed by OutPoint (a value type, so no
// string formatting sits in the hot path). Size is a fixed entry count
// set at construction; eviction is least-recently-used and does not
// track which batch an output came from.
type utxoCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[types.OutPoint]*list.Element
	order    *list.List
}

type cacheNode struct {
	key   types.OutPoint
	entry CacheEntry
}

func newUTXOCache(capacity int) *utxoCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &utxoCache{
		capacity: capacity,
		entries:  make(map[types.OutPoint]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *utxoCache) Put(key types.OutPoint, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheNode).entry = entry
		c.order.MoveToFront(elem)
		return
	}
	elem := c.order.PushFront(&cacheNode{key: key, entry: entry})
	c.entries[key] = elem
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheNode).key)
		}
	}
}

func (c *utxoCache) Get(key types.OutPoint) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheNode).entry, true
}
