// Package cache implements the bounded, shared block cache that SST readers
// consult before going to disk: a count-bounded LRU keyed by (sst_id,
// block_idx) with a single GetOrCompute entry point.
package cache

import (
	"container/list"
	"sync"

	"github.com/go-lsm/lsmkv/internal/block"
)

// Key identifies one cached block.
type Key struct {
	SSTableID uint64
	BlockIdx  int
}

// BlockCache is a thread-safe, fixed-capacity LRU cache of decoded blocks.
type BlockCache struct {
	mu       sync.Mutex
	capacity int
	table    map[Key]*list.Element
	order    *list.List
}

type entry struct {
	key Key
	blk *block.Block
}

// New creates a BlockCache holding at most capacity blocks.
func New(capacity int) *BlockCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &BlockCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// GetOrCompute returns the cached block for key, computing and caching it via
// load on a miss. load is called without the cache lock held.
func (c *BlockCache) GetOrCompute(key Key, load func() (*block.Block, error)) (*block.Block, error) {
	c.mu.Lock()
	if elem, ok := c.table[key]; ok {
		c.order.MoveToFront(elem)
		blk := elem.Value.(*entry).blk
		c.mu.Unlock()
		return blk, nil
	}
	c.mu.Unlock()

	blk, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*entry).blk, nil
	}
	elem := c.order.PushFront(&entry{key: key, blk: blk})
	c.table[key] = elem
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.table, oldest.Value.(*entry).key)
	}
	return blk, nil
}

// Erase drops every cached block belonging to sstableID, used when an SST is
// removed by compaction.
func (c *BlockCache) Erase(sstableID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, elem := range c.table {
		if k.SSTableID == sstableID {
			c.order.Remove(elem)
			delete(c.table, k)
		}
	}
}
