package iterator

import (
	"sort"

	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/table"
)

// SstConcatIterator iterates an ordered list of key-range-disjoint SSTs (any
// level L >= 1) as a single stream, advancing to the next table's iterator
// once the current one is exhausted.
type SstConcatIterator struct {
	tables []*table.SsTable
	idx    int
	cur    *table.Iterator
}

// NewSstConcatIterator builds an SstConcatIterator positioned at the first
// entry of tables[0].
func NewSstConcatIterator(tables []*table.SsTable) (*SstConcatIterator, error) {
	c := &SstConcatIterator{tables: tables}
	if err := c.openAt(0, true, key.Key{}); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSstConcatIteratorSeekedTo builds an SstConcatIterator positioned at the
// first entry >= k, locating the candidate table via binary search for the
// first table whose last key is >= k.
func NewSstConcatIteratorSeekedTo(tables []*table.SsTable, k key.Key) (*SstConcatIterator, error) {
	c := &SstConcatIterator{tables: tables}
	idx := sort.Search(len(tables), func(i int) bool {
		return key.Compare(tables[i].LastKey(), k) >= 0
	})
	if err := c.openAt(idx, false, k); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SstConcatIterator) openAt(idx int, first bool, k key.Key) error {
	for {
		if idx >= len(c.tables) {
			c.idx = idx
			c.cur = nil
			return nil
		}
		var it *table.Iterator
		var err error
		if first {
			it, err = table.NewIterator(c.tables[idx])
		} else {
			it, err = table.NewIteratorSeekedTo(c.tables[idx], k)
		}
		if err != nil {
			return err
		}
		if it.IsValid() {
			c.idx = idx
			c.cur = it
			return nil
		}
		idx++
		first = true
	}
}

func (c *SstConcatIterator) IsValid() bool { return c.cur != nil && c.cur.IsValid() }
func (c *SstConcatIterator) Key() key.Key  { return c.cur.Key() }
func (c *SstConcatIterator) Value() []byte { return c.cur.Value() }

func (c *SstConcatIterator) NumActiveIterators() int { return 1 }

func (c *SstConcatIterator) Next() error {
	if err := c.cur.Next(); err != nil {
		return err
	}
	if c.cur.IsValid() {
		return nil
	}
	return c.openAt(c.idx+1, true, key.Key{})
}
