package table

import (
	"github.com/go-lsm/lsmkv/internal/block"
	"github.com/go-lsm/lsmkv/internal/key"
)

// Iterator walks an SsTable's entries in key order, crossing block
// boundaries transparently and consulting the block cache for each block it
// visits.
type Iterator struct {
	table    *SsTable
	blockIdx int
	blockIt  *block.Iterator
	err      error
}

// NewIterator opens an Iterator positioned at t's first entry.
func NewIterator(t *SsTable) (*Iterator, error) {
	it := &Iterator{table: t}
	if err := it.seekToBlock(0, true, key.Key{}); err != nil {
		return nil, err
	}
	return it, nil
}

// NewIteratorSeekedTo opens an Iterator positioned at the first entry >= k.
func NewIteratorSeekedTo(t *SsTable, k key.Key) (*Iterator, error) {
	it := &Iterator{table: t}
	idx := t.FindBlockIdx(k)
	if err := it.seekToBlock(idx, false, k); err != nil {
		return nil, err
	}
	if !it.blockIt.IsValid() {
		if err := it.seekToBlock(idx+1, true, key.Key{}); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) seekToBlock(idx int, first bool, k key.Key) error {
	if idx >= it.table.NumBlocks() {
		it.blockIdx = idx
		it.blockIt = nil
		return nil
	}
	blk, err := it.table.ReadBlockCached(idx)
	if err != nil {
		return err
	}
	bi := block.NewIterator(blk)
	if first {
		bi.SeekToFirst()
	} else {
		bi.SeekToKey(k)
	}
	it.blockIdx = idx
	it.blockIt = bi
	return nil
}

// IsValid reports whether the iterator is positioned at a readable entry.
func (it *Iterator) IsValid() bool {
	return it.err == nil && it.blockIt != nil && it.blockIt.IsValid()
}

// Key returns the current versioned key.
func (it *Iterator) Key() key.Key { return it.blockIt.Key() }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.blockIt.Value() }

// Next advances to the next entry, crossing into the following block if the
// current one is exhausted.
func (it *Iterator) Next() error {
	if it.err != nil {
		return it.err
	}
	it.blockIt.Next()
	if it.blockIt.IsValid() {
		return nil
	}
	if err := it.seekToBlock(it.blockIdx+1, true, key.Key{}); err != nil {
		it.err = err
		return err
	}
	return nil
}

// NumActiveIterators is always 1: an SsTable iterator is a single source.
func (it *Iterator) NumActiveIterators() int { return 1 }
