// Package iterator composes memtable scans and SST readers into a single
// ordered, MVCC-visible stream. Every source (memtable scan, block
// iterator, SST iterator, concatenated level) and every combinator (Merge,
// TwoMerge, Concat, Lsm, Fused, Txn) implements the StorageIterator
// contract below.
package iterator

import "github.com/go-lsm/lsmkv/internal/key"

// StorageIterator is the contract every leaf and combinator iterator in this
// package satisfies.
type StorageIterator interface {
	// Key returns the current versioned key. Valid only while IsValid.
	Key() key.Key
	// Value returns the current value. Valid only while IsValid.
	Value() []byte
	// IsValid reports whether the iterator is positioned at a readable entry.
	IsValid() bool
	// Next advances to the next entry.
	Next() error
	// NumActiveIterators reports how many leaf sources remain behind this one.
	NumActiveIterators() int
}
