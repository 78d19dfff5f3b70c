package mvcc

import (
	"bytes"
	"sort"

	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/key"
)

// localIterator walks a transaction's local write set in key order within a
// range, materializing the sorted slice eagerly so it owns everything the
// caller inspects (the map it was built from may keep mutating underneath).
type localIterator struct {
	entries []localIterEntry
	idx     int
}

type localIterEntry struct {
	userKey []byte
	value   []byte
}

func newLocalIterator(local map[string]localEntry, lower, upper iterator.Bound) *localIterator {
	entries := make([]localIterEntry, 0, len(local))
	for k, e := range local {
		uk := []byte(k)
		if !inBounds(uk, lower, upper) {
			continue
		}
		v := e.value
		if e.tombstone {
			v = nil
		}
		entries = append(entries, localIterEntry{userKey: uk, value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].userKey, entries[j].userKey) < 0
	})
	return &localIterator{entries: entries}
}

func inBounds(uk []byte, lower, upper iterator.Bound) bool {
	if lower.Kind == iterator.Included && bytes.Compare(uk, lower.Key) < 0 {
		return false
	}
	if lower.Kind == iterator.Excluded && bytes.Compare(uk, lower.Key) <= 0 {
		return false
	}
	if upper.Kind == iterator.Included && bytes.Compare(uk, upper.Key) > 0 {
		return false
	}
	if upper.Kind == iterator.Excluded && bytes.Compare(uk, upper.Key) >= 0 {
		return false
	}
	return true
}

func (l *localIterator) IsValid() bool { return l.idx < len(l.entries) }

func (l *localIterator) Key() key.Key {
	return key.New(l.entries[l.idx].userKey, key.TsRangeBegin)
}

func (l *localIterator) Value() []byte { return l.entries[l.idx].value }

func (l *localIterator) Next() error {
	l.idx++
	return nil
}

func (l *localIterator) NumActiveIterators() int { return 1 }
