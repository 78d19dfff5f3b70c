package lsmkv

import (
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/table"
)

// level holds one non-L0 level's disjoint, first-key-sorted SST ids.
type level struct {
	sstIDs []uint64
}

// lsmState is an immutable snapshot of the engine's storage layout. Updates
// clone it, mutate the clone, then atomically swap the shared pointer held
// by Engine.state; readers always see either the old or the new state in
// full. The memtable and immMemtables handles are themselves concurrency-
// safe and are shared by reference across snapshots; only the slices and
// map that locate them are copy-on-write.
type lsmState struct {
	memtable     *memtable.MemTable
	immMemtables []*memtable.MemTable // index 0 is newest
	l0SSTables   []uint64             // ids, newest first
	levels       []level              // index 0 is L1

	sstables map[uint64]*table.SsTable
}

func newLsmState(mt *memtable.MemTable) *lsmState {
	return &lsmState{
		memtable: mt,
		sstables: make(map[uint64]*table.SsTable),
	}
}

// clone returns a shallow copy suitable for copy-on-write mutation: slices
// and the sstables map are copied so the original snapshot is untouched,
// but the memtable handles and *table.SsTable values themselves are shared.
func (s *lsmState) clone() *lsmState {
	c := &lsmState{
		memtable: s.memtable,
		sstables: make(map[uint64]*table.SsTable, len(s.sstables)),
	}
	c.immMemtables = append([]*memtable.MemTable(nil), s.immMemtables...)
	c.l0SSTables = append([]uint64(nil), s.l0SSTables...)
	c.levels = make([]level, len(s.levels))
	for i, lv := range s.levels {
		c.levels[i] = level{sstIDs: append([]uint64(nil), lv.sstIDs...)}
	}
	for id, sst := range s.sstables {
		c.sstables[id] = sst
	}
	return c
}
