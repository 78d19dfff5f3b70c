package lsmkv

import (
	"os"

	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/table"
)

// Flush freezes the current memtable if it holds any writes, then blocks
// until every immutable memtable has been written out as an L0 SST.
func (e *Engine) Flush() error {
	return e.flushAllMemtables()
}

// forceFlushOldestImmMemtable flushes the oldest immutable memtable (the
// last entry of immMemtables, which is ordered newest-first) to a new L0
// SST, then records and publishes the result.
func (e *Engine) forceFlushOldestImmMemtable() error {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	cur := e.loadState()
	if len(cur.immMemtables) == 0 {
		return nil
	}
	oldest := cur.immMemtables[len(cur.immMemtables)-1]

	sst, err := e.buildSstFromMemtable(oldest)
	if err != nil {
		return err
	}

	next := cur.clone()
	next.immMemtables = cur.immMemtables[:len(cur.immMemtables)-1]
	next.l0SSTables = append([]uint64{sst.ID()}, cur.l0SSTables...)
	next.sstables[sst.ID()] = sst
	e.swapState(next)

	if err := e.manifest.AddRecord(manifest.Record{Kind: manifest.KindFlush, SstID: sst.ID()}); err != nil {
		return err
	}
	if err := syncDir(e.dir); err != nil {
		return err
	}

	if e.opts.EnableWal {
		if err := oldest.CloseWal(); err != nil {
			return err
		}
		if err := os.Remove(walPath(e.dir, oldest.ID())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (e *Engine) buildSstFromMemtable(mt *memtable.MemTable) (*table.SsTable, error) {
	builder := table.NewBuilder(e.opts.BlockSize)
	it := mt.Scan(key.Key{}, key.Key{UserKey: maxUserKey, Ts: key.TsRangeEnd})
	for it.IsValid() {
		builder.Add(it.Key(), it.Value())
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return builder.Build(mt.ID(), e.blockCache, sstPath(e.dir, mt.ID()))
}

// flushAllMemtables flushes the current memtable and every immutable
// memtable; used by Flush, and by Close when the WAL is disabled so buffered
// writes are not lost.
func (e *Engine) flushAllMemtables() error {
	e.stateLock.Lock()
	cur := e.loadState()
	if cur.memtable.ApproximateSize() > 0 {
		newID := e.ids.allocate()
		newMt, err := e.newMemtable(newID)
		if err != nil {
			e.stateLock.Unlock()
			return err
		}
		next := cur.clone()
		next.memtable = newMt
		next.immMemtables = append([]*memtable.MemTable{cur.memtable}, cur.immMemtables...)
		e.swapState(next)
		if err := e.manifest.AddRecord(manifest.Record{Kind: manifest.KindNewMemTable, MemTableID: newID}); err != nil {
			e.stateLock.Unlock()
			return err
		}
	}
	e.stateLock.Unlock()

	for e.loadState().immMemtableCount() > 0 {
		if err := e.forceFlushOldestImmMemtable(); err != nil {
			return err
		}
	}
	return nil
}

func (s *lsmState) immMemtableCount() int { return len(s.immMemtables) }
