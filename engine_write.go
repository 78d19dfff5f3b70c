package lsmkv

import (
	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/logging"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/mvcc"
)

// Put writes value at key, visible to reads at or after the returned commit
// timestamp.
func (e *Engine) Put(userKey, value []byte) (uint64, error) {
	if len(userKey) == 0 {
		return 0, ErrEmptyKey
	}
	return e.WriteBatch([]mvcc.Record{{Key: userKey, Value: value}})
}

// Delete writes a tombstone at key.
func (e *Engine) Delete(userKey []byte) (uint64, error) {
	if len(userKey) == 0 {
		return 0, ErrEmptyKey
	}
	return e.WriteBatch([]mvcc.Record{{Key: userKey, Value: nil}})
}

// WriteBatch implements mvcc.Backend and the public batched-write API: it
// allocates one commit timestamp for the whole batch and applies every
// record at that timestamp, so the batch becomes visible atomically to all
// snapshots with read_ts >= commit_ts.
func (e *Engine) WriteBatch(records []mvcc.Record) (uint64, error) {
	if e.closed.get() {
		return 0, ErrClosed
	}
	for _, rec := range records {
		if len(rec.Key) == 0 {
			return 0, ErrEmptyKey
		}
	}

	e.oracle.WriteLock().Lock()
	defer e.oracle.WriteLock().Unlock()

	commitTs := e.oracle.LastCommitTs() + 1

	for _, rec := range records {
		state := e.loadState()
		k := key.New(rec.Key, commitTs)
		if err := state.memtable.Put(k, rec.Value); err != nil {
			return 0, err
		}

		if state.memtable.ApproximateSize() >= int64(e.opts.TargetSstSize) {
			if err := e.tryFreeze(state.memtable.ID()); err != nil {
				return 0, err
			}
		}
	}

	e.oracle.UpdateCommitTs(commitTs)
	return commitTs, nil
}

// tryFreeze freezes the current memtable if, after re-checking under
// stateLock, it is still the one the caller observed and still over the
// size threshold. Re-checking avoids a duplicate freeze when two writers
// both cross the threshold concurrently.
func (e *Engine) tryFreeze(expectID uint64) error {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	cur := e.loadState()
	if cur.memtable.ID() != expectID || cur.memtable.ApproximateSize() < int64(e.opts.TargetSstSize) {
		return nil
	}

	newID := e.ids.allocate()
	newMt, err := e.newMemtable(newID)
	if err != nil {
		return err
	}

	newState := cur.clone()
	newState.memtable = newMt
	newState.immMemtables = append([]*memtable.MemTable{cur.memtable}, cur.immMemtables...)
	e.swapState(newState)

	if err := cur.memtable.SyncWal(); err != nil {
		return err
	}
	if err := e.manifest.AddRecord(manifest.Record{Kind: manifest.KindNewMemTable, MemTableID: newID}); err != nil {
		return err
	}
	return syncDir(e.dir)
}

// GetWithTs implements mvcc.Backend.
func (e *Engine) GetWithTs(userKey []byte, ts uint64) ([]byte, bool, error) {
	return e.getWithTs(userKey, ts)
}

// ScanWithTs implements mvcc.Backend.
func (e *Engine) ScanWithTs(lower, upper iterator.Bound, ts uint64) (iterator.StorageIterator, error) {
	return e.scanWithTs(lower, upper, ts)
}

// NewTxn starts a transaction reading at the engine's current commit
// timestamp.
func (e *Engine) NewTxn() *mvcc.Transaction {
	txn := e.oracle.NewTxn(e, e.opts.Serializable)
	e.log.Debugf(logging.NSTxn+"started at read_ts=%d serializable=%t", txn.ReadTs(), e.opts.Serializable)
	return txn
}
