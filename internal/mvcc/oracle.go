package mvcc

import "sync"

// committedTxn records the read/write footprint of a committed serializable
// transaction, kept only long enough to validate transactions that started
// before it committed.
type committedTxn struct {
	readTs     uint64
	writeHashes map[uint32]struct{}
}

// Oracle allocates commit timestamps, tracks the set of active readers via
// Watermark, and validates serializable transactions against the write sets
// of transactions committed since they started.
type Oracle struct {
	mu         sync.Mutex // guards lastTs and the watermark
	writeLock  sync.Mutex // serializes commit-ts allocation
	commitLock sync.Mutex // serializes the commit critical section

	lastTs    uint64
	watermark *Watermark

	committedTxns map[uint64]committedTxn
}

// NewOracle creates an Oracle whose first allocated commit timestamp is 1.
func NewOracle() *Oracle {
	return &Oracle{
		watermark:     NewWatermark(),
		committedTxns: make(map[uint64]committedTxn),
	}
}

// LastCommitTs returns the most recently allocated commit timestamp.
func (o *Oracle) LastCommitTs() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTs
}

// UpdateCommitTs advances lastTs to ts if ts is newer; called after a
// successful write_batch_inner with the commit_ts it allocated.
func (o *Oracle) UpdateCommitTs(ts uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts > o.lastTs {
		o.lastTs = ts
	}
}

// Watermark returns the lowest active read timestamp, falling back to the
// latest commit timestamp when no transaction is active.
func (o *Oracle) Watermark() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts, ok := o.watermark.Watermark(); ok {
		return ts
	}
	return o.lastTs
}

// NumSnapshots returns the number of registered active read-timestamp
// references.
func (o *Oracle) NumSnapshots() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watermark.NumSnapshots()
}

// beginRead reads the current commit timestamp as a read_ts and registers it
// with the watermark, atomically with respect to concurrent UpdateCommitTs.
func (o *Oracle) beginRead() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	readTs := o.lastTs
	o.watermark.AddReader(readTs)
	return readTs
}

func (o *Oracle) endRead(readTs uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watermark.RemoveReader(readTs)
}

// WriteLock exposes the commit-ts allocation lock to the engine's
// write_batch_inner, which must hold it across the whole allocate-and-apply
// sequence.
func (o *Oracle) WriteLock() *sync.Mutex { return &o.writeLock }

// ErrConflict is returned by CommitSerializable when a concurrently
// committed transaction's write set intersects this transaction's read set.
var ErrConflict = conflictError{}

type conflictError struct{}

func (conflictError) Error() string { return "mvcc: serializable conflict, retry transaction" }

// CommitSerializable runs the commit critical section: under commitLock, it
// validates (when serializable and the write set is non-empty) that no
// transaction committed after readTs wrote a key this transaction read, then
// calls doCommit to allocate a commit timestamp and apply the writes, then
// records this transaction's footprint for future validations and garbage
// collects entries at or below the watermark.
func (o *Oracle) CommitSerializable(serializable bool, readTs uint64, readHashes, writeHashes map[uint32]struct{}, doCommit func() (uint64, error)) (uint64, error) {
	o.commitLock.Lock()
	defer o.commitLock.Unlock()

	if serializable && len(writeHashes) > 0 {
		o.mu.Lock()
		for commitTs, txn := range o.committedTxns {
			if commitTs <= readTs {
				continue
			}
			if hashSetsIntersect(txn.writeHashes, readHashes) {
				o.mu.Unlock()
				return 0, ErrConflict
			}
		}
		o.mu.Unlock()
	}

	commitTs, err := doCommit()
	if err != nil {
		return 0, err
	}

	if serializable {
		o.mu.Lock()
		o.committedTxns[commitTs] = committedTxn{readTs: readTs, writeHashes: writeHashes}
		watermark, ok := o.watermark.Watermark()
		if !ok {
			watermark = o.lastTs
		}
		for ts := range o.committedTxns {
			if ts <= watermark {
				delete(o.committedTxns, ts)
			}
		}
		o.mu.Unlock()
	}

	return commitTs, nil
}

func hashSetsIntersect(a, b map[uint32]struct{}) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for h := range small {
		if _, ok := big[h]; ok {
			return true
		}
	}
	return false
}
