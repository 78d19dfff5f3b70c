package mvcc

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/filter"
	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/key"
)

// ErrCommitted is returned when an operation is attempted on a transaction
// that has already committed.
var ErrCommitted = errors.New("mvcc: transaction already committed")

// Backend is the slice of the engine a Transaction needs: committing a batch
// of local writes and reading/scanning the engine's visible state at a
// fixed timestamp.
type Backend interface {
	WriteBatch(records []Record) (uint64, error)
	GetWithTs(userKey []byte, ts uint64) ([]byte, bool, error)
	ScanWithTs(lower, upper iterator.Bound, ts uint64) (iterator.StorageIterator, error)
}

// Record is one write within a batch: an empty Value marks a tombstone.
type Record struct {
	Key   []byte
	Value []byte
}

type localEntry struct {
	value     []byte
	tombstone bool
}

// Transaction is an optimistic, snapshot-isolated unit of work. Reads see
// ReadTs plus this transaction's own uncommitted writes; writes are
// buffered locally until Commit.
type Transaction struct {
	oracle       *Oracle
	backend      Backend
	readTs       uint64
	serializable bool

	mu        sync.Mutex
	local     map[string]localEntry
	committed bool

	readHashes  map[uint32]struct{}
	writeHashes map[uint32]struct{}
}

func newTransaction(oracle *Oracle, backend Backend, serializable bool) *Transaction {
	readTs := oracle.beginRead()
	t := &Transaction{
		oracle:       oracle,
		backend:      backend,
		readTs:       readTs,
		serializable: serializable,
		local:        make(map[string]localEntry),
	}
	if serializable {
		t.readHashes = make(map[uint32]struct{})
		t.writeHashes = make(map[uint32]struct{})
	}
	return t
}

// ReadTs returns the snapshot timestamp this transaction reads at.
func (t *Transaction) ReadTs() uint64 { return t.readTs }

// Put buffers a write, visible only to this transaction until Commit.
func (t *Transaction) Put(userKey, value []byte) error {
	return t.write(userKey, value, false)
}

// Delete buffers a tombstone.
func (t *Transaction) Delete(userKey []byte) error {
	return t.write(userKey, nil, true)
}

func (t *Transaction) write(userKey, value []byte, tombstone bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return ErrCommitted
	}
	t.local[string(userKey)] = localEntry{value: value, tombstone: tombstone}
	if t.serializable {
		t.writeHashes[filter.Fingerprint32(userKey)] = struct{}{}
	}
	return nil
}

// Get consults the local write set first, then the engine's visible state
// at ReadTs. A local or committed tombstone reports not-found.
func (t *Transaction) Get(userKey []byte) ([]byte, bool, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return nil, false, ErrCommitted
	}
	if entry, ok := t.local[string(userKey)]; ok {
		if t.serializable {
			t.readHashes[filter.Fingerprint32(userKey)] = struct{}{}
		}
		t.mu.Unlock()
		if entry.tombstone {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	t.mu.Unlock()

	if t.serializable {
		t.mu.Lock()
		t.readHashes[filter.Fingerprint32(userKey)] = struct{}{}
		t.mu.Unlock()
	}
	return t.backend.GetWithTs(userKey, t.readTs)
}

// Scan returns a TxnIterator over [lower, upper] layering local writes over
// the engine's visible state, recording every visited key into the read set.
func (t *Transaction) Scan(lower, upper iterator.Bound) (*iterator.TxnIterator, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return nil, ErrCommitted
	}
	localIter := newLocalIterator(t.local, lower, upper)
	t.mu.Unlock()

	committed, err := t.backend.ScanWithTs(lower, upper, t.readTs)
	if err != nil {
		return nil, err
	}

	onVisit := func(userKey []byte) {}
	if t.serializable {
		onVisit = func(userKey []byte) {
			t.mu.Lock()
			t.readHashes[filter.Fingerprint32(userKey)] = struct{}{}
			t.mu.Unlock()
		}
	}
	return iterator.NewTxnIterator(localIter, committed, onVisit)
}

// Commit validates (if serializable) and applies this transaction's local
// writes as one batch, returning the allocated commit timestamp.
func (t *Transaction) Commit() (uint64, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return 0, ErrCommitted
	}
	records := make([]Record, 0, len(t.local))
	keys := make([]string, 0, len(t.local))
	for k := range t.local {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := t.local[k]
		v := entry.value
		if entry.tombstone {
			v = nil
		}
		records = append(records, Record{Key: []byte(k), Value: v})
	}
	readHashes := t.readHashes
	writeHashes := t.writeHashes
	t.mu.Unlock()

	commitTs, err := t.oracle.CommitSerializable(t.serializable, t.readTs, readHashes, writeHashes, func() (uint64, error) {
		return t.backend.WriteBatch(records)
	})
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	t.oracle.endRead(t.readTs)
	return commitTs, nil
}

// Rollback discards the transaction without committing, removing it from
// the watermark.
func (t *Transaction) Rollback() {
	t.mu.Lock()
	already := t.committed
	t.committed = true
	t.mu.Unlock()
	if !already {
		t.oracle.endRead(t.readTs)
	}
}

// NewTxn starts a new transaction reading at the oracle's current commit
// timestamp.
func (o *Oracle) NewTxn(backend Backend, serializable bool) *Transaction {
	return newTransaction(o, backend, serializable)
}
