package mvcc

import (
	"sync"
	"testing"

	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/key"
)

// fakeBackend is an in-memory, versioned store standing in for the engine's
// read/write surface, just enough to exercise Transaction/Oracle.
type fakeBackend struct {
	mu   sync.Mutex
	data map[string]map[uint64][]byte // userKey -> ts -> value (nil = tombstone)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]map[uint64][]byte)}
}

func (f *fakeBackend) WriteBatch(records []Record) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := uint64(len(f.data)) // not used for ordering in this fake; commit ts comes from caller's oracle
	_ = ts
	return 0, nil // overridden by test harness via commitAt
}

func (f *fakeBackend) GetWithTs(userKey []byte, ts uint64) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions, ok := f.data[string(userKey)]
	if !ok {
		return nil, false, nil
	}
	var bestTs uint64
	var bestVal []byte
	found := false
	for t, v := range versions {
		if t <= ts && (!found || t > bestTs) {
			bestTs, bestVal, found = t, v, true
		}
	}
	if !found || bestVal == nil {
		return nil, false, nil
	}
	return bestVal, true, nil
}

func (f *fakeBackend) ScanWithTs(lower, upper iterator.Bound, ts uint64) (iterator.StorageIterator, error) {
	return &emptyIterator{}, nil
}

func (f *fakeBackend) commitAt(ts uint64, records []Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		k := string(r.Key)
		if f.data[k] == nil {
			f.data[k] = make(map[uint64][]byte)
		}
		f.data[k][ts] = r.Value
	}
}

type emptyIterator struct{}

func (emptyIterator) IsValid() bool             { return false }
func (emptyIterator) Key() key.Key              { return key.Key{} }
func (emptyIterator) Value() []byte             { return nil }
func (emptyIterator) Next() error               { return nil }
func (emptyIterator) NumActiveIterators() int   { return 0 }

// committingBackend wraps fakeBackend so WriteBatch allocates and applies via
// the oracle-supplied commit ts passed through CommitSerializable's doCommit
// closure, mirroring how engine.WriteBatch would integrate.
type committingBackend struct {
	*fakeBackend
	oracle *Oracle
}

func (b *committingBackend) WriteBatch(records []Record) (uint64, error) {
	ts := b.oracle.LastCommitTs() + 1
	b.oracle.UpdateCommitTs(ts)
	b.fakeBackend.commitAt(ts, records)
	return ts, nil
}

func TestTransactionPutThenGetSeesLocalWrite(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}
	txn := o.NewTxn(backend, false)

	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := txn.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "v" {
		t.Errorf("Get = %q, %v, want v, true", v, ok)
	}
}

func TestTransactionDeleteIsTombstoneLocally(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}
	txn := o.NewTxn(backend, false)

	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := txn.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := txn.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("a locally deleted key should report not-found")
	}
}

func TestTransactionCommitAppliesWritesAndEndsRead(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}
	txn := o.NewTxn(backend, false)

	if o.NumSnapshots() != 1 {
		t.Fatalf("NumSnapshots before commit = %d, want 1", o.NumSnapshots())
	}
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	commitTs, err := txn.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commitTs == 0 {
		t.Error("Commit should allocate a nonzero commit timestamp")
	}
	if o.NumSnapshots() != 0 {
		t.Errorf("NumSnapshots after commit = %d, want 0", o.NumSnapshots())
	}

	v, ok, err := backend.GetWithTs([]byte("k"), commitTs)
	if err != nil {
		t.Fatalf("GetWithTs: %v", err)
	}
	if !ok || string(v) != "v" {
		t.Errorf("GetWithTs after commit = %q, %v, want v, true", v, ok)
	}
}

func TestTransactionOperationsAfterCommitFail(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}
	txn := o.NewTxn(backend, false)
	if _, err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := txn.Put([]byte("k"), []byte("v")); err != ErrCommitted {
		t.Errorf("Put after commit = %v, want ErrCommitted", err)
	}
	if _, _, err := txn.Get([]byte("k")); err != ErrCommitted {
		t.Errorf("Get after commit = %v, want ErrCommitted", err)
	}
}

func TestTransactionRollbackReleasesWatermarkWithoutCommitting(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}
	txn := o.NewTxn(backend, false)
	txn.Rollback()

	if o.NumSnapshots() != 0 {
		t.Errorf("NumSnapshots after rollback = %d, want 0", o.NumSnapshots())
	}
	if _, ok, _ := backend.GetWithTs([]byte("k"), 100); ok {
		t.Error("a rolled-back transaction must not have applied any writes")
	}
}

func TestSerializableConflictBetweenReadersOfEachOthersWrites(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}

	txnA := o.NewTxn(backend, true)
	txnB := o.NewTxn(backend, true)

	if _, _, err := txnA.Get([]byte("x")); err != nil {
		t.Fatalf("txnA Get(x): %v", err)
	}
	if err := txnA.Put([]byte("y"), []byte("a-wrote-y")); err != nil {
		t.Fatalf("txnA Put: %v", err)
	}

	if _, _, err := txnB.Get([]byte("y")); err != nil {
		t.Fatalf("txnB Get(y): %v", err)
	}
	if err := txnB.Put([]byte("x"), []byte("b-wrote-x")); err != nil {
		t.Fatalf("txnB Put: %v", err)
	}

	if _, err := txnA.Commit(); err != nil {
		t.Fatalf("txnA Commit: %v", err)
	}
	if _, err := txnB.Commit(); err != ErrConflict {
		t.Errorf("txnB Commit = %v, want ErrConflict (read y, which A just wrote)", err)
	}
}

func TestSerializableNoConflictWhenWriteSetsDisjoint(t *testing.T) {
	o := NewOracle()
	backend := &committingBackend{fakeBackend: newFakeBackend(), oracle: o}

	txnA := o.NewTxn(backend, true)
	txnB := o.NewTxn(backend, true)

	if err := txnA.Put([]byte("a-key"), []byte("1")); err != nil {
		t.Fatalf("txnA Put: %v", err)
	}
	if err := txnB.Put([]byte("b-key"), []byte("2")); err != nil {
		t.Fatalf("txnB Put: %v", err)
	}

	if _, err := txnA.Commit(); err != nil {
		t.Fatalf("txnA Commit: %v", err)
	}
	if _, err := txnB.Commit(); err != nil {
		t.Errorf("txnB Commit = %v, want nil (disjoint write sets)", err)
	}
}
