package memtable

import (
	"sync/atomic"

	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/wal"
)

// MemTable is a concurrent ordered map from versioned key to value, with an
// optional write-ahead log and an approximate byte-size counter used to
// decide when to freeze it.
type MemTable struct {
	id              uint64
	skiplist        *skipList
	wal             *wal.Wal
	approximateSize atomic.Int64
}

// New creates an empty, writable MemTable with the given id. If walPath is
// non-empty a new WAL is created at that path.
func New(id uint64, walPath string) (*MemTable, error) {
	m := &MemTable{id: id, skiplist: newSkipList()}
	if walPath != "" {
		w, err := wal.Create(walPath)
		if err != nil {
			return nil, err
		}
		m.wal = w
	}
	return m, nil
}

// Recover rebuilds a MemTable by replaying the WAL file at walPath.
func Recover(id uint64, walPath string) (*MemTable, error) {
	m := &MemTable{id: id, skiplist: newSkipList()}
	w, err := wal.Recover(walPath, func(k key.Key, v []byte) {
		m.insertLocal(k, v)
	})
	if err != nil {
		return nil, err
	}
	m.wal = w
	return m, nil
}

// ID returns the memtable's id, shared with the SST it eventually flushes to.
func (m *MemTable) ID() uint64 { return m.id }

// ApproximateSize returns the running byte-size estimate used for freeze
// decisions.
func (m *MemTable) ApproximateSize() int64 { return m.approximateSize.Load() }

// Put records a write at the given key, appending a WAL record first when a
// WAL is attached. An empty value is a tombstone.
func (m *MemTable) Put(k key.Key, value []byte) error {
	if m.wal != nil {
		if err := m.wal.Put(k, value); err != nil {
			return err
		}
	}
	m.insertLocal(k, value)
	return nil
}

func (m *MemTable) insertLocal(k key.Key, value []byte) {
	m.skiplist.insert(k, value)
	m.approximateSize.Add(int64(len(k.UserKey) + 8 + len(value)))
}

// Get looks up the newest version of userKey with ts <= readTs.
func (m *MemTable) Get(userKey []byte, readTs uint64) ([]byte, bool) {
	it := m.Scan(key.New(userKey, readTs), key.New(userKey, key.TsRangeEnd))
	defer it.Close()
	if it.IsValid() && key.SameUserKey(it.Key(), key.FromUserKey(userKey)) {
		return it.Value(), true
	}
	return nil, false
}

// Scan returns an iterator over [lower, upper] inclusive on versioned keys.
func (m *MemTable) Scan(lower, upper key.Key) *ScanIterator {
	it := m.skiplist.newIterator()
	it.Seek(lower)
	return &ScanIterator{inner: it, upper: upper}
}

// SyncWal flushes and fsyncs the attached WAL, if any.
func (m *MemTable) SyncWal() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Sync()
}

// CloseWal closes and removes the attached WAL's file handle bookkeeping;
// callers remove the file itself once the memtable has been flushed.
func (m *MemTable) CloseWal() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Close()
}

// ScanIterator walks a memtable's skip list within an inclusive key range.
type ScanIterator struct {
	inner *iterator
	upper key.Key
}

// IsValid reports whether the iterator is positioned within [lower, upper].
func (it *ScanIterator) IsValid() bool {
	return it.inner.Valid() && key.Compare(it.inner.Key(), it.upper) <= 0
}

// Key returns the current versioned key.
func (it *ScanIterator) Key() key.Key { return it.inner.Key() }

// Value returns the current value.
func (it *ScanIterator) Value() []byte { return it.inner.Value() }

// Next advances to the next entry.
func (it *ScanIterator) Next() error {
	it.inner.Next()
	return nil
}

// Close is a no-op; present so ScanIterator satisfies typical iterator usage
// in defer statements.
func (it *ScanIterator) Close() error { return nil }

// NumActiveIterators reports the number of leaf sources behind this
// iterator; a memtable scan is always exactly one.
func (it *ScanIterator) NumActiveIterators() int { return 1 }
