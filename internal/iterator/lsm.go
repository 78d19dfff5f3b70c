package iterator

import "github.com/go-lsm/lsmkv/internal/key"

// Bound is the standard Included/Excluded/Unbounded range endpoint over a
// user key.
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// BoundKind tags a Bound's variant.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// LsmIterator is the top-level merge of memtables, L0 SSTs, and leveled
// SSTs, clothed in MVCC visibility and end-bound filtering. For each user
// key it exposes only the highest ts <= readTs, suppressing tombstones, and
// becomes invalid once the current user key passes endBound.
type LsmIterator struct {
	inner    StorageIterator
	readTs   uint64
	endBound Bound
	valid    bool
}

// NewLsmIterator wraps inner (typically a TwoMergeIterator composing the
// memtable merge, L0 merge, and leveled concat-merge) with visibility
// filtering at readTs and the given end bound.
func NewLsmIterator(inner StorageIterator, readTs uint64, endBound Bound) (*LsmIterator, error) {
	l := &LsmIterator{inner: inner, readTs: readTs, endBound: endBound}
	if err := l.skipToVisible(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LsmIterator) withinEnd() bool {
	if l.endBound.Kind == Unbounded {
		return true
	}
	uk := l.inner.Key().UserKey
	c := compareBytes(uk, l.endBound.Key)
	if l.endBound.Kind == Included {
		return c <= 0
	}
	return c < 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// skipToVisible advances the inner stream until it sits on a version with
// ts <= readTs whose value is non-empty, or becomes invalid / passes the end
// bound.
func (l *LsmIterator) skipToVisible() error {
	for {
		if !l.inner.IsValid() || !l.withinEnd() {
			l.valid = false
			return nil
		}
		if l.inner.Key().Ts > l.readTs {
			if err := l.inner.Next(); err != nil {
				return err
			}
			continue
		}
		// inner is a MergeIterator/TwoMergeIterator, so the leftmost entry
		// for this user_key is already the highest ts <= readTs seen so far;
		// skip any lower-ts version of the same key that a merge left behind
		// because its own source's newest version exceeded readTs.
		curKey := l.inner.Key().UserKey
		if len(l.inner.Value()) == 0 {
			if err := l.advancePastUserKey(curKey); err != nil {
				return err
			}
			continue
		}
		l.valid = true
		return nil
	}
}

func (l *LsmIterator) advancePastUserKey(userKey []byte) error {
	for l.inner.IsValid() && compareBytes(l.inner.Key().UserKey, userKey) == 0 {
		if err := l.inner.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (l *LsmIterator) IsValid() bool { return l.valid }
func (l *LsmIterator) Key() key.Key  { return l.inner.Key() }
func (l *LsmIterator) Value() []byte { return l.inner.Value() }

func (l *LsmIterator) NumActiveIterators() int { return l.inner.NumActiveIterators() }

func (l *LsmIterator) Next() error {
	userKey := l.inner.Key().UserKey
	if err := l.advancePastUserKey(userKey); err != nil {
		return err
	}
	return l.skipToVisible()
}

// FusedIterator traps errors and end-of-stream so that, once either occurs,
// subsequent IsValid/Key/Value/Next calls are well defined: IsValid reports
// false and Next is a no-op returning the latched error.
type FusedIterator struct {
	inner StorageIterator
	err   error
	done  bool
}

// NewFusedIterator wraps inner.
func NewFusedIterator(inner StorageIterator) *FusedIterator {
	return &FusedIterator{inner: inner}
}

func (f *FusedIterator) IsValid() bool {
	return f.err == nil && !f.done && f.inner.IsValid()
}

func (f *FusedIterator) Key() key.Key {
	if !f.IsValid() {
		panic("iterator: Key called on invalid FusedIterator")
	}
	return f.inner.Key()
}

func (f *FusedIterator) Value() []byte {
	if !f.IsValid() {
		panic("iterator: Value called on invalid FusedIterator")
	}
	return f.inner.Value()
}

func (f *FusedIterator) NumActiveIterators() int { return f.inner.NumActiveIterators() }

func (f *FusedIterator) Next() error {
	if f.err != nil {
		return f.err
	}
	if f.done || !f.inner.IsValid() {
		f.done = true
		return nil
	}
	if err := f.inner.Next(); err != nil {
		f.err = err
		return err
	}
	if !f.inner.IsValid() {
		f.done = true
	}
	return nil
}
