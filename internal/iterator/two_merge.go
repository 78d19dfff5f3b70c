package iterator

import "github.com/go-lsm/lsmkv/internal/key"

// TwoMergeIterator merges exactly two sources, preferring A on equal keys.
// After every advance it calls skipB to drop any B entry sharing A's current
// key, so the outer stream sees one entry per key even when both sources
// hold a version of it.
type TwoMergeIterator struct {
	a, b     StorageIterator
	chooseA  bool
}

// NewTwoMergeIterator builds a TwoMergeIterator over a and b.
func NewTwoMergeIterator(a, b StorageIterator) (*TwoMergeIterator, error) {
	t := &TwoMergeIterator{a: a, b: b}
	if err := t.skipB(); err != nil {
		return nil, err
	}
	t.chooseA = t.pickA()
	return t, nil
}

func (t *TwoMergeIterator) pickA() bool {
	if !t.a.IsValid() {
		return false
	}
	if !t.b.IsValid() {
		return true
	}
	return key.Compare(t.a.Key(), t.b.Key()) <= 0
}

// skipB advances b once past an entry whose key equals a's current key.
// Versioned keys are unique per (user_key, ts), so at most one B entry can
// ever collide with A's current key.
func (t *TwoMergeIterator) skipB() error {
	if t.a.IsValid() && t.b.IsValid() && key.Equal(t.b.Key(), t.a.Key()) {
		return t.b.Next()
	}
	return nil
}

func (t *TwoMergeIterator) IsValid() bool {
	if t.chooseA {
		return t.a.IsValid()
	}
	return t.b.IsValid()
}

func (t *TwoMergeIterator) Key() key.Key {
	if t.chooseA {
		return t.a.Key()
	}
	return t.b.Key()
}

func (t *TwoMergeIterator) Value() []byte {
	if t.chooseA {
		return t.a.Value()
	}
	return t.b.Value()
}

func (t *TwoMergeIterator) NumActiveIterators() int {
	return t.a.NumActiveIterators() + t.b.NumActiveIterators()
}

func (t *TwoMergeIterator) Next() error {
	if t.chooseA {
		if err := t.a.Next(); err != nil {
			return err
		}
	} else {
		if err := t.b.Next(); err != nil {
			return err
		}
	}
	if err := t.skipB(); err != nil {
		return err
	}
	t.chooseA = t.pickA()
	return nil
}
