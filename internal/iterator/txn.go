package iterator

import (
	"bytes"

	"github.com/go-lsm/lsmkv/internal/key"
)

// TxnIterator layers a transaction's local, uncommitted writes over a
// committed-state LsmIterator via TwoMergeIterator (local writes win ties),
// skips tombstones, and reports every visited user key to onVisit so the
// caller can record it into the transaction's read set for serializable
// validation.
type TxnIterator struct {
	inner   *TwoMergeIterator
	onVisit func(userKey []byte)
}

// NewTxnIterator builds a TxnIterator over local (the transaction's pending
// writes, highest priority) and committed (an *LsmIterator over the engine's
// visible state).
func NewTxnIterator(local, committed StorageIterator, onVisit func(userKey []byte)) (*TxnIterator, error) {
	merged, err := NewTwoMergeIterator(local, committed)
	if err != nil {
		return nil, err
	}
	t := &TxnIterator{inner: merged, onVisit: onVisit}
	if err := t.skipTombstones(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TxnIterator) skipTombstones() error {
	for t.inner.IsValid() && len(t.inner.Value()) == 0 {
		userKey := t.inner.Key().UserKey
		if t.onVisit != nil {
			t.onVisit(userKey)
		}
		if err := t.advancePastUserKey(userKey); err != nil {
			return err
		}
	}
	if t.inner.IsValid() && t.onVisit != nil {
		t.onVisit(t.inner.Key().UserKey)
	}
	return nil
}

// advancePastUserKey skips every remaining version of userKey, so a local
// write hides the committed version of the same user key behind it.
func (t *TxnIterator) advancePastUserKey(userKey []byte) error {
	for t.inner.IsValid() && bytes.Equal(t.inner.Key().UserKey, userKey) {
		if err := t.inner.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TxnIterator) IsValid() bool { return t.inner.IsValid() }
func (t *TxnIterator) Key() key.Key  { return t.inner.Key() }
func (t *TxnIterator) Value() []byte { return t.inner.Value() }

func (t *TxnIterator) NumActiveIterators() int { return t.inner.NumActiveIterators() }

func (t *TxnIterator) Next() error {
	if err := t.advancePastUserKey(t.inner.Key().UserKey); err != nil {
		return err
	}
	return t.skipTombstones()
}
