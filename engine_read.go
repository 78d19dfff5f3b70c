package lsmkv

import (
	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/table"
)

// Get looks up the newest version of userKey visible at the engine's
// current commit timestamp.
func (e *Engine) Get(userKey []byte) ([]byte, bool, error) {
	if e.closed.get() {
		return nil, false, ErrClosed
	}
	if len(userKey) == 0 {
		return nil, false, ErrEmptyKey
	}
	return e.getWithTs(userKey, e.oracle.LastCommitTs())
}

func (e *Engine) getWithTs(userKey []byte, readTs uint64) ([]byte, bool, error) {
	bound := iterator.Bound{Kind: iterator.Included, Key: userKey}
	it, err := e.scanWithTs(bound, bound, readTs)
	if err != nil {
		return nil, false, err
	}
	if !it.IsValid() {
		return nil, false, nil
	}
	value := append([]byte(nil), it.Value()...)
	return value, true, nil
}

// Scan returns a read-only snapshot iterator over [lower, upper] at the
// engine's current commit timestamp.
func (e *Engine) Scan(lower, upper iterator.Bound) (*iterator.FusedIterator, error) {
	if e.closed.get() {
		return nil, ErrClosed
	}
	it, err := e.scanWithTs(lower, upper, e.oracle.LastCommitTs())
	if err != nil {
		return nil, err
	}
	return iterator.NewFusedIterator(it), nil
}

// scanWithTs composes the full read path: merge the mutable memtable and
// every immutable memtable, two-merge that against the merged L0 tables,
// then two-merge the result against the merged leveled (concat) tables,
// finally wrapping in an LsmIterator for MVCC visibility and end-bound
// filtering.
func (e *Engine) scanWithTs(lower, upper iterator.Bound, readTs uint64) (*iterator.LsmIterator, error) {
	state := e.loadState()

	lowKey, highKey := boundsToMemtableKeys(lower, upper)

	memSources := make([]iterator.StorageIterator, 0, 1+len(state.immMemtables))
	memSources = append(memSources, state.memtable.Scan(lowKey, highKey))
	for _, imm := range state.immMemtables {
		memSources = append(memSources, imm.Scan(lowKey, highKey))
	}
	memMerge := iterator.NewMergeIterator(memSources)

	l0Sources := make([]iterator.StorageIterator, 0, len(state.l0SSTables))
	for _, id := range state.l0SSTables {
		sst := state.sstables[id]
		if !sstInRange(sst, lower, upper) {
			continue
		}
		if pointKey, ok := asPointLookup(lower, upper); ok && !sst.MayContain(pointKey) {
			continue
		}
		it, err := sstScanIterator(sst, lower)
		if err != nil {
			return nil, err
		}
		l0Sources = append(l0Sources, it)
	}
	l0Merge := iterator.NewMergeIterator(l0Sources)

	memAndL0, err := iterator.NewTwoMergeIterator(memMerge, l0Merge)
	if err != nil {
		return nil, err
	}

	leveledSources := make([]iterator.StorageIterator, 0, len(state.levels))
	for _, lvl := range state.levels {
		tables := make([]*table.SsTable, 0, len(lvl.sstIDs))
		for _, id := range lvl.sstIDs {
			sst := state.sstables[id]
			if sstInRange(sst, lower, upper) {
				tables = append(tables, sst)
			}
		}
		if len(tables) == 0 {
			continue
		}
		it, cerr := levelConcatIterator(tables, lower)
		if cerr != nil {
			return nil, cerr
		}
		leveledSources = append(leveledSources, it)
	}
	leveledMerge := iterator.NewMergeIterator(leveledSources)

	all, err := iterator.NewTwoMergeIterator(memAndL0, leveledMerge)
	if err != nil {
		return nil, err
	}

	lsm, err := iterator.NewLsmIterator(all, readTs, upper)
	if err != nil {
		return nil, err
	}
	if lower.Kind == iterator.Excluded && lsm.IsValid() && bytesEqual(lsm.Key().UserKey, lower.Key) {
		if err := lsm.Next(); err != nil {
			return nil, err
		}
	}
	return lsm, nil
}

// boundsToMemtableKeys turns a [lower, upper] user-key Bound pair into the
// versioned-key range a memtable scan needs: TsRangeBegin on the lower side
// so the newest version of the lower-bound key is included, TsRangeEnd on
// the upper side so every version of the upper-bound key is included.
func boundsToMemtableKeys(lower, upper iterator.Bound) (key.Key, key.Key) {
	low := key.Key{}
	if lower.Kind != iterator.Unbounded {
		low = key.FromUserKey(lower.Key)
	}

	high := key.Key{UserKey: maxUserKey, Ts: key.TsRangeEnd}
	if upper.Kind != iterator.Unbounded {
		high = key.Key{UserKey: upper.Key, Ts: key.TsRangeEnd}
	}
	return low, high
}

// maxUserKey sorts after any realistic user key, standing in for "no upper
// bound" when scanning a memtable's skip list.
var maxUserKey = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// asPointLookup reports whether [lower, upper] names exactly one user key
// (both bounds Included at the same key), the shape get_with_ts scans with.
func asPointLookup(lower, upper iterator.Bound) ([]byte, bool) {
	if lower.Kind != iterator.Included || upper.Kind != iterator.Included {
		return nil, false
	}
	if !bytesEqual(lower.Key, upper.Key) {
		return nil, false
	}
	return lower.Key, true
}

func sstInRange(sst *table.SsTable, lower, upper iterator.Bound) bool {
	if upper.Kind != iterator.Unbounded {
		c := compareBytes(sst.FirstKey().UserKey, upper.Key)
		if upper.Kind == iterator.Included && c > 0 {
			return false
		}
		if upper.Kind == iterator.Excluded && c >= 0 {
			return false
		}
	}
	if lower.Kind != iterator.Unbounded && compareBytes(sst.LastKey().UserKey, lower.Key) < 0 {
		return false
	}
	return true
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

func sstScanIterator(sst *table.SsTable, lower iterator.Bound) (iterator.StorageIterator, error) {
	if lower.Kind == iterator.Unbounded {
		return table.NewIterator(sst)
	}
	return table.NewIteratorSeekedTo(sst, key.FromUserKey(lower.Key))
}

func levelConcatIterator(tables []*table.SsTable, lower iterator.Bound) (iterator.StorageIterator, error) {
	if lower.Kind == iterator.Unbounded {
		return iterator.NewSstConcatIterator(tables)
	}
	return iterator.NewSstConcatIteratorSeekedTo(tables, key.FromUserKey(lower.Key))
}
