package iterator

import (
	"testing"

	"github.com/go-lsm/lsmkv/internal/key"
)

// sliceIterator is a minimal StorageIterator backed by an in-memory slice,
// used to exercise the combinators without needing real memtables or SSTs.
type sliceIterator struct {
	entries []sliceEntry
	idx     int
}

type sliceEntry struct {
	k key.Key
	v []byte
}

func newSliceIterator(entries ...sliceEntry) *sliceIterator {
	return &sliceIterator{entries: entries}
}

func (s *sliceIterator) IsValid() bool { return s.idx < len(s.entries) }
func (s *sliceIterator) Key() key.Key  { return s.entries[s.idx].k }
func (s *sliceIterator) Value() []byte { return s.entries[s.idx].v }
func (s *sliceIterator) Next() error   { s.idx++; return nil }
func (s *sliceIterator) NumActiveIterators() int { return 1 }

func e(userKey string, ts uint64, value string) sliceEntry {
	var v []byte
	if value != "" {
		v = []byte(value)
	}
	return sliceEntry{k: key.New([]byte(userKey), ts), v: v}
}

func collect(t *testing.T, it StorageIterator) []string {
	t.Helper()
	var got []string
	for it.IsValid() {
		got = append(got, string(it.Key().UserKey)+"="+string(it.Value()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return got
}

func TestMergeIteratorOrdersAcrossSourcesAndPrefersEarliestOnTie(t *testing.T) {
	a := newSliceIterator(e("a", 2, "a2"), e("c", 1, "c1"))
	b := newSliceIterator(e("a", 2, "b-a2"), e("b", 1, "b1"))

	m := NewMergeIterator([]StorageIterator{a, b})
	got := collect(t, m)
	want := []string{"a=a2", "b=b1", "c=c1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeIteratorNumActiveIterators(t *testing.T) {
	a := newSliceIterator(e("a", 1, "v"))
	b := newSliceIterator(e("b", 1, "v"))
	m := NewMergeIterator([]StorageIterator{a, b})
	if m.NumActiveIterators() != 2 {
		t.Errorf("NumActiveIterators = %d, want 2", m.NumActiveIterators())
	}
}

func TestTwoMergeIteratorPrefersAOnTie(t *testing.T) {
	a := newSliceIterator(e("k", 5, "from-a"))
	b := newSliceIterator(e("k", 5, "from-b"))
	tm, err := NewTwoMergeIterator(a, b)
	if err != nil {
		t.Fatalf("NewTwoMergeIterator: %v", err)
	}
	if !tm.IsValid() || string(tm.Value()) != "from-a" {
		t.Errorf("Value = %q, want from-a", tm.Value())
	}
	if err := tm.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tm.IsValid() {
		t.Error("both sources exhausted, expected invalid")
	}
}

func TestTwoMergeIteratorInterleaves(t *testing.T) {
	a := newSliceIterator(e("a", 1, "1"), e("c", 1, "3"))
	b := newSliceIterator(e("b", 1, "2"), e("d", 1, "4"))
	tm, err := NewTwoMergeIterator(a, b)
	if err != nil {
		t.Fatalf("NewTwoMergeIterator: %v", err)
	}
	got := collect(t, tm)
	want := []string{"a=1", "b=2", "c=3", "d=4"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLsmIteratorFiltersByReadTsAndTombstones(t *testing.T) {
	inner := newSliceIterator(
		e("a", 10, "newer-than-read"),
		e("a", 5, "visible-a"),
		e("b", 3, ""),
		e("c", 1, "visible-c"),
	)
	l, err := NewLsmIterator(inner, 5, Bound{Kind: Unbounded})
	if err != nil {
		t.Fatalf("NewLsmIterator: %v", err)
	}
	got := collect(t, l)
	want := []string{"a=visible-a", "c=visible-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLsmIteratorEndBound(t *testing.T) {
	inner := newSliceIterator(e("a", 1, "1"), e("b", 1, "2"), e("c", 1, "3"))
	l, err := NewLsmIterator(inner, 1, Bound{Kind: Excluded, Key: []byte("c")})
	if err != nil {
		t.Fatalf("NewLsmIterator: %v", err)
	}
	got := collect(t, l)
	want := []string{"a=1", "b=2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFusedIteratorLatchesEndOfStream(t *testing.T) {
	inner := newSliceIterator(e("a", 1, "1"))
	f := NewFusedIterator(inner)
	if !f.IsValid() {
		t.Fatal("expected valid at start")
	}
	if err := f.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.IsValid() {
		t.Error("expected invalid after exhausting the inner iterator")
	}
	if err := f.Next(); err != nil {
		t.Errorf("Next on an already-done FusedIterator should be a no-op, got %v", err)
	}
}

func TestTxnIteratorLocalWritesWinAndRecordReadSet(t *testing.T) {
	local := newSliceIterator(e("a", 100, "local-a"))
	committed := newSliceIterator(e("a", 1, "committed-a"), e("b", 1, "committed-b"))

	var visited []string
	txnIt, err := NewTxnIterator(local, committed, func(uk []byte) {
		visited = append(visited, string(uk))
	})
	if err != nil {
		t.Fatalf("NewTxnIterator: %v", err)
	}
	got := collect(t, txnIt)
	want := []string{"a=local-a", "b=committed-b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(visited) != 2 || visited[0] != "a" || visited[1] != "b" {
		t.Errorf("visited = %v, want [a b]", visited)
	}
}

func TestTxnIteratorSkipsLocalTombstone(t *testing.T) {
	local := newSliceIterator(e("a", 100, ""))
	committed := newSliceIterator(e("a", 1, "committed-a"), e("b", 1, "committed-b"))

	txnIt, err := NewTxnIterator(local, committed, nil)
	if err != nil {
		t.Fatalf("NewTxnIterator: %v", err)
	}
	got := collect(t, txnIt)
	want := []string{"b=committed-b"}
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}
