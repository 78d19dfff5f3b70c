package iterator

import (
	"container/heap"

	"github.com/go-lsm/lsmkv/internal/key"
)

// mergeItem is one live source inside the heap, ordered by key ascending
// then by insertion index ascending so that earlier sources win ties.
type mergeItem struct {
	index int
	it    StorageIterator
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := key.Compare(h[i].it.Key(), h[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeIterator merges any number of sources in key order. When multiple
// sources hold the same versioned key, the source with the lowest insertion
// index wins and every other is advanced past that key and dropped from
// contention for this round, so the outer stream sees each key once.
type MergeIterator struct {
	h       mergeHeap
	current *mergeItem
	numIts  int
}

// NewMergeIterator builds a MergeIterator over iters, in the priority order
// given (iters[0] wins ties over iters[1], and so on).
func NewMergeIterator(iters []StorageIterator) *MergeIterator {
	m := &MergeIterator{}
	for i, it := range iters {
		m.numIts += it.NumActiveIterators()
		if it.IsValid() {
			heap.Push(&m.h, &mergeItem{index: i, it: it})
		}
	}
	m.advanceCurrent()
	return m
}

func (m *MergeIterator) advanceCurrent() {
	if m.h.Len() == 0 {
		m.current = nil
		return
	}
	m.current = heap.Pop(&m.h).(*mergeItem)
}

func (m *MergeIterator) IsValid() bool { return m.current != nil }
func (m *MergeIterator) Key() key.Key  { return m.current.it.Key() }
func (m *MergeIterator) Value() []byte { return m.current.it.Value() }

func (m *MergeIterator) NumActiveIterators() int { return m.numIts }

// Next drops every other heap entry sharing the current key (advancing past
// it, discarding it if it errors or becomes invalid), then advances and
// reinserts the current winner.
func (m *MergeIterator) Next() error {
	curKey := m.current.it.Key()

	for m.h.Len() > 0 && key.Equal(m.h[0].it.Key(), curKey) {
		top := heap.Pop(&m.h).(*mergeItem)
		if err := top.it.Next(); err != nil {
			return err
		}
		if top.it.IsValid() {
			heap.Push(&m.h, top)
		}
	}

	if err := m.current.it.Next(); err != nil {
		return err
	}
	if m.current.it.IsValid() {
		heap.Push(&m.h, m.current)
	}
	m.advanceCurrent()
	return nil
}
