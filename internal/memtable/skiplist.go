// Package memtable implements the engine's in-memory sorted table: a
// concurrent skip list keyed by versioned key, plus the WAL-backed MemTable
// built on top of it. A single skip list level carries every version of
// every user key in one sorted sequence, ordered (UserKey asc, Ts desc).
package memtable

import (
	"math/rand"
	"sync/atomic"

	"github.com/go-lsm/lsmkv/internal/key"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

type skipNode struct {
	k     key.Key
	value []byte
	next  []*atomic.Pointer[skipNode]
}

func newSkipNode(k key.Key, value []byte, height int) *skipNode {
	node := &skipNode{k: k, value: value, next: make([]*atomic.Pointer[skipNode], height)}
	for i := range node.next {
		node.next[i] = &atomic.Pointer[skipNode]{}
	}
	return node
}

func (n *skipNode) getNext(level int) *skipNode { return n.next[level].Load() }
func (n *skipNode) setNext(level int, node *skipNode) { n.next[level].Store(node) }

// skipList is a lock-free-for-reads skip list ordered by key.Compare.
// Inserts require external synchronization. MemTable adds none; the engine
// serializes every write under its write lock.
type skipList struct {
	head      *skipNode
	maxHeight atomic.Int32
	rng       *rand.Rand
	numNodes  atomic.Int64
}

func newSkipList() *skipList {
	sl := &skipList{
		head: newSkipNode(key.Key{}, nil, maxHeight),
		rng:  rand.New(rand.NewSource(0xDEADBEEF)),
	}
	sl.maxHeight.Store(1)
	return sl
}

// insert adds (k, value). If k is already present its value is overwritten
// in place: versioned keys are unique per (user_key, ts) by construction, so
// this only happens when a caller replays the same WAL record twice.
func (sl *skipList) insert(k key.Key, value []byte) {
	var prev [maxHeight]*skipNode
	x := sl.findGreaterOrEqual(k, prev[:])

	if x != nil && key.Equal(k, x.k) {
		x.value = value
		return
	}

	height := sl.randomHeight()
	curMax := int(sl.maxHeight.Load())
	if height > curMax {
		for i := curMax; i < height; i++ {
			prev[i] = sl.head
		}
		sl.maxHeight.Store(int32(height))
	}

	node := newSkipNode(k, value, height)
	for i := 0; i < height; i++ {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	sl.numNodes.Add(1)
}

// numEntries reports the number of distinct versioned keys currently held.
func (sl *skipList) numEntries() int64 { return sl.numNodes.Load() }

func (sl *skipList) findGreaterOrEqual(k key.Key, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && key.Compare(k, next.k) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (sl *skipList) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rng.Uint32()%branchingFactor == 0 {
		h++
	}
	return h
}

// iterator walks the skip list's base level in key order.
type iterator struct {
	list *skipList
	node *skipNode
}

func (sl *skipList) newIterator() *iterator { return &iterator{list: sl} }

func (it *iterator) Valid() bool     { return it.node != nil }
func (it *iterator) Key() key.Key    { return it.node.k }
func (it *iterator) Value() []byte   { return it.node.value }
func (it *iterator) Next()           { it.node = it.node.getNext(0) }
func (it *iterator) SeekToFirst()    { it.node = it.list.head.getNext(0) }
func (it *iterator) Seek(k key.Key)  { it.node = it.list.findGreaterOrEqual(k, nil) }
