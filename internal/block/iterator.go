package block

import (
	"encoding/binary"
	"sort"

	"github.com/go-lsm/lsmkv/internal/key"
)

// Iterator walks the entries of a single decoded Block in key order.
type Iterator struct {
	block    *Block
	idx      int
	firstKey key.Key
	curKey   key.Key
	curVal   []byte
}

// NewIterator builds an Iterator over b, positioned before the first entry.
// Call Next (or SeekToFirst) before reading.
func NewIterator(b *Block) *Iterator {
	it := &Iterator{block: b, idx: -1}
	if len(b.Offsets) > 0 {
		it.firstKey, _ = it.entryAt(0)
	}
	return it
}

// SeekToFirst positions the iterator at the block's first entry.
func (it *Iterator) SeekToFirst() {
	it.idx = 0
	it.load()
}

// SeekToKey positions the iterator at the first entry whose key is >= k.
// If no such entry exists the iterator becomes invalid.
func (it *Iterator) SeekToKey(k key.Key) {
	n := len(it.block.Offsets)
	it.idx = sort.Search(n, func(i int) bool {
		ik, _ := it.entryAt(i)
		return key.Compare(ik, k) >= 0
	})
	it.load()
}

// IsValid reports whether the iterator is positioned at a readable entry.
func (it *Iterator) IsValid() bool {
	return it.idx >= 0 && it.idx < len(it.block.Offsets)
}

// Key returns the versioned key at the current position.
func (it *Iterator) Key() key.Key { return it.curKey }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.curVal }

// Next advances to the following entry.
func (it *Iterator) Next() {
	it.idx++
	it.load()
}

func (it *Iterator) load() {
	if !it.IsValid() {
		it.curKey = key.Key{}
		it.curVal = nil
		return
	}
	it.curKey, it.curVal = it.entryAt(it.idx)
}

// entryAt decodes entry i without mutating iterator state, reconstructing
// its user key from the block's first key plus the entry's overlap/suffix.
func (it *Iterator) entryAt(i int) (key.Key, []byte) {
	data := it.block.Data[it.block.Offsets[i]:]
	overlap := int(binary.BigEndian.Uint16(data[0:2]))
	restLen := int(binary.BigEndian.Uint16(data[2:4]))
	rest := data[4 : 4+restLen]

	var userKey []byte
	if i == 0 || overlap == 0 {
		userKey = append([]byte(nil), rest...)
	} else {
		userKey = make([]byte, overlap+restLen)
		copy(userKey, it.firstKey.UserKey[:overlap])
		copy(userKey[overlap:], rest)
	}

	off := 4 + restLen
	ts := binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	valLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	value := data[off : off+valLen]

	return key.New(userKey, ts), value
}
