package block

import (
	"encoding/binary"

	"github.com/go-lsm/lsmkv/internal/key"
)

// Builder assembles a single Block, accepting entries in ascending key order.
//
// The first key added is stored in full (overlap 0); every later key is
// encoded as its longest common prefix length with that first key plus the
// unshared suffix. A Builder always accepts at least one entry even if it
// alone exceeds the target size -- only a non-empty builder refuses an entry
// that would grow the block past target.
type Builder struct {
	targetSize int
	data       []byte
	offsets    []uint16
	firstKey   key.Key
	hasFirst   bool
}

// NewBuilder creates a Builder targeting the given block size in bytes.
func NewBuilder(targetSize int) *Builder {
	return &Builder{targetSize: targetSize}
}

// EstimatedSize approximates the size the block would encode to right now.
func (b *Builder) EstimatedSize() int {
	return len(b.data) + 2*len(b.offsets) + 2
}

// IsEmpty reports whether any entry has been added yet.
func (b *Builder) IsEmpty() bool { return len(b.offsets) == 0 }

// Add appends (k, value) to the block. It returns false, without mutating
// the builder, if the block is non-empty and adding the entry would exceed
// the target size.
func (b *Builder) Add(k key.Key, value []byte) bool {
	overlap := 0
	if b.hasFirst {
		overlap = sharedPrefixLen(b.firstKey.UserKey, k.UserKey)
	}
	rest := k.UserKey[overlap:]
	entrySize := SizeOf(overlap, len(rest)) + len(value)

	if !b.IsEmpty() && b.EstimatedSize()+entrySize > b.targetSize {
		return false
	}

	b.offsets = append(b.offsets, uint16(len(b.data)))
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(overlap))
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(len(rest)))
	b.data = append(b.data, rest...)
	b.data = binary.BigEndian.AppendUint64(b.data, k.Ts)
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(len(value)))
	b.data = append(b.data, value...)

	if !b.hasFirst {
		b.firstKey = k.Copy()
		b.hasFirst = true
	}
	return true
}

// Build finalizes the block. The Builder must not be reused afterwards.
func (b *Builder) Build() *Block {
	return &Block{Data: b.data, Offsets: b.offsets}
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
