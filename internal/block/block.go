// Package block implements the fixed-target-size, prefix-compressed sorted
// page that backs both SST data blocks and in-memory block iteration.
//
// Wire format of an encoded block:
//
//	entry*       -- one per key, see Builder
//	offset:u16*  -- start offset of each entry, in encounter order
//	num_entries:u16
//
// Each entry is prefix-compressed against the block's first key:
//
//	overlap:u16 | rest_len:u16 | rest_bytes | ts:u64 | value_len:u16 | value_bytes
//
// Every key is compressed against the block's first key, not the preceding
// key, so there are no restart points to track.
package block

import "encoding/binary"

// SizeOf returns the encoded size of an entry excluding its value bytes,
// which callers (Builder) add before checking the target-size budget.
// overlapLen does not affect the result.
func SizeOf(overlapLen, restLen int) int {
	return 2 + 2 + restLen + 8 + 2 // overlap, rest_len, rest bytes, ts, value_len
}

// Block is the decoded, byte-addressable form of an on-disk data block.
type Block struct {
	// Data holds the concatenated entries (everything before the offset table).
	Data []byte
	// Offsets holds the start offset of each entry within Data, in order.
	Offsets []uint16
}

// Encode serializes the block to its on-disk byte representation.
func (b *Block) Encode() []byte {
	buf := make([]byte, 0, len(b.Data)+2*len(b.Offsets)+2)
	buf = append(buf, b.Data...)
	for _, off := range b.Offsets {
		buf = binary.BigEndian.AppendUint16(buf, off)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b.Offsets)))
	return buf
}

// Decode parses a block previously produced by Encode.
func Decode(data []byte) (*Block, error) {
	if len(data) < 2 {
		return nil, ErrCorrupt
	}
	numEntries := int(binary.BigEndian.Uint16(data[len(data)-2:]))
	offsetsStart := len(data) - 2 - 2*numEntries
	if offsetsStart < 0 {
		return nil, ErrCorrupt
	}
	offsets := make([]uint16, numEntries)
	for i := 0; i < numEntries; i++ {
		offsets[i] = binary.BigEndian.Uint16(data[offsetsStart+2*i:])
	}
	return &Block{
		Data:    data[:offsetsStart],
		Offsets: offsets,
	}, nil
}
