// Package table implements the on-disk sorted string table (SST): data
// blocks, the block-meta index, the Bloom filter, and the reader/builder
// pair that produce and consume them.
package table

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/checksum"
	"github.com/go-lsm/lsmkv/internal/key"
)

// ErrCorrupt is returned when a block-meta section's checksum mismatches.
var ErrCorrupt = errors.New("table: corrupt block-meta section")

// blockMeta describes one data block's position and key range.
type blockMeta struct {
	offset   uint32
	firstKey key.Key
	lastKey  key.Key
}

func encodeBlockMeta(metas []blockMeta, maxTs uint64) []byte {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(metas)))
	for _, m := range metas {
		buf = binary.BigEndian.AppendUint32(buf, m.offset)
		buf = appendKey(buf, m.firstKey)
		buf = appendKey(buf, m.lastKey)
	}
	buf = binary.BigEndian.AppendUint64(buf, maxTs)
	crc := checksum.Value(buf)
	buf = binary.BigEndian.AppendUint32(buf, crc)
	return buf
}

func appendKey(buf []byte, k key.Key) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(k.UserKey)))
	buf = append(buf, k.UserKey...)
	buf = binary.BigEndian.AppendUint64(buf, k.Ts)
	return buf
}

func readKey(data []byte) (key.Key, int) {
	n := int(binary.BigEndian.Uint16(data[0:2]))
	uk := make([]byte, n)
	copy(uk, data[2:2+n])
	ts := binary.BigEndian.Uint64(data[2+n : 2+n+8])
	return key.New(uk, ts), 2 + n + 8
}

func decodeBlockMeta(data []byte) ([]blockMeta, uint64, error) {
	if len(data) < 4 {
		return nil, 0, ErrCorrupt
	}
	crcOff := len(data) - 4
	wantCRC := binary.BigEndian.Uint32(data[crcOff:])
	if checksum.Value(data[:crcOff]) != wantCRC {
		return nil, 0, ErrCorrupt
	}
	body := data[:crcOff]
	if len(body) < 8 {
		return nil, 0, ErrCorrupt
	}
	maxTsOff := len(body) - 8
	maxTs := binary.BigEndian.Uint64(body[maxTsOff:])
	body = body[:maxTsOff]

	numBlocks := int(binary.BigEndian.Uint32(body[0:4]))
	off := 4
	metas := make([]blockMeta, 0, numBlocks)
	for i := 0; i < numBlocks; i++ {
		blockOffset := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		firstKey, n := readKey(body[off:])
		off += n
		lastKey, n := readKey(body[off:])
		off += n
		metas = append(metas, blockMeta{offset: blockOffset, firstKey: firstKey, lastKey: lastKey})
	}
	return metas, maxTs, nil
}
