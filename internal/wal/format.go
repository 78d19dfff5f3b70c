// Package wal implements the per-memtable write-ahead log.
//
// Record format: key_len:u16 | key | ts:u64 | value_len:u16 | value | crc:u32,
// where crc is the CRC32C of every preceding byte of the record (both length
// prefixes, the key, the timestamp, and the value).
package wal

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/checksum"
	"github.com/go-lsm/lsmkv/internal/key"
)

// ErrCorrupt is returned when a record's checksum does not match its bytes.
var ErrCorrupt = errors.New("wal: checksum mismatch")

// encodeRecord serializes one (key, value) WAL record.
func encodeRecord(k key.Key, value []byte) []byte {
	size := 2 + len(k.UserKey) + 8 + 2 + len(value) + 4
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(k.UserKey)))
	buf = append(buf, k.UserKey...)
	buf = binary.BigEndian.AppendUint64(buf, k.Ts)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	buf = append(buf, value...)
	crc := checksum.Value(buf)
	buf = binary.BigEndian.AppendUint32(buf, crc)
	return buf
}

// decodeRecord parses one record from the front of buf, returning the
// decoded key/value and the number of bytes consumed.
func decodeRecord(buf []byte) (key.Key, []byte, int, error) {
	if len(buf) < 2 {
		return key.Key{}, nil, 0, ErrCorrupt
	}
	keyLen := int(binary.BigEndian.Uint16(buf[0:2]))
	off := 2 + keyLen
	if len(buf) < off+8+2 {
		return key.Key{}, nil, 0, ErrCorrupt
	}
	userKey := buf[2:off]
	ts := binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	valueLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+valueLen+4 {
		return key.Key{}, nil, 0, ErrCorrupt
	}
	value := buf[off : off+valueLen]
	off += valueLen

	wantCRC := binary.BigEndian.Uint32(buf[off : off+4])
	if checksum.Value(buf[:off]) != wantCRC {
		return key.Key{}, nil, 0, ErrCorrupt
	}
	off += 4

	uk := make([]byte, len(userKey))
	copy(uk, userKey)
	v := make([]byte, len(value))
	copy(v, value)
	return key.New(uk, ts), v, off, nil
}
