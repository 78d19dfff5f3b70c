// Package manifest implements the engine's crash-safe log of state
// transitions: new memtable, flush, and compaction records.
//
// Each frame on disk is len:u64 | json_bytes | crc:u32, where crc is the
// CRC32C of json_bytes.
package manifest

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/checksum"
)

// ErrCorrupt is returned when a record's checksum does not match its bytes.
var ErrCorrupt = errors.New("manifest: checksum mismatch")

// RecordKind tags a Record's variant.
type RecordKind string

const (
	KindNewMemTable RecordKind = "new_memtable"
	KindFlush       RecordKind = "flush"
	KindCompaction  RecordKind = "compaction"
)

// Record is one manifest entry. Only the fields relevant to Kind are set.
type Record struct {
	Kind RecordKind `json:"kind"`

	// NewMemTable
	MemTableID uint64 `json:"memtable_id,omitempty"`

	// Flush
	SstID uint64 `json:"sst_id,omitempty"`

	// Compaction
	Task          json.RawMessage `json:"task,omitempty"`
	OutputSstIDs  []uint64        `json:"output_sst_ids,omitempty"`
}

// Manifest is the single-writer append-only record log. Callers must
// serialize calls to AddRecord under their own state-update mutex; Manifest
// adds only the I/O-level lock needed to keep one write atomic.
type Manifest struct {
	mu   sync.Mutex
	file *os.File
}

// Create opens a new, empty manifest file at path.
func Create(path string) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &Manifest{file: f}, nil
}

// Recover reads every record from path in order, invokes apply for each, and
// reopens the file for further appends.
func Recover(path string, apply func(Record)) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	for {
		var lenBuf [8]byte
		if _, err := readFull(r, lenBuf[:]); err != nil {
			break
		}
		n := binary.BigEndian.Uint64(lenBuf[:])

		payload := make([]byte, n)
		if _, err := readFull(r, payload); err != nil {
			f.Close()
			return nil, ErrCorrupt
		}

		var crcBuf [4]byte
		if _, err := readFull(r, crcBuf[:]); err != nil {
			f.Close()
			return nil, ErrCorrupt
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf[:])
		if checksum.Value(payload) != wantCRC {
			f.Close()
			return nil, ErrCorrupt
		}

		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			f.Close()
			return nil, ErrCorrupt
		}
		apply(rec)
	}

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, err
	}
	return &Manifest{file: f}, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AddRecord appends rec, framed as len:u64 | json | crc32c, and fsyncs the
// file. Must be called while the caller holds its state write-side mutex.
func (m *Manifest) AddRecord(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	crc := checksum.Value(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := m.file.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := m.file.Write(payload); err != nil {
		return err
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	if _, err := m.file.Write(crcBuf[:]); err != nil {
		return err
	}
	return m.file.Sync()
}

// Close closes the underlying file.
func (m *Manifest) Close() error { return m.file.Close() }
