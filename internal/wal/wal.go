package wal

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/go-lsm/lsmkv/internal/key"
)

// Wal is an append-only record log backing a single memtable.
type Wal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// Create opens a new WAL file at path, failing if it already exists.
func Create(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &Wal{file: f, buf: bufio.NewWriter(f)}, nil
}

// Recover reads every record from path in order and applies apply(key, value)
// to each, then reopens the file for further appends. A checksum mismatch is
// a fatal integrity error: the caller should refuse to open the engine.
func Recover(path string, apply func(key.Key, []byte)) (*Wal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(data); {
		k, v, n, err := decodeRecord(data[off:])
		if err != nil {
			return nil, err
		}
		apply(k, v)
		off += n
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Wal{file: f, buf: bufio.NewWriter(f)}, nil
}

// Put appends one record to the user-space buffer. It is not durable until
// Sync is called.
func (w *Wal) Put(k key.Key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.buf.Write(encodeRecord(k, value))
	return err
}

// Sync flushes the user-space buffer and fsyncs the underlying file.
func (w *Wal) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes, syncs, and closes the underlying file.
func (w *Wal) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

var _ io.Closer = (*Wal)(nil)
