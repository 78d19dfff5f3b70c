package table

import (
	"encoding/binary"
	"os"

	"github.com/go-lsm/lsmkv/internal/block"
	"github.com/go-lsm/lsmkv/internal/cache"
	"github.com/go-lsm/lsmkv/internal/checksum"
	"github.com/go-lsm/lsmkv/internal/filter"
	"github.com/go-lsm/lsmkv/internal/key"
)

// BloomFalsePositiveRate is the target false-positive rate for every SST's
// Bloom filter.
const BloomFalsePositiveRate = 0.01

// Builder assembles an SsTable one (key, value) pair at a time, rotating
// data blocks as they fill and tracking the Bloom filter and key-range
// metadata needed to open the finished file.
type Builder struct {
	blockSize int
	cur       *block.Builder
	metas     []blockMeta
	data      []byte
	filter    *filter.Builder
	firstKey  key.Key
	lastKey   key.Key
	maxTs     uint64
	hasAny    bool
}

// NewBuilder creates a Builder whose data blocks target blockSize bytes.
func NewBuilder(blockSize int) *Builder {
	return &Builder{
		blockSize: blockSize,
		cur:       block.NewBuilder(blockSize),
		filter:    filter.NewBuilder(),
	}
}

// Add appends (k, value) in ascending key order.
func (b *Builder) Add(k key.Key, value []byte) {
	b.filter.Add(k.UserKey)
	if k.Ts > b.maxTs {
		b.maxTs = k.Ts
	}
	if !b.hasAny {
		b.firstKey = k.Copy()
		b.hasAny = true
	}
	b.lastKey = k.Copy()

	if b.cur.Add(k, value) {
		return
	}
	b.finishBlock()
	b.cur.Add(k, value)
}

func (b *Builder) finishBlock() {
	if b.cur.IsEmpty() {
		return
	}
	blk := b.cur.Build()
	encoded := blk.Encode()
	crc := checksum.Value(encoded)

	meta := blockMeta{offset: uint32(len(b.data))}
	it := block.NewIterator(blk)
	it.SeekToFirst()
	meta.firstKey = it.Key().Copy()
	last := it.Key()
	for it.Next(); it.IsValid(); it.Next() {
		last = it.Key()
	}
	meta.lastKey = last.Copy()
	b.metas = append(b.metas, meta)

	b.data = append(b.data, encoded...)
	b.data = binary.BigEndian.AppendUint32(b.data, crc)
	b.cur = block.NewBuilder(b.blockSize)
}

// EstimatedSize approximates the size of the file built so far.
func (b *Builder) EstimatedSize() int {
	return len(b.data) + b.cur.EstimatedSize()
}

// Build finalizes the SST, writing it to path under id and registering it
// with blockCache so subsequent reads can use read_block_cached.
func (b *Builder) Build(id uint64, blockCache *cache.BlockCache, path string) (*SsTable, error) {
	b.finishBlock()

	blockMetaOffset := uint32(len(b.data))
	metaSection := encodeBlockMeta(b.metas, b.maxTs)
	body := append(append([]byte(nil), b.data...), metaSection...)
	body = binary.BigEndian.AppendUint32(body, blockMetaOffset)

	bloom := b.filter.Build(BloomFalsePositiveRate)
	bloomOffset := uint32(len(body))
	bloomEncoded := bloom.Encode()
	body = append(body, bloomEncoded...)
	body = binary.BigEndian.AppendUint32(body, bloomOffset)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	return &SsTable{
		id:              id,
		file:            f,
		metas:           b.metas,
		blockMetaOffset: blockMetaOffset,
		bloom:           bloom,
		firstKey:        b.firstKey,
		lastKey:         b.lastKey,
		maxTs:           b.maxTs,
		blockCache:      blockCache,
		size:            int64(len(body)),
	}, nil
}
