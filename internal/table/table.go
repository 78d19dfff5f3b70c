package table

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/block"
	"github.com/go-lsm/lsmkv/internal/cache"
	"github.com/go-lsm/lsmkv/internal/checksum"
	"github.com/go-lsm/lsmkv/internal/filter"
	"github.com/go-lsm/lsmkv/internal/key"
)

// ErrBlockCorrupt is returned when a data block's trailing checksum does not
// match its payload.
var ErrBlockCorrupt = errors.New("table: corrupt data block")

// SsTable is an immutable, opened on-disk sorted table.
type SsTable struct {
	id              uint64
	file            *os.File
	metas           []blockMeta
	blockMetaOffset uint32
	bloom           *filter.Filter
	firstKey        key.Key
	lastKey         key.Key
	maxTs           uint64
	blockCache      *cache.BlockCache
	size            int64
}

// ID returns the SST's id.
func (t *SsTable) ID() uint64 { return t.id }

// FirstKey returns the smallest versioned key stored in the table.
func (t *SsTable) FirstKey() key.Key { return t.firstKey }

// LastKey returns the largest versioned key stored in the table.
func (t *SsTable) LastKey() key.Key { return t.lastKey }

// MaxTs returns the highest timestamp of any entry in the table.
func (t *SsTable) MaxTs() uint64 { return t.maxTs }

// NumBlocks returns the number of data blocks in the table.
func (t *SsTable) NumBlocks() int { return len(t.metas) }

// Size returns the on-disk size of the table in bytes, used by the leveled
// compaction controller's real-size accounting.
func (t *SsTable) Size() int64 { return t.size }

// MayContain reports whether userKey might be present, via the Bloom filter.
func (t *SsTable) MayContain(userKey []byte) bool { return t.bloom.MayContain(userKey) }

// Open reads an already-written SST file and validates its block-meta
// checksum and Bloom filter.
func Open(id uint64, blockCache *cache.BlockCache, file *os.File) (*SsTable, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var trailer [4]byte
	if _, err := file.ReadAt(trailer[:], size-4); err != nil {
		return nil, err
	}
	bloomOffset := int64(binary.BigEndian.Uint32(trailer[:]))

	bloomBytes := make([]byte, size-4-bloomOffset)
	if _, err := file.ReadAt(bloomBytes, bloomOffset); err != nil {
		return nil, err
	}
	bloom, err := filter.Decode(bloomBytes)
	if err != nil {
		return nil, err
	}

	if _, err := file.ReadAt(trailer[:], bloomOffset-4); err != nil {
		return nil, err
	}
	blockMetaOffset := int64(binary.BigEndian.Uint32(trailer[:]))

	metaBytes := make([]byte, bloomOffset-4-blockMetaOffset)
	if _, err := file.ReadAt(metaBytes, blockMetaOffset); err != nil {
		return nil, err
	}
	metas, maxTs, err := decodeBlockMeta(metaBytes)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrCorrupt
	}

	return &SsTable{
		id:              id,
		file:            file,
		metas:           metas,
		blockMetaOffset: uint32(blockMetaOffset),
		bloom:           bloom,
		firstKey:        metas[0].firstKey,
		lastKey:         metas[len(metas)-1].lastKey,
		maxTs:           maxTs,
		blockCache:      blockCache,
		size:            size,
	}, nil
}

// Close releases the underlying file handle.
func (t *SsTable) Close() error { return t.file.Close() }

// readBlock reads and decodes data block idx directly from disk, verifying
// its trailing CRC32C.
func (t *SsTable) readBlock(idx int) (*block.Block, error) {
	start := int64(t.metas[idx].offset)
	var end int64
	if idx+1 < len(t.metas) {
		end = int64(t.metas[idx+1].offset)
	} else {
		end = int64(t.blockMetaOffset)
	}

	raw := make([]byte, end-start)
	if _, err := t.file.ReadAt(raw, start); err != nil {
		return nil, err
	}
	payload := raw[:len(raw)-4]
	wantCRC := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if checksum.Value(payload) != wantCRC {
		return nil, ErrBlockCorrupt
	}
	return block.Decode(payload)
}

// ReadBlockCached reads data block idx, consulting the shared block cache.
func (t *SsTable) ReadBlockCached(idx int) (*block.Block, error) {
	if t.blockCache == nil {
		return t.readBlock(idx)
	}
	return t.blockCache.GetOrCompute(cache.Key{SSTableID: t.id, BlockIdx: idx}, func() (*block.Block, error) {
		return t.readBlock(idx)
	})
}

// FindBlockIdx returns the index of the last block whose first key is <= k,
// saturating at 0 if every block's first key is greater than k.
func (t *SsTable) FindBlockIdx(k key.Key) int {
	idx := sort.Search(len(t.metas), func(i int) bool {
		return key.Compare(t.metas[i].firstKey, k) > 0
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}
