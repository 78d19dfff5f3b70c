// Package filter implements the per-SST membership Bloom filter.
//
// The wire format is the bit array's 64-bit words (each big-endian), its bit
// count, and a trailing hash-round count:
//
//	words:[]u64 | num_bits:u32 | k:u8 | crc32c:u32
//
// where crc32c covers every byte before it. Bit storage is addressed through
// bits-and-blooms/bitset; key hashing uses xxh3's 32-bit fingerprint, from
// which a second hash is derived by rotation for Kirsch-Mitzenmacher double
// hashing.
package filter

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/go-lsm/lsmkv/internal/checksum"
)

// ErrCorrupt is returned when a filter's trailing checksum does not match.
var ErrCorrupt = errors.New("filter: corrupt bloom filter")

// Fingerprint32 returns the 32-bit hash used to test/add a user key.
func Fingerprint32(userKey []byte) uint32 {
	return uint32(xxh3.Hash(userKey))
}

// Filter is an immutable, decoded Bloom filter.
type Filter struct {
	bits *bitset.BitSet
	k    uint8
}

// Builder accumulates key fingerprints for one SST's Bloom filter.
type Builder struct {
	fingerprints []uint32
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Add records a key's fingerprint. Call this once per key added to the SST.
func (b *Builder) Add(userKey []byte) {
	b.fingerprints = append(b.fingerprints, Fingerprint32(userKey))
}

// bitsPerKeyForFPR converts a desired false-positive rate into a bits-per-key
// budget, following the standard Bloom filter sizing formula.
func bitsPerKeyForFPR(falsePositiveRate float64) float64 {
	return -1.0 * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
}

// optimalK derives the number of hash rounds from the bits-per-key budget.
func optimalK(bitsPerKey float64) uint8 {
	k := int(math.Round(bitsPerKey * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint8(k)
}

// Build finalizes the filter targeting the given false-positive rate.
func (b *Builder) Build(falsePositiveRate float64) *Filter {
	n := len(b.fingerprints)
	if n == 0 {
		return &Filter{bits: bitset.New(8), k: 1}
	}
	bitsPerKey := bitsPerKeyForFPR(falsePositiveRate)
	k := optimalK(bitsPerKey)

	numBits := uint(float64(n) * bitsPerKey)
	if numBits < 64 {
		numBits = 64
	}
	// Whole 64-bit words, so the bit length Decode recovers from the word
	// count is the same modulus Build hashes with.
	numBits = (numBits + 63) / 64 * 64
	bits := bitset.New(numBits)

	for _, fp := range b.fingerprints {
		h1, h2 := splitFingerprint(fp)
		for i := uint8(0); i < k; i++ {
			idx := combine(h1, h2, i) % uint32(numBits)
			bits.Set(uint(idx))
		}
	}
	return &Filter{bits: bits, k: k}
}

// splitFingerprint derives two independent 32-bit hashes from one
// fingerprint via Kirsch-Mitzenmacher double hashing.
func splitFingerprint(fp uint32) (uint32, uint32) {
	h1 := fp
	h2 := (fp >> 17) | (fp << 15)
	return h1, h2
}

func combine(h1, h2 uint32, i uint8) uint32 {
	return h1 + uint32(i)*h2
}

// MayContain reports whether userKey might be present. False positives are
// possible; false negatives are not.
func (f *Filter) MayContain(userKey []byte) bool {
	return f.mayContainFingerprint(Fingerprint32(userKey))
}

func (f *Filter) mayContainFingerprint(fp uint32) bool {
	numBits := f.bits.Len()
	if numBits == 0 {
		return true
	}
	h1, h2 := splitFingerprint(fp)
	for i := uint8(0); i < f.k; i++ {
		idx := combine(h1, h2, i) % uint32(numBits)
		if !f.bits.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// Encode serializes the filter to words | num_bits:u32 | k:u8 | crc32c:u32.
func (f *Filter) Encode() []byte {
	bitBytes := f.bits.Bytes()
	buf := make([]byte, 0, len(bitBytes)*8+4+1+4)
	// bitset.Bytes returns []uint64 words; each is written big-endian, the
	// layout Decode reads back.
	wordBuf := make([]byte, 8)
	for _, w := range bitBytes {
		binary.BigEndian.PutUint64(wordBuf, w)
		buf = append(buf, wordBuf...)
	}
	lenBits := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBits, uint32(f.bits.Len()))
	buf = append(buf, lenBits...)
	buf = append(buf, byte(f.k))
	crc := checksum.Value(buf)
	buf = binary.BigEndian.AppendUint32(buf, crc)
	return buf
}

// Decode parses a filter previously produced by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 4+1+4 {
		return nil, ErrCorrupt
	}
	crcOff := len(data) - 4
	wantCRC := binary.BigEndian.Uint32(data[crcOff:])
	if checksum.Value(data[:crcOff]) != wantCRC {
		return nil, ErrCorrupt
	}
	k := data[crcOff-1]
	numBitsOff := crcOff - 1 - 4
	numBits := binary.BigEndian.Uint32(data[numBitsOff : numBitsOff+4])

	wordBytes := data[:numBitsOff]
	words := make([]uint64, len(wordBytes)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(wordBytes[i*8 : i*8+8])
	}
	bits := bitset.From(words)
	_ = numBits

	return &Filter{bits: bits, k: k}, nil
}
