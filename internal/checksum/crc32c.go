// Package checksum computes CRC32C (Castagnoli) checksums for the on-disk
// formats that require one: block payloads, block-meta sections, WAL
// records, and manifest frames. Every on-disk CRC here is a plain, unmasked
// CRC32C of the exact byte range the format calls out.
package checksum

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Value computes the CRC32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}
