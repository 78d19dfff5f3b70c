// Package lsmkv is an embedded, ordered key-value storage engine organized
// as a log-structured merge tree: a concurrent memtable and WAL for recent
// writes, block-structured SST files with Bloom filters and a shared block
// cache, a family of merging iterators providing MVCC-consistent reads, a
// leveled compaction controller, and an append-only manifest that makes the
// whole thing crash-safe.
package lsmkv

import (
	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/compaction"
	"github.com/go-lsm/lsmkv/internal/logging"
)

// ErrUnsupportedStrategy is returned by Open when CompactionOptions.Strategy
// names a policy whose task-generation algorithm this engine does not
// implement.
var ErrUnsupportedStrategy = errors.New("lsmkv: unsupported compaction strategy")

// CompactionStrategy tags which compaction policy Options selects.
type CompactionStrategy int

const (
	// NoCompaction disables background compaction entirely; L0 SSTs
	// accumulate until ForceFullCompaction is called explicitly.
	NoCompaction CompactionStrategy = iota
	// Leveled selects the leveled compaction controller, the only strategy
	// with a fully specified task-generation algorithm.
	Leveled
	// Tiered names the tiered-compaction policy. Its task-generation
	// algorithm is not implemented here; Open rejects it.
	Tiered
	// SimpleLeveled names the simple-leveled policy. Also rejected by Open
	// for the same reason.
	SimpleLeveled
)

// CompactionOptions configures the compaction strategy and, for Leveled,
// the controller's tuning knobs.
type CompactionOptions struct {
	Strategy                       CompactionStrategy
	Level0FileNumCompactionTrigger int
	MaxLevels                      int
	BaseLevelSizeMB                int
	LevelSizeMultiplier            int
}

func (o CompactionOptions) toControllerOptions() compaction.Options {
	return compaction.Options{
		Level0FileNumCompactionTrigger: o.Level0FileNumCompactionTrigger,
		MaxLevels:                      o.MaxLevels,
		BaseLevelSizeMB:                o.BaseLevelSizeMB,
		LevelSizeMultiplier:            o.LevelSizeMultiplier,
	}
}

// Options configures an Engine opened with Open.
type Options struct {
	// BlockSize is the target size in bytes of each SST data block.
	BlockSize int
	// TargetSstSize is the approximate-size threshold at which a memtable
	// is frozen and rotated, and the rough size an output SST is rotated at
	// during compaction.
	TargetSstSize int
	// NumMemtableLimit is the maximum number of immutable memtables allowed
	// to accumulate before a flush is forced.
	NumMemtableLimit int
	// CompactionOptions selects and tunes the compaction strategy.
	CompactionOptions CompactionOptions
	// EnableWal turns on write-ahead logging for every memtable.
	EnableWal bool
	// Serializable turns on write-set/read-set validation for transactions.
	Serializable bool
	// BlockCacheBlocks bounds the shared block cache's entry count.
	BlockCacheBlocks int
	// Logger receives structured log lines from the background workers and
	// the recovery path. Defaults to logging.Discard.
	Logger logging.Logger
}

// DefaultOptions returns reasonable defaults: 4 KiB blocks, 2 MiB
// memtable/SST rotation, WAL enabled, leveled compaction, non-serializable
// transactions.
func DefaultOptions() Options {
	return Options{
		BlockSize:        4096,
		TargetSstSize:    2 << 20,
		NumMemtableLimit: 4,
		CompactionOptions: CompactionOptions{
			Strategy:                       Leveled,
			Level0FileNumCompactionTrigger: 4,
			MaxLevels:                      4,
			BaseLevelSizeMB:                128,
			LevelSizeMultiplier:            10,
		},
		EnableWal:        true,
		Serializable:     false,
		BlockCacheBlocks: 1 << 12,
	}
}
