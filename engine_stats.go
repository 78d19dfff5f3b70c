package lsmkv

// Stats is a point-in-time snapshot of an engine's storage layout, used by
// tests asserting on SST counts after flush and compaction.
type Stats struct {
	NumImmutableMemtables int
	NumL0SSTables         int
	LevelSSTableCounts    []int
	Watermark             uint64
}

// Stats assembles a Stats snapshot from a single state load plus the
// oracle's current watermark.
func (e *Engine) Stats() Stats {
	state := e.loadState()

	counts := make([]int, len(state.levels))
	for i, lvl := range state.levels {
		counts[i] = len(lvl.sstIDs)
	}

	return Stats{
		NumImmutableMemtables: len(state.immMemtables),
		NumL0SSTables:         len(state.l0SSTables),
		LevelSSTableCounts:    counts,
		Watermark:             e.oracle.Watermark(),
	}
}
