package lsmkv

import (
	"encoding/json"
	"os"

	"github.com/go-lsm/lsmkv/internal/compaction"
	"github.com/go-lsm/lsmkv/internal/iterator"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/table"
)

// Compact runs one round of leveled compaction if the controller's triggers
// fire, or does nothing if compaction is disabled or no trigger is met.
func (e *Engine) Compact() error {
	if e.compactionCtl == nil {
		return nil
	}
	task := e.pickTask()
	if task == nil {
		return nil
	}
	return e.runCompaction(task)
}

// ForceFullCompaction compacts every L0 and L1 SST into a fresh L1. It is
// the degenerate path used when CompactionOptions.Strategy is NoCompaction,
// where no background controller ever picks a task.
func (e *Engine) ForceFullCompaction() error {
	state := e.loadState()
	if len(state.l0SSTables) == 0 && (len(state.levels) == 0 || len(state.levels[0].sstIDs) == 0) {
		return nil
	}
	var l1 []uint64
	if len(state.levels) > 0 {
		l1 = append([]uint64(nil), state.levels[0].sstIDs...)
	}
	task := &compaction.Task{
		UpperLevel:    0,
		UpperSstIDs:   append([]uint64(nil), state.l0SSTables...),
		LowerLevel:    1,
		LowerSstIDs:   l1,
		IsLowerBottom: len(state.levels) <= 1,
	}
	return e.runCompaction(task)
}

// pickTask snapshots the current state into the shape the controller needs
// and asks it for the next task.
func (e *Engine) pickTask() *compaction.Task {
	state := e.loadState()

	l0 := make([]compaction.SstInfo, 0, len(state.l0SSTables))
	for _, id := range state.l0SSTables {
		l0 = append(l0, sstInfoOf(state.sstables[id]))
	}

	levels := make([][]compaction.SstInfo, len(state.levels))
	for i, lvl := range state.levels {
		infos := make([]compaction.SstInfo, 0, len(lvl.sstIDs))
		for _, id := range lvl.sstIDs {
			infos = append(infos, sstInfoOf(state.sstables[id]))
		}
		levels[i] = infos
	}

	return e.compactionCtl.PickTask(l0, levels)
}

func sstInfoOf(sst *table.SsTable) compaction.SstInfo {
	return compaction.SstInfo{
		ID:       sst.ID(),
		Size:     sst.Size(),
		FirstKey: sst.FirstKey().UserKey,
		LastKey:  sst.LastKey().UserKey,
	}
}

// runCompaction builds the merged input stream for task, writes its output
// as one or more new SSTs, and publishes the result: state swap, manifest
// record, unlink of superseded files, directory fsync.
func (e *Engine) runCompaction(task *compaction.Task) error {
	state := e.loadState()

	upperSources, err := e.sourcesFor(state, task.UpperLevel, task.UpperSstIDs)
	if err != nil {
		return err
	}
	lowerSources, err := e.sourcesFor(state, task.LowerLevel, task.LowerSstIDs)
	if err != nil {
		return err
	}

	upper := iterator.NewMergeIterator(upperSources)
	lower := iterator.NewMergeIterator(lowerSources)
	merged, err := iterator.NewTwoMergeIterator(upper, lower)
	if err != nil {
		return err
	}

	watermark := e.oracle.Watermark()
	outputs, err := e.compactGenerateSst(merged, task.IsLowerBottom, watermark)
	if err != nil {
		return err
	}

	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	cur := e.loadState()
	next := cur.clone()

	if task.UpperLevel == 0 {
		next.l0SSTables = removeIDs(next.l0SSTables, task.UpperSstIDs)
	} else {
		next.levels[task.UpperLevel-1].sstIDs = removeIDs(next.levels[task.UpperLevel-1].sstIDs, task.UpperSstIDs)
	}

	lowerInfos := make([]compaction.SstInfo, 0, len(next.levels[task.LowerLevel-1].sstIDs))
	for _, id := range next.levels[task.LowerLevel-1].sstIDs {
		lowerInfos = append(lowerInfos, sstInfoOf(next.sstables[id]))
	}
	outputInfos := make([]compaction.SstInfo, 0, len(outputs))
	outputIDs := make([]uint64, 0, len(outputs))
	for _, sst := range outputs {
		next.sstables[sst.ID()] = sst
		outputInfos = append(outputInfos, sstInfoOf(sst))
		outputIDs = append(outputIDs, sst.ID())
	}
	merged2 := compaction.ApplyResult(lowerInfos, task, outputInfos)
	ids := make([]uint64, len(merged2))
	for i, info := range merged2 {
		ids[i] = info.ID
	}
	next.levels[task.LowerLevel-1].sstIDs = ids

	removed := append(append([]uint64(nil), task.UpperSstIDs...), task.LowerSstIDs...)
	for _, id := range removed {
		delete(next.sstables, id)
	}

	e.swapState(next)

	rec, err := encodeCompactionRecord(task, outputIDs)
	if err != nil {
		return err
	}
	if err := e.manifest.AddRecord(rec); err != nil {
		return err
	}
	if err := syncDir(e.dir); err != nil {
		return err
	}

	for _, id := range removed {
		if sst, ok := cur.sstables[id]; ok {
			e.blockCache.Erase(id)
			_ = sst.Close()
		}
		if err := os.Remove(sstPath(e.dir, id)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// sourcesFor opens one SsTable iterator per id in level (0 means L0, where
// SSTs may overlap and are merged individually) or, for a leveled source,
// delegates to a single SstConcatIterator since the level's SSTs are
// disjoint and already sorted by first key.
func (e *Engine) sourcesFor(state *lsmState, level int, ids []uint64) ([]iterator.StorageIterator, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if level == 0 {
		sources := make([]iterator.StorageIterator, 0, len(ids))
		for _, id := range ids {
			it, err := table.NewIterator(state.sstables[id])
			if err != nil {
				return nil, err
			}
			sources = append(sources, it)
		}
		return sources, nil
	}

	tables := make([]*table.SsTable, 0, len(ids))
	for _, id := range ids {
		tables = append(tables, state.sstables[id])
	}
	concat, err := iterator.NewSstConcatIterator(tables)
	if err != nil {
		return nil, err
	}
	return []iterator.StorageIterator{concat}, nil
}

// compactGenerateSst walks a merged compaction stream in order, writing a
// rolling sequence of output SSTs and applying the garbage-collection
// policy from the component design: tombstones and superseded duplicates at
// or below watermark are dropped (tombstones only when compacting to the
// bottom level, since an intermediate level must still shadow older
// versions further down), and any registered compaction filter's match
// drops the entry too.
func (e *Engine) compactGenerateSst(it iterator.StorageIterator, toBottomLevel bool, watermark uint64) ([]*table.SsTable, error) {
	filters := e.activeFilters()

	var outputs []*table.SsTable
	builder := table.NewBuilder(e.opts.BlockSize)

	var prevKey []byte
	hasPrev := false
	firstKeyBelowWatermark := true
	added := false

	rotateIfNeeded := func(sameAsPrev bool) error {
		if builder.EstimatedSize() < e.opts.TargetSstSize {
			return nil
		}
		if sameAsPrev {
			return nil
		}
		id := e.ids.allocate()
		sst, err := builder.Build(id, e.blockCache, sstPath(e.dir, id))
		if err != nil {
			return err
		}
		outputs = append(outputs, sst)
		builder = table.NewBuilder(e.opts.BlockSize)
		return nil
	}

	for it.IsValid() {
		k := it.Key()
		v := it.Value()
		sameAsPrev := hasPrev && bytesEqual(prevKey, k.UserKey)

		if !sameAsPrev {
			firstKeyBelowWatermark = true
		}

		drop := false
		if toBottomLevel && !sameAsPrev && k.Ts <= watermark && len(v) == 0 {
			drop = true
			firstKeyBelowWatermark = false
		} else if k.Ts <= watermark {
			if sameAsPrev && !firstKeyBelowWatermark {
				drop = true
			} else if matchesAnyFilter(filters, k.UserKey) {
				drop = true
			} else {
				firstKeyBelowWatermark = false
			}
		}

		if !drop {
			if err := rotateIfNeeded(sameAsPrev); err != nil {
				return nil, err
			}
			builder.Add(k, v)
			added = true
		}

		prevKey = append(prevKey[:0], k.UserKey...)
		hasPrev = true

		if err := it.Next(); err != nil {
			return nil, err
		}
	}

	if added {
		id := e.ids.allocate()
		sst, err := builder.Build(id, e.blockCache, sstPath(e.dir, id))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, sst)
	}

	return outputs, nil
}

func matchesAnyFilter(filters []compaction.Filter, userKey []byte) bool {
	for _, f := range filters {
		if f.ShouldDrop(userKey) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeCompactionRecord(task *compaction.Task, outputIDs []uint64) (manifest.Record, error) {
	wire := recoveryTask{
		UpperLevel:  task.UpperLevel,
		UpperSstIDs: task.UpperSstIDs,
		LowerLevel:  task.LowerLevel,
		LowerSstIDs: task.LowerSstIDs,
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return manifest.Record{}, err
	}
	return manifest.Record{Kind: manifest.KindCompaction, Task: payload, OutputSstIDs: outputIDs}, nil
}
