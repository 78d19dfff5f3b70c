package lsmkv

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/go-lsm/lsmkv/internal/key"
	"github.com/go-lsm/lsmkv/internal/logging"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/table"
)

type recoveryTask struct {
	UpperLevel  int      `json:"upper_level"`
	UpperSstIDs []uint64 `json:"upper_sst_ids"`
	LowerLevel  int      `json:"lower_level"`
	LowerSstIDs []uint64 `json:"lower_sst_ids"`
}

type recoveryPlan struct {
	hasCurrent bool
	current    uint64
	imm        []uint64 // index 0 newest
	l0         []uint64 // index 0 newest
	levels     [][]uint64
}

func (e *Engine) recover(mPath string) error {
	maxLevels := e.opts.CompactionOptions.MaxLevels
	if maxLevels <= 0 {
		maxLevels = 1
	}
	plan := &recoveryPlan{levels: make([][]uint64, maxLevels)}

	man, err := manifest.Recover(mPath, func(rec manifest.Record) {
		applyRecoveryRecord(plan, rec)
	})
	if err != nil {
		return err
	}
	e.manifest = man
	e.log.Infof(logging.NSRecovery+"replayed manifest at %s", mPath)

	e.ids.observe(plan.current)
	for _, id := range plan.imm {
		e.ids.observe(id)
	}
	for _, id := range plan.l0 {
		e.ids.observe(id)
	}
	for _, ids := range plan.levels {
		for _, id := range ids {
			e.ids.observe(id)
		}
	}

	current, err := e.recoverMemtable(plan.current)
	if err != nil {
		return err
	}
	state := newLsmState(current)

	for _, id := range plan.imm {
		mt, err := e.recoverMemtable(id)
		if err != nil {
			return err
		}
		state.immMemtables = append(state.immMemtables, mt)
	}

	allSstIDs := append([]uint64(nil), plan.l0...)
	for _, ids := range plan.levels {
		allSstIDs = append(allSstIDs, ids...)
	}
	for _, id := range allSstIDs {
		if _, ok := state.sstables[id]; ok {
			continue
		}
		f, err := os.OpenFile(sstPath(e.dir, id), os.O_RDWR, 0o644)
		if err != nil {
			return err
		}
		sst, err := table.Open(id, e.blockCache, f)
		if err != nil {
			return err
		}
		state.sstables[id] = sst
	}

	state.l0SSTables = plan.l0
	state.levels = make([]level, maxLevels)
	for i, ids := range plan.levels {
		sorted := append([]uint64(nil), ids...)
		sort.Slice(sorted, func(a, b int) bool {
			return key.Compare(state.sstables[sorted[a]].FirstKey(), state.sstables[sorted[b]].FirstKey()) < 0
		})
		state.levels[i] = level{sstIDs: sorted}
	}

	var maxTs uint64
	for _, mt := range append([]*memtable.MemTable{state.memtable}, state.immMemtables...) {
		for it := mt.Scan(key.Key{}, key.Key{UserKey: maxUserKey, Ts: key.TsRangeEnd}); it.IsValid(); it.Next() {
			if it.Key().Ts > maxTs {
				maxTs = it.Key().Ts
			}
		}
	}
	for _, sst := range state.sstables {
		if sst.MaxTs() > maxTs {
			maxTs = sst.MaxTs()
		}
	}
	e.oracle.UpdateCommitTs(maxTs)

	e.state = state
	e.log.Infof(logging.NSRecovery+"recovered %d sstables across %d levels plus %d immutable memtables",
		len(state.sstables), len(state.levels), len(state.immMemtables))
	return nil
}

func (e *Engine) recoverMemtable(id uint64) (*memtable.MemTable, error) {
	if !e.opts.EnableWal {
		return memtable.New(id, "")
	}
	path := walPath(e.dir, id)
	if _, err := os.Stat(path); err != nil {
		return memtable.New(id, "")
	}
	e.log.Debugf(logging.NSWAL+"replaying %s", path)
	return memtable.Recover(id, path)
}

func applyRecoveryRecord(plan *recoveryPlan, rec manifest.Record) {
	switch rec.Kind {
	case manifest.KindNewMemTable:
		if plan.hasCurrent {
			plan.imm = append([]uint64{plan.current}, plan.imm...)
		}
		plan.current = rec.MemTableID
		plan.hasCurrent = true
	case manifest.KindFlush:
		plan.imm = removeID(plan.imm, rec.SstID)
		plan.l0 = append([]uint64{rec.SstID}, plan.l0...)
	case manifest.KindCompaction:
		var task recoveryTask
		if err := json.Unmarshal(rec.Task, &task); err != nil {
			return
		}
		if task.UpperLevel == 0 {
			plan.l0 = removeIDs(plan.l0, task.UpperSstIDs)
		} else if task.UpperLevel-1 < len(plan.levels) {
			plan.levels[task.UpperLevel-1] = removeIDs(plan.levels[task.UpperLevel-1], task.UpperSstIDs)
		}
		if task.LowerLevel-1 < len(plan.levels) {
			plan.levels[task.LowerLevel-1] = removeIDs(plan.levels[task.LowerLevel-1], task.LowerSstIDs)
			plan.levels[task.LowerLevel-1] = append(plan.levels[task.LowerLevel-1], rec.OutputSstIDs...)
		}
	}
}

func removeID(ids []uint64, target uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func removeIDs(ids []uint64, targets []uint64) []uint64 {
	drop := make(map[uint64]struct{}, len(targets))
	for _, t := range targets {
		drop[t] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
