// Package compaction implements the leveled compaction controller: task
// generation from level size targets and L0/level triggers, overlap search,
// and applying a compaction's result to an LsmState-shaped set of levels.
package compaction

import "sort"

// Options configures the leveled controller.
type Options struct {
	Level0FileNumCompactionTrigger int
	MaxLevels                      int
	BaseLevelSizeMB                int
	LevelSizeMultiplier            int
}

// SstInfo is the subset of an SST's metadata the controller needs: its id,
// size in bytes, and user-key range.
type SstInfo struct {
	ID       uint64
	Size     int64
	FirstKey []byte
	LastKey  []byte
}

// Task describes one compaction: an upper source (L0 or a level) and the
// lower level's overlapping SSTs.
type Task struct {
	UpperLevel    int // 0 means L0
	UpperSstIDs   []uint64
	LowerLevel    int
	LowerSstIDs   []uint64
	IsLowerBottom bool
}

// Controller picks and applies leveled compaction tasks against a view of
// the current state: L0 (newest first) and Levels[i] holding L(i+1)'s SSTs,
// each indexed by id through sstInfo.
type Controller struct {
	opts Options
}

// NewController creates a Controller with opts.
func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

// targetSizes computes the per-level byte target described in the
// component design: fill from the bottom up, halting the geometric falloff
// once a level's target drops to or below the base size.
func (c *Controller) targetSizes(realSize []int64) ([]int64, int) {
	n := c.opts.MaxLevels
	target := make([]int64, n)
	baseBytes := int64(c.opts.BaseLevelSizeMB) * 1024 * 1024

	target[n-1] = realSize[n-1]
	if target[n-1] < baseBytes {
		target[n-1] = baseBytes
	}
	for i := n - 2; i >= 0; i-- {
		if target[i+1] > baseBytes {
			target[i] = target[i+1] / int64(c.opts.LevelSizeMultiplier)
		} else {
			target[i] = 0
		}
	}

	baseLevel := n
	for i := 0; i < n; i++ {
		if target[i] > 0 {
			baseLevel = i
			break
		}
	}
	return target, baseLevel
}

// PickTask chooses the next compaction task given L0's SST ids (newest
// first) and each level's disjoint, first-key-sorted SST infos (levels[0]
// is L1). Returns nil if neither trigger fires.
func (c *Controller) PickTask(l0 []SstInfo, levels [][]SstInfo) *Task {
	realSize := make([]int64, c.opts.MaxLevels)
	for i := 0; i < c.opts.MaxLevels && i < len(levels); i++ {
		for _, s := range levels[i] {
			realSize[i] += s.Size
		}
	}
	target, baseLevel := c.targetSizes(realSize)

	if len(l0) >= c.opts.Level0FileNumCompactionTrigger {
		lower := baseLevel
		if lower >= c.opts.MaxLevels {
			lower = c.opts.MaxLevels - 1
		}
		begin, end := rangeOf(l0)
		overlapping := overlapSsts(levels[lower], begin, end)
		return &Task{
			UpperLevel:    0,
			UpperSstIDs:   idsOf(l0),
			LowerLevel:    lower + 1,
			LowerSstIDs:   idsOf(overlapping),
			IsLowerBottom: lower+1 == c.opts.MaxLevels,
		}
	}

	// i stops at MaxLevels-1: the bottommost level has no lower level to
	// compact into, so it never participates as an upper source here (it is
	// only ever a destination, via this trigger or the L0 trigger above).
	bestLevel := -1
	bestRatio := 1.0
	for i := 1; i <= c.opts.MaxLevels-1; i++ {
		if target[i-1] == 0 {
			continue
		}
		ratio := float64(realSize[i-1]) / float64(target[i-1])
		if ratio > bestRatio {
			bestRatio = ratio
			bestLevel = i
		}
	}
	if bestLevel == -1 {
		return nil
	}

	upperInfos := levels[bestLevel-1]
	if len(upperInfos) == 0 {
		return nil
	}
	smallest := upperInfos[0]
	for _, s := range upperInfos[1:] {
		if s.ID < smallest.ID {
			smallest = s
		}
	}
	lower := bestLevel
	var lowerInfos []SstInfo
	if lower < len(levels) {
		lowerInfos = levels[lower]
	}
	overlapping := overlapSsts(lowerInfos, smallest.FirstKey, smallest.LastKey)

	return &Task{
		UpperLevel:    bestLevel,
		UpperSstIDs:   []uint64{smallest.ID},
		LowerLevel:    lower + 1,
		LowerSstIDs:   idsOf(overlapping),
		IsLowerBottom: lower+1 == c.opts.MaxLevels,
	}
}

func rangeOf(ssts []SstInfo) (begin, end []byte) {
	begin, end = ssts[0].FirstKey, ssts[0].LastKey
	for _, s := range ssts[1:] {
		if bytesLess(s.FirstKey, begin) {
			begin = s.FirstKey
		}
		if bytesLess(end, s.LastKey) {
			end = s.LastKey
		}
	}
	return
}

func overlapSsts(ssts []SstInfo, begin, end []byte) []SstInfo {
	var out []SstInfo
	for _, s := range ssts {
		if !bytesLess(s.LastKey, begin) && !bytesLess(end, s.FirstKey) {
			out = append(out, s)
		}
	}
	return out
}

func idsOf(ssts []SstInfo) []uint64 {
	ids := make([]uint64, len(ssts))
	for i, s := range ssts {
		ids[i] = s.ID
	}
	return ids
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ApplyResult computes the new contents of levels[task.LowerLevel-1] after a
// compaction: the task's lower ids are removed from level, outputs are
// appended, and the result is re-sorted by each SstInfo's first key. The
// task's upper ids are not touched here; the caller removes them from L0 or
// levels[task.UpperLevel-1] itself.
func ApplyResult(level []SstInfo, task *Task, outputs []SstInfo) []SstInfo {
	remove := make(map[uint64]struct{}, len(task.LowerSstIDs))
	for _, id := range task.LowerSstIDs {
		remove[id] = struct{}{}
	}
	kept := make([]SstInfo, 0, len(level))
	for _, s := range level {
		if _, drop := remove[s.ID]; !drop {
			kept = append(kept, s)
		}
	}
	kept = append(kept, outputs...)
	sort.Slice(kept, func(i, j int) bool { return bytesLess(kept[i].FirstKey, kept[j].FirstKey) })
	return kept
}
