package lsmkv

import (
	"time"

	"github.com/go-lsm/lsmkv/internal/logging"
)

// backgroundTick is the interval at which the flush and compaction workers
// each check whether there is work to do.
const backgroundTick = 50 * time.Millisecond

// Sync flushes and fsyncs the current memtable's WAL, if any, making every
// write applied so far durable without freezing the memtable.
func (e *Engine) Sync() error {
	return e.loadState().memtable.SyncWal()
}

// flushWorker periodically freezes an over-sized current memtable and
// drains the immutable queue. Every error is logged and the worker keeps
// running; it does not stop on any error, and Close does not report errors
// the worker met.
func (e *Engine) flushWorker() {
	defer e.workersDone.Done()

	ticker := time.NewTicker(backgroundTick)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			if err := e.tickFlush(); err != nil {
				e.log.Errorf(logging.NSFlush+"%v", err)
			}
		}
	}
}

// tickFlush is the backstop the write path's synchronous freeze-on-size-
// threshold relies on: it freezes a current memtable that slipped over size
// between writes, then forces a flush whenever the immutable queue has
// reached NumMemtableLimit.
func (e *Engine) tickFlush() error {
	state := e.loadState()
	if state.memtable.ApproximateSize() >= int64(e.opts.TargetSstSize) {
		if err := e.tryFreeze(state.memtable.ID()); err != nil {
			return err
		}
	}

	state = e.loadState()
	if e.opts.NumMemtableLimit > 0 && len(state.immMemtables) >= e.opts.NumMemtableLimit {
		return e.forceFlushOldestImmMemtable()
	}
	return nil
}

// compactionWorker periodically asks the leveled controller for a task and
// executes it, logging and continuing past transient I/O errors.
func (e *Engine) compactionWorker() {
	defer e.workersDone.Done()

	if e.compactionCtl == nil {
		<-e.shutdown
		return
	}

	ticker := time.NewTicker(backgroundTick)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			if err := e.Compact(); err != nil {
				e.log.Errorf(logging.NSCompact+"%v", err)
			}
		}
	}
}
