package lsmkv

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/go-lsm/lsmkv/internal/cache"
	"github.com/go-lsm/lsmkv/internal/compaction"
	"github.com/go-lsm/lsmkv/internal/logging"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/mvcc"
)

// ErrEmptyKey is returned by Put/Delete/Get when called with an empty key.
var ErrEmptyKey = errors.New("lsmkv: empty key")

// ErrClosed is returned by Get, Scan, Put, Delete and WriteBatch when called
// after Close.
var ErrClosed = errors.New("lsmkv: engine closed")

// Engine orchestrates reads, writes, flush, and compaction, and owns crash
// recovery on Open.
type Engine struct {
	dir  string
	opts Options

	// stateMu guards the *lsmState pointer itself (the atomic-swap
	// reference); stateLock is the separate mutex held across a whole
	// clone-mutate-swap-plus-manifest-record update sequence.
	stateMu   sync.RWMutex
	state     *lsmState
	stateLock sync.Mutex

	ids        idAllocator
	manifest   *manifest.Manifest
	blockCache *cache.BlockCache
	oracle     *mvcc.Oracle

	compactionCtl     *compaction.Controller
	filtersMu         sync.Mutex
	compactionFilters []compaction.Filter

	log logging.Logger

	closed      atomicBool
	closeOnce   sync.Once
	shutdown    chan struct{}
	workersDone sync.WaitGroup
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

// Open creates or recovers an engine rooted at dir.
func Open(dir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "lsmkv: create directory %q", dir)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard
	}

	switch opts.CompactionOptions.Strategy {
	case NoCompaction, Leveled:
	default:
		return nil, errors.Wrapf(ErrUnsupportedStrategy, "strategy %d", opts.CompactionOptions.Strategy)
	}

	e := &Engine{
		dir:        dir,
		opts:       opts,
		blockCache: cache.New(opts.BlockCacheBlocks),
		oracle:     mvcc.NewOracle(),
		log:        log,
		shutdown:   make(chan struct{}),
	}
	if opts.CompactionOptions.Strategy == Leveled {
		e.compactionCtl = compaction.NewController(opts.CompactionOptions.toControllerOptions())
	}

	mPath := manifestPath(dir)
	if _, err := os.Stat(mPath); errors.Is(err, os.ErrNotExist) {
		if err := e.bootstrap(mPath); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		if err := e.recover(mPath); err != nil {
			return nil, err
		}
	}

	e.log.Infof(logging.NSDB+"opened at %s", dir)

	e.workersDone.Add(2)
	go e.flushWorker()
	go e.compactionWorker()

	return e, nil
}

// bootstrap creates a fresh manifest and an initial empty memtable.
func (e *Engine) bootstrap(mPath string) error {
	man, err := manifest.Create(mPath)
	if err != nil {
		return errors.Wrap(err, "lsmkv: create manifest")
	}
	e.manifest = man
	e.log.Infof(logging.NSManifest+"created %s", mPath)

	id := e.ids.allocate()
	mt, err := e.newMemtable(id)
	if err != nil {
		return err
	}
	state := newLsmState(mt)
	maxLevels := e.opts.CompactionOptions.MaxLevels
	if maxLevels <= 0 {
		maxLevels = 1
	}
	state.levels = make([]level, maxLevels)
	e.state = state

	return e.manifest.AddRecord(manifest.Record{Kind: manifest.KindNewMemTable, MemTableID: id})
}

func (e *Engine) newMemtable(id uint64) (*memtable.MemTable, error) {
	path := ""
	if e.opts.EnableWal {
		path = walPath(e.dir, id)
	}
	return memtable.New(id, path)
}

// AddCompactionFilter registers f to be consulted by every future
// compaction that reaches the watermark.
func (e *Engine) AddCompactionFilter(f compaction.Filter) {
	e.filtersMu.Lock()
	defer e.filtersMu.Unlock()
	e.compactionFilters = append(e.compactionFilters, f)
}

func (e *Engine) activeFilters() []compaction.Filter {
	e.filtersMu.Lock()
	defer e.filtersMu.Unlock()
	return append([]compaction.Filter(nil), e.compactionFilters...)
}

func (e *Engine) loadState() *lsmState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) swapState(s *lsmState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.state = s
}

// Close signals the background workers to stop, joins them, then makes
// buffered writes durable -- by syncing the current memtable's WAL when the
// WAL is enabled, or by flushing every memtable to SSTs when it is not --
// and closes the manifest.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.set(true)
		close(e.shutdown)
		e.workersDone.Wait()

		if e.opts.EnableWal {
			err = e.Sync()
		} else {
			err = e.flushAllMemtables()
		}
		if cerr := e.manifest.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
