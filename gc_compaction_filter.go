// gc_compaction_filter.go implements the MVCC GC compaction filter: the
// per-key state machine (C5) and, at teardown, the tail-delete resolver
// (C6).
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs
// (WriteCompactionFilter, WriteCompactionFilterFactory).
package gcworker

import (
	"github.com/aalhour/gcworker/internal/gcbatch"
	"github.com/aalhour/gcworker/internal/gccontext"
	"github.com/aalhour/gcworker/internal/gcengine"
	"github.com/aalhour/gcworker/internal/gcmetrics"
	"github.com/aalhour/gcworker/internal/logging"
	"github.com/aalhour/gcworker/internal/mvcc"
)

// WriteCompactionFilterFactory reads the process-wide GC context (C2) and
// decides, per compaction, whether GC-via-compaction-filter is admitted
// (C3) before constructing a WriteCompactionFilter.
type WriteCompactionFilterFactory struct {
	registry   *gccontext.Registry
	engine     gcengine.Engine
	cmp        Comparator
	metrics    *gcmetrics.Collectors
	logger     Logger
	errHandler EngineErrorHandler
}

// NewWriteCompactionFilterFactory builds a factory bound to registry (the
// GC context, holding the live safe point, config, and cluster version)
// and engine (the write/iterate surface the created filters use).
//
// If cmp is nil, BytewiseComparator is used to decide where one user key's
// MVCC version chain ends and the next begins; pass the same Comparator
// the host engine orders this column family's keys with. If logger is
// nil, a default WARN-level logger is used. If errHandler is nil, engine
// write failures are logged via Logger.Fatalf.
func NewWriteCompactionFilterFactory(registry *gccontext.Registry, engine gcengine.Engine, cmp Comparator, metrics *gcmetrics.Collectors, logger Logger, errHandler EngineErrorHandler) *WriteCompactionFilterFactory {
	logger = logging.OrDefault(logger)
	if errHandler == nil {
		errHandler = defaultEngineErrorHandler(logger)
	}
	if cmp == nil {
		cmp = DefaultComparator()
	}
	return &WriteCompactionFilterFactory{
		registry:   registry,
		engine:     engine,
		cmp:        cmp,
		metrics:    metrics,
		logger:     logger,
		errHandler: errHandler,
	}
}

// Name identifies this factory for logging.
func (f *WriteCompactionFilterFactory) Name() string {
	return "gcworker.WriteCompactionFilterFactory"
}

// CreateCompactionFilter returns nil (no filtering) when: the GC context
// hasn't been initialized yet, the safe point is zero, or admission is
// denied by config/cluster-version gate.
func (f *WriteCompactionFilterFactory) CreateCompactionFilter(ctx CompactionFilterContext) CompactionFilter {
	gcCtx, ok := f.registry.Snapshot()
	if !ok {
		return nil
	}

	safePoint := gcCtx.SafePoint.Load()
	if safePoint == 0 {
		return nil
	}

	cfg := gcCtx.ConfigTracker.Load()
	if !gccontext.Allowed(cfg, gcCtx.ClusterVersion) {
		return nil
	}

	writeCFID, ok := f.engine.ColumnFamilyID(WriteCFName)
	if !ok {
		return nil
	}
	defaultCFID, ok := f.engine.ColumnFamilyID(DefaultCFName)
	if !ok {
		return nil
	}

	return &WriteCompactionFilter{
		bottommostLevel:    ctx.IsBottommostLevel,
		engine:             f.engine,
		cmp:                f.cmp,
		batcher:            gcbatch.New(f.engine, writeCFID, defaultCFID),
		safePoint:          safePoint,
		leveledTailDeletes: make(map[int][]byte),
		metrics:            f.metrics,
		logger:             f.logger,
		errHandler:         f.errHandler,
	}
}

// WriteCompactionFilter is the per-compaction state machine (C5) plus the
// tail-delete resolver that runs once, at Close (C6). One instance is
// created per compaction and is not safe for concurrent use — the engine
// contract guarantees single-threaded, strictly-ordered calls to Filter
// followed by exactly one call to Close.
type WriteCompactionFilter struct {
	bottommostLevel bool
	safePoint       uint64
	engine          gcengine.Engine
	cmp             Comparator
	batcher         *gcbatch.Batcher
	metrics         *gcmetrics.Collectors
	logger          Logger
	errHandler      EngineErrorHandler

	keyPrefix   []byte
	removeOlder bool

	// leveledTailDeletes records, per level, the last write-column key
	// where a bottommost Delete mark was dropped while still the newest
	// version seen for its prefix. Cleared for a level whenever that
	// level's current prefix changes — see spec's open question on this:
	// the behavior is preserved as-is, since re-deriving "was this
	// Delete the final record of the compaction at this level" any
	// other way would require look-ahead the engine callback doesn't
	// give us.
	leveledTailDeletes map[int][]byte

	versions, deleted           int
	totalVersions, totalDeleted int

	closed bool

	// stopped is set the first time an engine write fails. Once set, no
	// further deletes are enqueued and the tail resolver does no further
	// work, per spec.md §7: a failed write drops that batch and stops GC
	// side effects for the rest of this filter's life rather than
	// retrying or crashing the compaction.
	stopped bool
}

// Name identifies this filter for logging.
func (f *WriteCompactionFilter) Name() string {
	return "gcworker.WriteCompactionFilter"
}

// Filter implements the C5 per-key state machine described in spec.md §4.5.
func (f *WriteCompactionFilter) Filter(level int, key, value []byte) (FilterDecision, []byte) {
	prefix, commitTS, err := mvcc.SplitOnTS(key)
	if err != nil {
		// Fail-safe: an unparsable key is left untouched.
		return FilterKeep, nil
	}

	if f.cmp.Compare(prefix, f.keyPrefix) != 0 {
		f.switchKeyMetrics()
		f.keyPrefix = append(f.keyPrefix[:0], prefix...)
		f.removeOlder = false
		delete(f.leveledTailDeletes, level)
	}
	f.versions++

	if commitTS > f.safePoint {
		return FilterKeep, nil
	}

	wr, err := mvcc.ParseWriteRef(value)
	if err != nil {
		return FilterKeep, nil
	}

	drop := f.removeOlder
	if !f.removeOlder {
		switch wr.Type {
		case mvcc.WriteTypeRollback, mvcc.WriteTypeLock:
			drop = true
		case mvcc.WriteTypeDelete:
			f.removeOlder = true
			if f.bottommostLevel {
				drop = true
				f.leveledTailDeletes[level] = append([]byte(nil), key...)
			}
		case mvcc.WriteTypePut:
			f.removeOlder = true
		}
	}

	if drop {
		f.deleted++
		if wr.ShortValue == nil {
			f.enqueueDefaultDelete(prefix, wr.StartTS)
		}
		return FilterRemove, nil
	}
	return FilterKeep, nil
}

func (f *WriteCompactionFilter) enqueueDefaultDelete(prefix []byte, startTS uint64) {
	if f.stopped {
		return
	}
	if err := f.batcher.DeleteDefaultKey(mvcc.EncodeDefaultKey(prefix, startTS)); err != nil {
		f.stopped = true
		f.errHandler(err)
	}
}

// switchKeyMetrics flushes the current prefix's version/delete counters
// into the histograms and the lifetime totals, then resets them. Called
// on every prefix change and once more at Close for the final prefix.
func (f *WriteCompactionFilter) switchKeyMetrics() {
	if f.versions == 0 {
		return
	}
	if f.metrics != nil {
		f.metrics.Observe(f.versions, f.deleted)
	}
	f.totalVersions += f.versions
	f.totalDeleted += f.deleted
	f.versions, f.deleted = 0, 0
}

// Close runs the tail-delete resolver (C6) over every level's recorded
// drop point, then flushes the batcher. The engine contract guarantees
// this is called exactly once, when the compaction ends, whether it
// succeeded or was aborted.
func (f *WriteCompactionFilter) Close() error {
	if f.closed {
		return ErrFilterClosed
	}
	f.closed = true

	for _, seekKey := range f.leveledTailDeletes {
		if f.stopped {
			break
		}
		f.resolveTail(seekKey)
	}
	f.leveledTailDeletes = nil
	f.switchKeyMetrics()

	err := f.batcher.Finish()
	if err != nil {
		f.stopped = true
		f.errHandler(err)
	}

	f.logger.Debugf("%sdropping compaction filter: bottommost_level=%v versions=%d deleted=%d",
		logging.NSGC, f.bottommostLevel, f.totalVersions, f.totalDeleted)
	return err
}

// resolveTail reaps remaining versions of seekKey's user prefix that the
// compaction's input range didn't include, per spec.md §4.6: seek to the
// dropped Delete mark, step one past it, and walk forward while the
// prefix still matches.
func (f *WriteCompactionFilter) resolveTail(seekKey []byte) {
	if f.stopped {
		return
	}

	prefix, _, err := mvcc.SplitOnTS(seekKey)
	if err != nil {
		return
	}

	it, err := f.engine.NewIterator(WriteCFName)
	if err != nil {
		return
	}
	defer it.Close()

	seekable, ok := f.engine.(gcengine.SeekableEngine)
	if !ok || !seekable.Seek(it, seekKey) {
		return
	}
	it.Next()

	versions, deleted := 0, 0
	for it.Valid() {
		curPrefix, _, err := mvcc.SplitOnTS(it.Key())
		if err != nil || f.cmp.Compare(curPrefix, prefix) != 0 {
			break
		}

		wr, err := mvcc.ParseWriteRef(it.Value())
		if err != nil {
			break
		}

		versions++
		if wr.ShortValue == nil {
			f.enqueueDefaultDelete(prefix, wr.StartTS)
			if f.stopped {
				break
			}
		}
		if err := f.batcher.DeleteWriteKey(it.Key()); err != nil {
			f.stopped = true
			f.errHandler(err)
			break
		}
		deleted++
		it.Next()
	}

	if versions > 0 && f.metrics != nil {
		f.metrics.Observe(versions, deleted)
	}
	f.totalVersions += versions
	f.totalDeleted += deleted
}
