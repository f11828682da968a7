// Package gcbatch implements the GC compaction filter's write batcher
// (C4): it accumulates companion deletes issued mid-compaction and
// flushes them to the engine once a threshold is crossed, so a single
// compaction touching many stale versions doesn't hold an unbounded batch
// in memory.
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs
// (DEFAULT_DELETE_BATCH_SIZE, DEFAULT_DELETE_BATCH_COUNT,
// flush_pending_writes_if_need).
package gcbatch

import (
	"github.com/aalhour/gcworker/internal/batch"
	"github.com/aalhour/gcworker/internal/gcengine"
)

// DefaultDeleteBatchSize is the capacity hint reserved for a pending
// batch, mirroring the host worker's own constant.
const DefaultDeleteBatchSize = 256 * 1024

// DefaultDeleteBatchCount is the number of buffered deletes that triggers
// a mid-compaction flush.
const DefaultDeleteBatchCount = 128

var pool = batch.NewWriteBatchPool()

// Batcher accumulates DeleteCF operations against an Engine and flushes
// them either when DefaultDeleteBatchCount is crossed (sync=false, so a
// crash loses nothing the compaction itself hasn't already committed) or
// on Finish (sync=true, for durability of whatever remains).
//
// Once a flush to the engine fails, the Batcher poisons itself: the failed
// batch is dropped (not retried), and every later Delete*Key call becomes
// a no-op for the rest of the Batcher's life, per spec.md §7's
// "drop the batch and stop enqueuing further deletes".
type Batcher struct {
	engine   gcengine.Engine
	writeCF  uint32
	defCF    uint32
	wb       *batch.WriteBatch
	poisoned bool
}

// New creates a Batcher bound to engine's write/default column families.
func New(engine gcengine.Engine, writeCF, defCF uint32) *Batcher {
	return &Batcher{
		engine:  engine,
		writeCF: writeCF,
		defCF:   defCF,
		wb:      pool.Get(),
	}
}

// DeleteWriteKey buffers a tombstone for key in the write column family.
// A no-op once the Batcher is poisoned.
func (b *Batcher) DeleteWriteKey(key []byte) error {
	if b.poisoned {
		return nil
	}
	b.wb.DeleteCF(b.writeCF, key)
	return b.flushIfNeeded()
}

// DeleteDefaultKey buffers a tombstone for key in the default column
// family (the long-value payload a WriteRef pointed to). A no-op once the
// Batcher is poisoned.
func (b *Batcher) DeleteDefaultKey(key []byte) error {
	if b.poisoned {
		return nil
	}
	b.wb.DeleteCF(b.defCF, key)
	return b.flushIfNeeded()
}

// Count returns the number of buffered, not-yet-flushed operations.
func (b *Batcher) Count() uint32 {
	return b.wb.Count()
}

// Poisoned reports whether an engine write has already failed, meaning
// every subsequent Delete*Key call is a no-op.
func (b *Batcher) Poisoned() bool {
	return b.poisoned
}

func (b *Batcher) flushIfNeeded() error {
	if b.wb.Count() <= DefaultDeleteBatchCount {
		return nil
	}
	return b.flush(false)
}

// flush writes the buffered batch. On failure it poisons the Batcher and
// drops the batch rather than retrying or accumulating further.
func (b *Batcher) flush(sync bool) error {
	if b.wb.Count() == 0 {
		return nil
	}
	if err := b.engine.Write(b.wb, sync); err != nil {
		b.poisoned = true
		b.wb.Clear()
		return err
	}
	b.wb.Clear()
	return nil
}

// Finish flushes any remaining buffered deletes with sync=true if
// non-empty, or otherwise forces a WAL sync so whatever this batcher
// already flushed mid-compaction is durable before the filter is torn
// down. Once poisoned, Finish does nothing further to the engine. Returns
// the batch to the shared pool; the Batcher must not be used again
// afterward.
func (b *Batcher) Finish() error {
	defer func() {
		pool.Put(b.wb)
		b.wb = nil
	}()
	if b.poisoned {
		return nil
	}
	if b.wb.Count() > 0 {
		return b.flush(true)
	}
	return b.engine.SyncWAL()
}
