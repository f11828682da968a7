/*
Package gcworker implements the MVCC garbage-collection compaction filter
(GCF): a callback an embedded LSM storage engine invokes during background
compaction to decide whether an MVCC "write" record may be dropped, and to
issue companion deletions into the sibling "default" column family so the
two stay consistent.

The engine this filter plugs into is treated as an external collaborator:
gcworker does not ship a memtable, WAL, or SST layer. It carries only the
host engine's existing CompactionFilter/CompactionFilterFactory callback
contract (package-level, see filter.go) and its Options/Logger
conventions, so that a real engine can drive this filter exactly the way
it drives its other compaction filters (TTL, prefix, range). The engine's
own write/iterate surface is consumed through gcengine.Engine rather than
a ColumnFamilyHandle/WriteBatch pair, since this repo never creates,
drops, or directly writes to a column family outside of that narrow
contract.

# Usage

	registry := gccontext.NewRegistry()
	registry.Init(gccontext.Context{
		SafePoint:     safePoint,
		ConfigTracker: cfgTracker,
		ClusterVersion: clusterVersion,
	})

	factory := gcworker.NewWriteCompactionFilterFactory(registry, engine, nil, metrics, logger, nil)
	opts.CompactionFilterFactory = factory

# Concurrency

A CompactionFilter instance is created per compaction and used by a single
goroutine for the lifetime of that compaction; it is not safe to share
across concurrent compactions. The Registry it reads from is safe for
concurrent use — the engine may update the safe point and config from any
goroutine while compactions run.

Reference: TiKV src/server/gc_worker/compaction_filter.rs.
*/
package gcworker
