// filter.go carries the host engine's compaction-filter callback contract
// into this repo (factory + filter), extended with IsBottommostLevel,
// which the host's existing TTL/prefix/range filters don't need but the GC
// filter does.
//
// Reference: RockyardKV db/compaction_filter.go (interface shapes);
// TiKV src/server/gc_worker/compaction_filter.rs (semantics).
package gcworker

// FilterDecision is what a CompactionFilter decides for one key.
type FilterDecision int

const (
	// FilterKeep keeps the record unchanged.
	FilterKeep FilterDecision = iota
	// FilterRemove drops the record from compaction's output.
	FilterRemove
	// FilterChange replaces the record's value; unused by the GC filter,
	// kept for parity with the host engine's filter contract.
	FilterChange
)

// CompactionFilterContext describes the compaction a filter is being
// created for.
type CompactionFilterContext struct {
	// IsFullCompaction is true when the compaction covers every file in
	// the column family.
	IsFullCompaction bool

	// IsManualCompaction is true when a user explicitly triggered this
	// compaction (vs. automatic background compaction).
	IsManualCompaction bool

	// ColumnFamilyID identifies which column family is being compacted.
	ColumnFamilyID uint32

	// IsBottommostLevel is true when the compaction's output level is
	// the deepest level holding this column family's data, the only
	// level at which a Delete tombstone may be physically removed
	// without risking resurrection of an older, shadowed version.
	IsBottommostLevel bool
}

// CompactionFilter is invoked once per key during a single compaction.
type CompactionFilter interface {
	// Name identifies the filter, for logging.
	Name() string

	// Filter decides the fate of one record. level is the compaction's
	// output level. Returning FilterChange along with a non-nil newValue
	// replaces the stored value; gcworker never does this but the
	// signature matches the host engine's other filters.
	Filter(level int, key, value []byte) (decision FilterDecision, newValue []byte)
}

// CompactionFilterFactory creates one CompactionFilter per compaction.
// Returning nil from CreateCompactionFilter disables filtering for that
// compaction.
type CompactionFilterFactory interface {
	Name() string
	CreateCompactionFilter(ctx CompactionFilterContext) CompactionFilter
}
