package gcworker

// column_family.go names the two column families the GC filter addresses.
// Unlike the host engine's own column family handles (reference-counted,
// created/dropped through a columnFamilySet backing live memtables), this
// repo never creates or drops a column family — it only resolves these two
// fixed names to IDs through gcengine.Engine.ColumnFamilyID, so that's the
// only contract kept here.
//
// Reference: RocksDB v10.7.5 db/column_family.h (naming only).

const (
	// WriteCFName is the column family holding MVCC WriteRef records,
	// keyed by user_key || big-endian(!commit_ts).
	WriteCFName = "write"

	// DefaultCFName is the column family holding the long values a
	// WriteRef points to when its short_value is absent, keyed by
	// user_key || start_ts.
	DefaultCFName = "default"
)
