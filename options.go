package gcworker

// options.go carries the part of the host engine's database-wide
// configuration surface that concerns this filter: the key comparator and
// the compaction-filter hook. Earlier revisions also aliased the host engine's block compression
// and checksum types here, but nothing in this repo ever read those fields
// back — the filter never touches a compressed block or a checksum, only
// the decoded key/value bytes compaction hands it — so they were dropped
// rather than kept as unread configuration (see DESIGN.md).

import (
	"github.com/aalhour/gcworker/internal/logging"
)

// Logger is an alias for the logging.Logger interface, so callers can pass
// their own implementation.
type Logger = logging.Logger

// Options carries the subset of the host engine's database-wide
// configuration this repo needs: the key comparator and the compaction
// filter hook. No code in this repository reads an Options value;
// NewWriteCompactionFilterFactory takes its comparator and logger as
// arguments instead.
type Options struct {
	// Comparator orders keys. If nil, BytewiseComparator is used. The
	// factory's cmp argument plays the same role: it decides where one
	// user key's MVCC version chain ends and the next begins.
	Comparator Comparator

	// CompactionFilter is invoked once per key during compaction. Prefer
	// CompactionFilterFactory when per-compaction state is needed (as
	// the GC filter does); this field exists for parity with the host
	// engine's other stateless filters (TTL, prefix, range).
	CompactionFilter CompactionFilter

	// CompactionFilterFactory creates a CompactionFilter per compaction.
	// Takes precedence over CompactionFilter if both are set.
	CompactionFilterFactory CompactionFilterFactory

	// Logger receives diagnostic output from the filter. If nil, a
	// default logger writing to stderr at LevelWarn is used.
	Logger Logger
}

// DefaultOptions returns an Options with the host engine's defaults.
func DefaultOptions() *Options {
	return &Options{
		Comparator: DefaultComparator(),
		Logger:     nil,
	}
}

// GcConfig holds the GC worker's own configuration. The admission gate
// reads the same two fields from the gccontext.Config held in the
// registry's ConfigTracker, which observes live updates without locking
// on the filter-creation path; no code converts a GcConfig into one.
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs (GcWorkerConfigManager).
type GcConfig struct {
	// EnableCompactionFilter turns the GC-via-compaction-filter path on.
	// When false, CreateCompactionFilter always returns nil and the host
	// engine falls back to whatever other GC mechanism it has (out of
	// scope here).
	EnableCompactionFilter bool

	// CompactionFilterSkipVersionCheck bypasses the cluster version gate
	// in Allowed, for deployments that know every node in the cluster
	// already understands compaction-filter-driven GC.
	CompactionFilterSkipVersionCheck bool
}

// DefaultGcConfig returns the conservative default: compaction-filter GC
// disabled, version check enforced when it is enabled.
func DefaultGcConfig() GcConfig {
	return GcConfig{
		EnableCompactionFilter:           false,
		CompactionFilterSkipVersionCheck: false,
	}
}
