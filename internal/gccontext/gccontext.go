// Package gccontext holds the process-wide GC context the compaction filter
// factory reads when a background compaction is about to start, and the
// admission gate that decides whether compaction-filter-driven GC may run
// at all.
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs (GC_CONTEXT,
// GcContext, init_compaction_filter, is_compaction_filter_allowd).
package gccontext

import (
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
)

// CompactionFilterMinimalVersion is the lowest cluster version that
// understands compaction-filter-driven GC; below it, nodes may still be
// running a GC worker that expects the legacy scan-based sweep.
const CompactionFilterMinimalVersion = "5.0.0"

var minimalVersion = semver.MustParse(CompactionFilterMinimalVersion)

// Config is the subset of GC worker configuration the admission gate
// consults. It mirrors gcworker.GcConfig without importing the root
// package (which imports this one).
type Config struct {
	EnableCompactionFilter           bool
	CompactionFilterSkipVersionCheck bool
}

// ConfigTracker holds a live, atomically-swappable Config snapshot, the
// same read-mostly-config idiom the host engine uses for parsed option
// files: readers never block on a writer publishing a new snapshot.
type ConfigTracker struct {
	cfg atomic.Pointer[Config]
}

// NewConfigTracker creates a tracker seeded with cfg.
func NewConfigTracker(cfg Config) *ConfigTracker {
	t := &ConfigTracker{}
	t.Store(cfg)
	return t
}

// Load returns the current configuration snapshot.
func (t *ConfigTracker) Load() Config {
	if p := t.cfg.Load(); p != nil {
		return *p
	}
	return Config{}
}

// Store publishes a new configuration snapshot.
func (t *ConfigTracker) Store(cfg Config) {
	t.cfg.Store(&cfg)
}

// ClusterVersion reports the currently known cluster version, or ok=false
// if it has not been observed yet (e.g. before the first heartbeat from
// every store).
type ClusterVersion interface {
	Get() (version *semver.Version, ok bool)
}

// Context is the GC worker's process-wide state: the live safe point, the
// config tracker, and the cluster version source. The engine handle itself
// is not held here — it is supplied directly to the filter factory — so
// that this package has no dependency on the engine's write/iterate
// contract.
type Context struct {
	SafePoint      *atomic.Uint64
	ConfigTracker  *ConfigTracker
	ClusterVersion ClusterVersion
}

// Registry is the guarded holder of the single process-wide Context, the
// Go equivalent of GC_CONTEXT: Mutex<Option<GcContext>>.
type Registry struct {
	mu  sync.Mutex
	ctx *Context
}

// NewRegistry returns an empty Registry; no filter can be created until
// Init is called.
func NewRegistry() *Registry {
	return &Registry{}
}

// Init installs (or replaces) the process-wide GC context. Called once
// when the engine opens, and again on engine restart.
func (r *Registry) Init(ctx Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = &ctx
}

// Snapshot returns the currently installed Context, or ok=false if Init
// has never been called (or Clear was called since).
func (r *Registry) Snapshot() (Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return Context{}, false
	}
	return *r.ctx, true
}

// Clear removes the installed context, e.g. on engine shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = nil
}

// Allowed reports whether compaction-filter-driven GC may run, given the
// current config and cluster version.
//
// Reference: is_compaction_filter_allowd in compaction_filter.rs —
// `cfg.enable_compaction_filter && (cfg.compaction_filter_skip_version_check
// || cluster_version >= 5.0.0)`.
func Allowed(cfg Config, cv ClusterVersion) bool {
	if !cfg.EnableCompactionFilter {
		return false
	}
	if cfg.CompactionFilterSkipVersionCheck {
		return true
	}
	if cv == nil {
		return false
	}
	version, ok := cv.Get()
	if !ok || version == nil {
		return false
	}
	return !version.LessThan(minimalVersion)
}
