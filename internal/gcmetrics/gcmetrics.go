// Package gcmetrics exposes the GC compaction filter's per-key bookkeeping
// as Prometheus histograms, matching the host system's own
// MVCC_VERSIONS_HISTOGRAM / GC_DELETE_VERSIONS_HISTOGRAM metrics.
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs
// (switch_key_metrics).
package gcmetrics

import "github.com/prometheus/client_golang/prometheus"

var versionBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}

// Collectors groups the two histograms the filter observes into once per
// distinct user key, when it moves on to the next key prefix.
type Collectors struct {
	// MVCCVersions observes how many write-column versions of a key the
	// filter walked through.
	MVCCVersions prometheus.Histogram

	// GCDeleteVersions observes how many of those versions the filter
	// decided to drop.
	GCDeleteVersions prometheus.Histogram
}

// New creates a Collectors with fresh histograms, labeled by the column
// family name ("write") so multiple engines/CFs can register distinct
// series.
func New(cf string) *Collectors {
	return &Collectors{
		MVCCVersions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "gcworker",
			Subsystem:   "compaction_filter",
			Name:        "mvcc_versions",
			Help:        "Number of MVCC versions of a key seen by the GC compaction filter.",
			Buckets:     versionBuckets,
			ConstLabels: prometheus.Labels{"cf": cf},
		}),
		GCDeleteVersions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "gcworker",
			Subsystem:   "compaction_filter",
			Name:        "gc_delete_versions",
			Help:        "Number of MVCC versions of a key deleted by the GC compaction filter.",
			Buckets:     versionBuckets,
			ConstLabels: prometheus.Labels{"cf": cf},
		}),
	}
}

// MustRegister registers both histograms with reg. Panics on duplicate
// registration, matching prometheus.MustRegister's own contract — callers
// that register more than one Collectors for the same cf should catch
// that at startup, not mid-compaction.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.MVCCVersions, c.GCDeleteVersions)
}

// Observe records one key's version/delete counts.
func (c *Collectors) Observe(versions, deleted int) {
	c.MVCCVersions.Observe(float64(versions))
	c.GCDeleteVersions.Observe(float64(deleted))
}
