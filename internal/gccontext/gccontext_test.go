package gccontext

import (
	"sync/atomic"
	"testing"

	"github.com/Masterminds/semver/v3"
)

type fixedClusterVersion struct {
	version *semver.Version
	ok      bool
}

func (f fixedClusterVersion) Get() (*semver.Version, bool) { return f.version, f.ok }

func mustVersion(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(s)
	if err != nil {
		t.Fatalf("semver.NewVersion(%q): %v", s, err)
	}
	return v
}

func TestAllowedRequiresEnable(t *testing.T) {
	cfg := Config{EnableCompactionFilter: false}
	if Allowed(cfg, fixedClusterVersion{mustVersion(t, "5.0.0"), true}) {
		t.Fatal("expected Allowed to be false when EnableCompactionFilter is false")
	}
}

func TestAllowedSkipVersionCheck(t *testing.T) {
	cfg := Config{EnableCompactionFilter: true, CompactionFilterSkipVersionCheck: true}
	if !Allowed(cfg, fixedClusterVersion{mustVersion(t, "4.1.0"), true}) {
		t.Fatal("expected Allowed to be true when skip_version_check bypasses an old cluster version")
	}
}

func TestAllowedVersionGate(t *testing.T) {
	cfg := Config{EnableCompactionFilter: true}

	cases := []struct {
		version string
		ok      bool
		want    bool
	}{
		{"4.1.0", true, false},
		{"5.0.0", true, true},
		{"5.1.3", true, true},
		{"5.0.0", false, false}, // version unknown yet
	}

	for _, c := range cases {
		cv := fixedClusterVersion{mustVersion(t, c.version), c.ok}
		if got := Allowed(cfg, cv); got != c.want {
			t.Errorf("Allowed(version=%s, ok=%v) = %v, want %v", c.version, c.ok, got, c.want)
		}
	}
}

func TestAllowedNilClusterVersion(t *testing.T) {
	cfg := Config{EnableCompactionFilter: true}
	if Allowed(cfg, nil) {
		t.Fatal("expected Allowed to be false with a nil ClusterVersion source")
	}
}

func TestConfigTrackerLiveUpdate(t *testing.T) {
	tracker := NewConfigTracker(Config{EnableCompactionFilter: false})
	if tracker.Load().EnableCompactionFilter {
		t.Fatal("expected initial snapshot to be disabled")
	}
	tracker.Store(Config{EnableCompactionFilter: true})
	if !tracker.Load().EnableCompactionFilter {
		t.Fatal("expected updated snapshot to be enabled")
	}
}

func TestRegistryInitAndSnapshot(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Snapshot(); ok {
		t.Fatal("expected no snapshot before Init")
	}

	var sp atomic.Uint64
	sp.Store(100)
	r.Init(Context{
		SafePoint:     &sp,
		ConfigTracker: NewConfigTracker(Config{EnableCompactionFilter: true}),
	})

	ctx, ok := r.Snapshot()
	if !ok {
		t.Fatal("expected a snapshot after Init")
	}
	if ctx.SafePoint.Load() != 100 {
		t.Fatalf("safe point = %d, want 100", ctx.SafePoint.Load())
	}

	r.Clear()
	if _, ok := r.Snapshot(); ok {
		t.Fatal("expected no snapshot after Clear")
	}
}
