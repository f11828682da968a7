package gcworker

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aalhour/gcworker/internal/batch"
	"github.com/aalhour/gcworker/internal/gccontext"
	"github.com/aalhour/gcworker/internal/gcengine"
	"github.com/aalhour/gcworker/internal/gcmetrics"
	"github.com/aalhour/gcworker/internal/mvcc"
)

// failingEngine wraps a MemEngine and fails every Write once armed, so
// tests can exercise the stopped/poisoned path without a real engine
// error condition.
type failingEngine struct {
	*gcengine.MemEngine
	failWrites bool
}

func (e *failingEngine) Write(wb *batch.WriteBatch, sync bool) error {
	if e.failWrites {
		return errors.New("engine write failed")
	}
	return e.MemEngine.Write(wb, sync)
}

// newTestFilter builds a factory admitted unconditionally (skip_version_check)
// at the given safe point, and returns a concrete filter for direct field
// inspection in tests.
func newTestFilter(t *testing.T, engine *gcengine.MemEngine, safePoint uint64, bottommost bool) *WriteCompactionFilter {
	t.Helper()

	var sp atomic.Uint64
	sp.Store(safePoint)

	registry := gccontext.NewRegistry()
	registry.Init(gccontext.Context{
		SafePoint:     &sp,
		ConfigTracker: gccontext.NewConfigTracker(gccontext.Config{EnableCompactionFilter: true, CompactionFilterSkipVersionCheck: true}),
	})

	factory := NewWriteCompactionFilterFactory(registry, engine, nil, gcmetrics.New("write"), nil, nil)
	cf := factory.CreateCompactionFilter(CompactionFilterContext{IsBottommostLevel: bottommost})
	if cf == nil {
		t.Fatal("expected a non-nil filter from an admitted factory")
	}
	filt, ok := cf.(*WriteCompactionFilter)
	if !ok {
		t.Fatalf("expected *WriteCompactionFilter, got %T", cf)
	}
	return filt
}

func writeRecord(userKey string, commitTS uint64, wr mvcc.WriteRef) (key, value []byte) {
	return mvcc.AppendTS([]byte(userKey), commitTS), wr.ToBytes()
}

func TestCreateCompactionFilterDeniedCases(t *testing.T) {
	engine := gcengine.NewMemEngine()

	t.Run("uninitialized registry", func(t *testing.T) {
		registry := gccontext.NewRegistry()
		factory := NewWriteCompactionFilterFactory(registry, engine, nil, nil, nil, nil)
		if f := factory.CreateCompactionFilter(CompactionFilterContext{}); f != nil {
			t.Fatal("expected nil filter before Init")
		}
	})

	t.Run("zero safe point", func(t *testing.T) {
		var sp atomic.Uint64 // zero value
		registry := gccontext.NewRegistry()
		registry.Init(gccontext.Context{
			SafePoint:     &sp,
			ConfigTracker: gccontext.NewConfigTracker(gccontext.Config{EnableCompactionFilter: true, CompactionFilterSkipVersionCheck: true}),
		})
		factory := NewWriteCompactionFilterFactory(registry, engine, nil, nil, nil, nil)
		if f := factory.CreateCompactionFilter(CompactionFilterContext{}); f != nil {
			t.Fatal("expected nil filter when safe point is zero")
		}
	})

	t.Run("admission denied", func(t *testing.T) {
		var sp atomic.Uint64
		sp.Store(10)
		registry := gccontext.NewRegistry()
		registry.Init(gccontext.Context{
			SafePoint:     &sp,
			ConfigTracker: gccontext.NewConfigTracker(gccontext.Config{EnableCompactionFilter: false}),
		})
		factory := NewWriteCompactionFilterFactory(registry, engine, nil, nil, nil, nil)
		if f := factory.CreateCompactionFilter(CompactionFilterContext{}); f != nil {
			t.Fatal("expected nil filter when admission is denied")
		}
	})
}

// Scenario A — Put then older Lock, safe_point=50, bottommost.
func TestScenarioA_PutThenOlderLock(t *testing.T) {
	engine := gcengine.NewMemEngine()
	filt := newTestFilter(t, engine, 50, true)

	k1, v1 := writeRecord("key", 110, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 100, ShortValue: []byte("v1")})
	k2, v2 := writeRecord("key", 90, mvcc.WriteRef{Type: mvcc.WriteTypeLock, StartTS: 85, ShortValue: []byte("stub")})

	d1, _ := filt.Filter(6, k1, v1)
	d2, _ := filt.Filter(6, k2, v2)

	if d1 != FilterKeep {
		t.Errorf("key@110 decision = %v, want FilterKeep", d1)
	}
	if d2 != FilterRemove {
		t.Errorf("key@90 decision = %v, want FilterRemove", d2)
	}

	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if filt.totalVersions != 2 || filt.totalDeleted != 1 {
		t.Errorf("totals = (%d, %d), want (2, 1)", filt.totalVersions, filt.totalDeleted)
	}
	if len(engine.Entries("default")) != 0 {
		t.Errorf("expected no default-column writes for an all-inline scenario")
	}
}

// Scenario B — Rollback before any Put, safe_point=50.
func TestScenarioB_RollbackBeforePut(t *testing.T) {
	engine := gcengine.NewMemEngine()
	filt := newTestFilter(t, engine, 50, true)

	k1, v1 := writeRecord("key", 40, mvcc.WriteRef{Type: mvcc.WriteTypeRollback, StartTS: 38, ShortValue: []byte("r")})
	k2, v2 := writeRecord("key", 30, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 25})

	d1, _ := filt.Filter(6, k1, v1)
	d2, _ := filt.Filter(6, k2, v2)

	if d1 != FilterRemove {
		t.Errorf("key@40 (Rollback) decision = %v, want FilterRemove", d1)
	}
	if d2 != FilterKeep {
		t.Errorf("key@30 (Put) decision = %v, want FilterKeep", d2)
	}
	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(engine.Entries("default")) != 0 {
		t.Errorf("a dropped Rollback with no payload must not enqueue a default delete")
	}
}

// Scenario C — Put-over-Put with non-inline values, safe_point=200, bottommost.
func TestScenarioC_PutOverPutNonInline(t *testing.T) {
	engine := gcengine.NewMemEngine()
	engine.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 110), []byte("payload"))
	filt := newTestFilter(t, engine, 200, true)

	k1, v1 := writeRecord("k", 150, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 140})
	k2, v2 := writeRecord("k", 120, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 110})

	d1, _ := filt.Filter(6, k1, v1)
	d2, _ := filt.Filter(6, k2, v2)

	if d1 != FilterKeep {
		t.Errorf("k@150 decision = %v, want FilterKeep", d1)
	}
	if d2 != FilterRemove {
		t.Errorf("k@120 decision = %v, want FilterRemove", d2)
	}
	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(engine.Entries("default")) != 0 {
		t.Errorf("expected companion delete default[k@110] to have removed the pre-existing payload")
	}
}

// Scenario D — bottommost Delete as newest version.
func TestScenarioD_BottommostDeleteNewest(t *testing.T) {
	engine := gcengine.NewMemEngine()
	engine.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 150), []byte("payload"))
	filt := newTestFilter(t, engine, 1000, true)

	k1, v1 := writeRecord("k", 180, mvcc.WriteRef{Type: mvcc.WriteTypeDelete, StartTS: 175, ShortValue: []byte("d")})
	k2, v2 := writeRecord("k", 160, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 150})

	d1, _ := filt.Filter(6, k1, v1)
	d2, _ := filt.Filter(6, k2, v2)

	if d1 != FilterRemove {
		t.Errorf("k@180 (bottommost Delete) decision = %v, want FilterRemove", d1)
	}
	if d2 != FilterRemove {
		t.Errorf("k@160 (remove_older) decision = %v, want FilterRemove", d2)
	}
	if len(filt.leveledTailDeletes) != 1 {
		t.Errorf("expected one recorded tail-delete entry, got %d", len(filt.leveledTailDeletes))
	}
	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(engine.Entries("default")) != 0 {
		t.Errorf("expected companion delete default[k@150]")
	}
}

// Scenario E — same input as D but non-bottommost.
func TestScenarioE_NonBottommostDelete(t *testing.T) {
	engine := gcengine.NewMemEngine()
	engine.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 150), []byte("payload"))
	filt := newTestFilter(t, engine, 1000, false)

	k1, v1 := writeRecord("k", 180, mvcc.WriteRef{Type: mvcc.WriteTypeDelete, StartTS: 175, ShortValue: []byte("d")})
	k2, v2 := writeRecord("k", 160, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 150})

	d1, _ := filt.Filter(3, k1, v1)
	d2, _ := filt.Filter(3, k2, v2)

	if d1 != FilterKeep {
		t.Errorf("k@180 (non-bottommost Delete) decision = %v, want FilterKeep", d1)
	}
	if d2 != FilterRemove {
		t.Errorf("k@160 decision = %v, want FilterRemove", d2)
	}
	if len(filt.leveledTailDeletes) != 0 {
		t.Errorf("non-bottommost Delete must not record a tail entry, got %d", len(filt.leveledTailDeletes))
	}
	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// Scenario F — tail continuation across SSTs.
func TestScenarioF_TailContinuation(t *testing.T) {
	engine := gcengine.NewMemEngine()

	k180, v180 := writeRecord("k", 180, mvcc.WriteRef{Type: mvcc.WriteTypeDelete, StartTS: 175, ShortValue: []byte("d")})
	k160, v160 := writeRecord("k", 160, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 150})
	k140, v140 := writeRecord("k", 140, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 130})

	// These versions exist in the engine's write column prior to this
	// compaction, but only k@180 is part of the compaction's own input.
	engine.Put("write", k180, v180)
	engine.Put("write", k160, v160)
	engine.Put("write", k140, v140)
	engine.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 150), []byte("payload-150"))
	engine.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 130), []byte("payload-130"))

	filt := newTestFilter(t, engine, 1000, true)

	d1, _ := filt.Filter(6, k180, v180)
	if d1 != FilterRemove {
		t.Fatalf("k@180 decision = %v, want FilterRemove", d1)
	}
	if len(filt.leveledTailDeletes) != 1 {
		t.Fatalf("expected a recorded tail-delete entry, got %d", len(filt.leveledTailDeletes))
	}

	if err := filt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	writeEntries := engine.Entries("write")
	for _, ent := range writeEntries {
		t.Logf("remaining write entry: %x", ent[0])
	}
	if len(writeEntries) != 1 {
		t.Fatalf("expected only k@180 to remain in the write column (k@160, k@140 reaped), got %d entries", len(writeEntries))
	}

	if len(engine.Entries("default")) != 0 {
		t.Fatalf("expected both default[k@150] and default[k@130] to be reaped")
	}

	if filt.totalDeleted < 3 { // k@180 itself + k@160 + k@140
		t.Fatalf("totalDeleted = %d, want >= 3", filt.totalDeleted)
	}

	if engine.SyncCount() != 1 {
		t.Fatalf("expected exactly one sync write at teardown, got %d", engine.SyncCount())
	}
}

func TestFilterInvalidKeyIsKept(t *testing.T) {
	engine := gcengine.NewMemEngine()
	filt := newTestFilter(t, engine, 50, true)

	decision, _ := filt.Filter(0, []byte("short"), []byte("whatever"))
	if decision != FilterKeep {
		t.Fatalf("expected an unparsable key to be kept, got %v", decision)
	}
}

func TestFilterAboveSafePointIsKept(t *testing.T) {
	engine := gcengine.NewMemEngine()
	filt := newTestFilter(t, engine, 50, true)

	key, value := writeRecord("key", 60, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 55, ShortValue: []byte("v")})
	decision, _ := filt.Filter(0, key, value)
	if decision != FilterKeep {
		t.Fatalf("expected a version above the safe point to be kept, got %v", decision)
	}
}

func TestEngineWriteFailureStopsFurtherDeletes(t *testing.T) {
	eng := &failingEngine{MemEngine: gcengine.NewMemEngine()}
	eng.Put("default", mvcc.EncodeDefaultKey([]byte("k"), 150), []byte("payload"))

	var handled int
	errHandler := func(err error) { handled++ }

	var sp atomic.Uint64
	sp.Store(1000)
	registry := gccontext.NewRegistry()
	registry.Init(gccontext.Context{
		SafePoint:     &sp,
		ConfigTracker: gccontext.NewConfigTracker(gccontext.Config{EnableCompactionFilter: true, CompactionFilterSkipVersionCheck: true}),
	})

	factory := NewWriteCompactionFilterFactory(registry, eng, nil, nil, nil, errHandler)
	cf := factory.CreateCompactionFilter(CompactionFilterContext{IsBottommostLevel: true})
	filt, ok := cf.(*WriteCompactionFilter)
	if !ok {
		t.Fatalf("expected *WriteCompactionFilter, got %T", cf)
	}

	// Arm the failure only after filter creation succeeds, so the write
	// error surfaces from the filter's own enqueue/flush path, not admission.
	eng.failWrites = true

	k1, v1 := writeRecord("k", 180, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 170})
	k2, v2 := writeRecord("k", 160, mvcc.WriteRef{Type: mvcc.WriteTypePut, StartTS: 150})
	filt.Filter(6, k1, v1)
	d2, _ := filt.Filter(6, k2, v2)
	if d2 != FilterRemove {
		t.Fatalf("k@160 decision = %v, want FilterRemove", d2)
	}
	if filt.stopped {
		t.Fatal("expected filter not yet stopped: the default delete is only buffered, not flushed, below threshold")
	}

	if err := filt.Close(); err == nil {
		t.Fatal("expected Close to surface the engine write error from Finish")
	}
	if !filt.stopped {
		t.Fatal("expected filter to be marked stopped after an engine write failure")
	}
	if handled != 1 {
		t.Fatalf("expected errHandler invoked exactly once, got %d", handled)
	}
}

func TestCloseIsIdempotentError(t *testing.T) {
	engine := gcengine.NewMemEngine()
	filt := newTestFilter(t, engine, 50, true)
	if err := filt.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := filt.Close(); err != ErrFilterClosed {
		t.Fatalf("second Close = %v, want ErrFilterClosed", err)
	}
}
