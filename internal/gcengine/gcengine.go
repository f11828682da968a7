// Package gcengine defines the narrow write/iterate contract the GC
// compaction filter needs from its host LSM engine, and provides an
// in-memory fake implementing it for tests. The real engine is an
// external collaborator (see SPEC_FULL.md §1); this package exists only so
// the filter can be exercised end-to-end without one.
package gcengine

import (
	"errors"
	"sort"

	"github.com/aalhour/gcworker/internal/batch"
	"github.com/aalhour/gcworker/internal/keycmp"
)

// ErrUnknownColumnFamily is returned when an operation names a column
// family the engine doesn't recognize.
var ErrUnknownColumnFamily = errors.New("gcengine: unknown column family")

// Iterator walks keys in a single column family in ascending key order.
// It mirrors the subset of the host engine's iterator contract the tail
// resolver (C6) needs: seek, then repeated single-step advances.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// Key returns the current entry's key. Only valid when Valid().
	Key() []byte

	// Value returns the current entry's value. Only valid when Valid().
	Value() []byte

	// Next advances to the next entry in key order.
	Next()

	// Close releases the iterator's resources.
	Close()
}

// Engine is the contract the GC compaction filter needs from its host.
// It writes companion deletes through Write, and scans the tail of a
// dropped key's version chain through NewIterator.
type Engine interface {
	// ColumnFamilyID resolves a column family name to the ID used in
	// WriteBatch Put/DeleteCF calls.
	ColumnFamilyID(name string) (id uint32, ok bool)

	// Write applies wb atomically. sync requests the same durability as
	// WriteOptions.Sync in the host engine's public API.
	Write(wb *batch.WriteBatch, sync bool) error

	// SyncWAL forces the write-ahead log to stable storage without an
	// accompanying write, used when the tail resolver has nothing
	// buffered but still wants durability for what it already wrote
	// during the compaction.
	SyncWAL() error

	// NewIterator returns an iterator over cf positioned before the
	// first key; position it with SeekableEngine.Seek on engines that
	// implement that interface.
	NewIterator(cf string) (Iterator, error)
}

// SeekableEngine is implemented by engines whose iterators support Seek
// directly; the in-memory fake below does.
type SeekableEngine interface {
	Engine
	Seek(it Iterator, key []byte) bool
}

// entry is one versioned record in the fake engine's in-memory column
// family.
type entry struct {
	key   []byte
	value []byte
}

// MemEngine is an in-memory Engine used by tests to exercise the filter
// without a real LSM engine. Column families are plain sorted slices,
// ordered by cmp; writes are applied in-place rather than through a real
// WAL/memtable.
type MemEngine struct {
	cmp      keycmp.Comparator
	cfs      map[string]uint32
	data     map[uint32][]entry
	synced   int
	writable bool
}

// NewMemEngine returns a MemEngine pre-populated with the write/default
// column families, ordered by the default bytewise comparator.
func NewMemEngine() *MemEngine {
	return NewMemEngineWithComparator(keycmp.DefaultComparator())
}

// NewMemEngineWithComparator returns a MemEngine whose column families are
// kept sorted by cmp instead of the default bytewise order.
func NewMemEngineWithComparator(cmp keycmp.Comparator) *MemEngine {
	return &MemEngine{
		cmp: cmp,
		cfs: map[string]uint32{
			"write":   0,
			"default": 1,
		},
		data:     map[uint32][]entry{0: nil, 1: nil},
		writable: true,
	}
}

// Put inserts or overwrites key in cf, keeping the column family sorted.
// Intended for test setup, not for the filter's own writes (those go
// through Write).
func (e *MemEngine) Put(cf string, key, value []byte) {
	id, ok := e.cfs[cf]
	if !ok {
		return
	}
	e.insert(id, key, append([]byte(nil), value...))
}

func (e *MemEngine) insert(id uint32, key, value []byte) {
	entries := e.data[id]
	i := sort.Search(len(entries), func(i int) bool { return e.cmp.Compare(entries[i].key, key) >= 0 })
	if i < len(entries) && e.cmp.Compare(entries[i].key, key) == 0 {
		entries[i].value = value
		return
	}
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry{key: append([]byte(nil), key...), value: value}
	e.data[id] = entries
}

func (e *MemEngine) delete(id uint32, key []byte) {
	entries := e.data[id]
	i := sort.Search(len(entries), func(i int) bool { return e.cmp.Compare(entries[i].key, key) >= 0 })
	if i < len(entries) && e.cmp.Compare(entries[i].key, key) == 0 {
		e.data[id] = append(entries[:i], entries[i+1:]...)
	}
}

// Entries returns a snapshot of cf's entries in key order, for assertions.
func (e *MemEngine) Entries(cf string) [][2][]byte {
	id, ok := e.cfs[cf]
	if !ok {
		return nil
	}
	out := make([][2][]byte, len(e.data[id]))
	for i, ent := range e.data[id] {
		out[i] = [2][]byte{ent.key, ent.value}
	}
	return out
}

// SyncCount returns how many sync requests the engine received (SyncWAL
// calls plus Write calls with sync=true), for assertions about the tail
// resolver's durability behavior.
func (e *MemEngine) SyncCount() int { return e.synced }

func (e *MemEngine) ColumnFamilyID(name string) (uint32, bool) {
	id, ok := e.cfs[name]
	return id, ok
}

func (e *MemEngine) Write(wb *batch.WriteBatch, sync bool) error {
	if wb == nil {
		return nil
	}
	err := wb.Iterate(batchApplier{e})
	if err != nil {
		return err
	}
	if sync {
		e.synced++
	}
	return nil
}

func (e *MemEngine) SyncWAL() error {
	e.synced++
	return nil
}

func (e *MemEngine) NewIterator(cf string) (Iterator, error) {
	id, ok := e.cfs[cf]
	if !ok {
		return nil, ErrUnknownColumnFamily
	}
	return &memIterator{entries: e.data[id], pos: -1}, nil
}

// Seek positions it at the first entry with key >= target, or invalidates
// it if none exists.
func (e *MemEngine) Seek(it Iterator, target []byte) bool {
	mi, ok := it.(*memIterator)
	if !ok {
		return false
	}
	mi.pos = sort.Search(len(mi.entries), func(i int) bool {
		return e.cmp.Compare(mi.entries[i].key, target) >= 0
	})
	return mi.Valid()
}

// batchApplier implements batch.Handler, replaying a WriteBatch's
// operations directly against the fake engine's column families.
type batchApplier struct{ e *MemEngine }

func (a batchApplier) Put(key, value []byte) error {
	a.e.insert(a.e.cfs["default"], key, append([]byte(nil), value...))
	return nil
}

func (a batchApplier) PutCF(cfID uint32, key, value []byte) error {
	a.e.insert(cfID, key, append([]byte(nil), value...))
	return nil
}

func (a batchApplier) Delete(key []byte) error {
	a.e.delete(a.e.cfs["default"], key)
	return nil
}

func (a batchApplier) DeleteCF(cfID uint32, key []byte) error {
	a.e.delete(cfID, key)
	return nil
}

func (a batchApplier) SingleDelete(key []byte) error {
	return a.Delete(key)
}

func (a batchApplier) SingleDeleteCF(cfID uint32, key []byte) error {
	return a.DeleteCF(cfID, key)
}

func (a batchApplier) DeleteRange(startKey, endKey []byte) error {
	return a.DeleteRangeCF(a.e.cfs["default"], startKey, endKey)
}

func (a batchApplier) DeleteRangeCF(cfID uint32, startKey, endKey []byte) error {
	entries := a.e.data[cfID]
	kept := entries[:0]
	for _, ent := range entries {
		if a.e.cmp.Compare(ent.key, startKey) >= 0 && a.e.cmp.Compare(ent.key, endKey) < 0 {
			continue
		}
		kept = append(kept, ent)
	}
	a.e.data[cfID] = kept
	return nil
}

func (a batchApplier) Merge(key, value []byte) error { return nil }

func (a batchApplier) MergeCF(cfID uint32, key, value []byte) error { return nil }

func (a batchApplier) LogData(blob []byte) {}

type memIterator struct {
	entries []entry
	pos     int
}

func (it *memIterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.entries) }

func (it *memIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].key
}

func (it *memIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].value
}

func (it *memIterator) Next() {
	if it.pos < len(it.entries) {
		it.pos++
	}
}

func (it *memIterator) Close() {}
