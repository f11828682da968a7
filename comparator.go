package gcworker

// comparator.go aliases the key comparator contract so callers can supply
// their own ordering without importing internal/keycmp directly. Wired
// into WriteCompactionFilterFactory (prefix comparisons during Filter and
// the tail resolver) and gcengine.MemEngine (its sorted-slice ordering),
// so a non-default Comparator actually changes what both see as "same
// user key prefix".
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/comparator.h

import "github.com/aalhour/gcworker/internal/keycmp"

// Comparator defines a total ordering over keys.
type Comparator = keycmp.Comparator

// BytewiseComparator is the default comparator that compares keys lexicographically.
type BytewiseComparator = keycmp.BytewiseComparator

// DefaultComparator returns the default bytewise comparator.
func DefaultComparator() Comparator {
	return keycmp.DefaultComparator()
}
