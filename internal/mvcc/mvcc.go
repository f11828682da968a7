// Package mvcc implements the key and value codecs for the MVCC layer the
// GC compaction filter reads: the write-column key's inverted commit
// timestamp trailer, and the WriteRef record stored under it.
//
// Reference: TiKV src/server/gc_worker/compaction_filter.rs (Key::split_on_ts_for,
// txn_types::Write / WriteRef).
package mvcc

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/gcworker/internal/encoding"
)

// TSLen is the width of the encoded commit timestamp trailer.
const TSLen = 8

var (
	// ErrInvalidKey is returned when an encoded write-column key is
	// shorter than the timestamp trailer it must carry.
	ErrInvalidKey = errors.New("mvcc: key too short for commit timestamp trailer")

	// ErrInvalidWriteRef is returned when a write-column value cannot be
	// parsed as a WriteRef record.
	ErrInvalidWriteRef = errors.New("mvcc: malformed write record")
)

// SplitOnTS splits an encoded write-column key into its user key and commit
// timestamp. The trailer is the bitwise complement of the timestamp, stored
// big-endian, so that larger commit timestamps sort as smaller byte
// strings — newer versions of a key come first in the write column.
func SplitOnTS(encoded []byte) (userKey []byte, commitTS uint64, err error) {
	if len(encoded) < TSLen {
		return nil, 0, ErrInvalidKey
	}
	split := len(encoded) - TSLen
	inverted := binary.BigEndian.Uint64(encoded[split:])
	return encoded[:split], ^inverted, nil
}

// AppendTS appends the inverted, big-endian commit timestamp trailer to
// userKey, returning the encoded write-column key.
func AppendTS(userKey []byte, commitTS uint64) []byte {
	out := make([]byte, len(userKey)+TSLen)
	copy(out, userKey)
	binary.BigEndian.PutUint64(out[len(userKey):], ^commitTS)
	return out
}

// WriteType identifies the kind of MVCC write record.
type WriteType byte

// Write type tags, matching the host transaction layer's on-disk encoding.
const (
	WriteTypePut      WriteType = 'P'
	WriteTypeDelete   WriteType = 'D'
	WriteTypeLock     WriteType = 'L'
	WriteTypeRollback WriteType = 'R'
)

// String returns a human-readable name for the write type.
func (t WriteType) String() string {
	switch t {
	case WriteTypePut:
		return "Put"
	case WriteTypeDelete:
		return "Delete"
	case WriteTypeLock:
		return "Lock"
	case WriteTypeRollback:
		return "Rollback"
	default:
		return "Unknown"
	}
}

// shortValueFlag marks an inline value following the start_ts varint.
const shortValueFlag = 'v'

// WriteRef is the write-column value: the record of a committed (or
// rolled-back, or locked-then-released) mutation, pointing at its payload
// either inline (ShortValue) or by start_ts in the default column family.
type WriteRef struct {
	Type       WriteType
	StartTS    uint64
	ShortValue []byte // nil when the value lives in the default CF
}

// ParseWriteRef decodes a WriteRef from its on-disk write-column value.
func ParseWriteRef(data []byte) (WriteRef, error) {
	if len(data) < 1 {
		return WriteRef{}, ErrInvalidWriteRef
	}
	wt := WriteType(data[0])
	switch wt {
	case WriteTypePut, WriteTypeDelete, WriteTypeLock, WriteTypeRollback:
	default:
		return WriteRef{}, ErrInvalidWriteRef
	}

	rest := data[1:]
	startTS, n, err := encoding.DecodeVarint64(rest)
	if err != nil {
		return WriteRef{}, ErrInvalidWriteRef
	}
	rest = rest[n:]

	w := WriteRef{Type: wt, StartTS: startTS}
	if len(rest) == 0 {
		return w, nil
	}
	if rest[0] != shortValueFlag {
		return WriteRef{}, ErrInvalidWriteRef
	}
	value, n, err := encoding.DecodeLengthPrefixedSlice(rest[1:])
	if err != nil {
		return WriteRef{}, ErrInvalidWriteRef
	}
	_ = n
	w.ShortValue = value
	return w, nil
}

// ToBytes encodes a WriteRef to its on-disk write-column value.
func (w WriteRef) ToBytes() []byte {
	buf := make([]byte, 0, 1+encoding.MaxVarint64Length+len(w.ShortValue)+2)
	buf = append(buf, byte(w.Type))
	buf = encoding.AppendVarint64(buf, w.StartTS)
	if w.ShortValue != nil {
		buf = append(buf, shortValueFlag)
		buf = encoding.AppendLengthPrefixedSlice(buf, w.ShortValue)
	}
	return buf
}

// HasValue reports whether this write record carries a user-visible value
// at all (a Lock or Rollback record never does).
func (w WriteRef) HasValue() bool {
	return w.Type == WriteTypePut
}

// EncodeDefaultKey builds the default-column key a WriteRef without a
// short value points to: the plain (non-inverted) concatenation of the
// user prefix and the originating transaction's start_ts. Unlike the
// write column, the default column is never range-scanned by commit
// order, so its timestamp suffix needs no sort-order inversion.
func EncodeDefaultKey(userPrefix []byte, startTS uint64) []byte {
	out := make([]byte, len(userPrefix)+TSLen)
	copy(out, userPrefix)
	binary.BigEndian.PutUint64(out[len(userPrefix):], startTS)
	return out
}
