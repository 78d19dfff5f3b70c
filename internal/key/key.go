// Package key implements the engine's versioned sort key.
//
// A stored key is the pair (UserKey, Ts). Two versioned keys compare first by
// UserKey ascending, then by Ts descending, so that for any given UserKey the
// newest version always sorts first. This lets every merging iterator in the
// package resolve "latest wins" for free: the leftmost entry for a UserKey in
// a correctly ordered stream is always the visible one.
package key

import "bytes"

// TsRangeBegin is the timestamp to pair with a UserKey when it must sort
// before every real version of that key (it is the "newest possible" ts).
// Scans bracket a single user key as [(k, TsRangeBegin), (k, TsRangeEnd)].
const TsRangeBegin uint64 = ^uint64(0)

// TsRangeEnd is the timestamp to pair with a UserKey when it must sort after
// every real version of that key (the "oldest possible" ts).
const TsRangeEnd uint64 = 0

// Key is a versioned sort key: a user-supplied byte string plus the commit
// timestamp of the write that produced it.
type Key struct {
	UserKey []byte
	Ts      uint64
}

// New builds a Key. The caller's userKey slice is retained, not copied.
func New(userKey []byte, ts uint64) Key {
	return Key{UserKey: userKey, Ts: ts}
}

// FromUserKey builds a Key bracketing value for range scans, see TsRangeBegin/TsRangeEnd.
func FromUserKey(userKey []byte) Key {
	return Key{UserKey: userKey, Ts: TsRangeBegin}
}

// Compare orders a before b: UserKey ascending, then Ts descending.
func Compare(a, b Key) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Ts > b.Ts:
		return -1
	case a.Ts < b.Ts:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b.
func Less(a, b Key) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b are the identical versioned key.
func Equal(a, b Key) bool { return a.Ts == b.Ts && bytes.Equal(a.UserKey, b.UserKey) }

// SameUserKey reports whether a and b share a user key, ignoring Ts.
func SameUserKey(a, b Key) bool { return bytes.Equal(a.UserKey, b.UserKey) }

// Copy returns a Key holding an independent copy of the user key bytes.
func (k Key) Copy() Key {
	uk := make([]byte, len(k.UserKey))
	copy(uk, k.UserKey)
	return Key{UserKey: uk, Ts: k.Ts}
}

// IsEmpty reports whether the user key is empty.
func (k Key) IsEmpty() bool { return len(k.UserKey) == 0 }
