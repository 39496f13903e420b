// Package kadid implements the 160-bit identifier algebra, composite keys,
// and peer address encoding that every other layer of the DHT builds on.
package kadid

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// IDLen is the width of the identifier space in bytes (160 bits).
const IDLen = 20

// ID is a 160-bit unsigned integer, stored big-endian.
type ID [IDLen]byte

// Zero and Max are the two reserved sentinel identifiers.
var (
	Zero ID
	Max  = func() ID {
		var id ID
		for i := range id {
			id[i] = 0xff
		}
		return id
	}()
)

// HashID derives an ID by taking the SHA-1 digest of b.
func HashID(b []byte) ID {
	return ID(sha1.Sum(b))
}

// IDFromBytes copies up to IDLen bytes from b into a new ID, left-padding
// with zeros if b is shorter.
func IDFromBytes(b []byte) ID {
	var id ID
	if len(b) >= IDLen {
		copy(id[:], b[len(b)-IDLen:])
		return id
	}
	copy(id[IDLen-len(b):], b)
	return id
}

// Equal reports whether two identifiers are identical.
func (id ID) Equal(other ID) bool { return id == other }

// IsZero reports whether id is the reserved zero sentinel.
func (id ID) IsZero() bool { return id == Zero }

// Xor returns the bitwise XOR distance between id and other.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// BitLen returns the position of the highest set bit, counting from 1
// (0 for the zero value), matching bit-length semantics used for bucket
// indexing.
func (id ID) BitLen() int {
	for i := 0; i < IDLen; i++ {
		if id[i] != 0 {
			return (IDLen-i-1)*8 + bits.Len8(id[i])
		}
	}
	return 0
}

// Less implements the numeric total order used for ID tie-breaks.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Compare returns -1, 0, or 1 following bytes.Compare semantics.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Bytes returns the identifier's big-endian byte representation.
func (id ID) Bytes() []byte {
	out := make([]byte, IDLen)
	copy(out, id[:])
	return out
}

// String renders the identifier as lowercase hex, matching how the teacher
// formats opaque identifiers in its own logs.
func (id ID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// IDFromHex parses the hex encoding produced by String, as used for path
// parameters in the control-plane HTTP API.
func IDFromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("kadid: invalid id hex %q: %w", s, err)
	}
	if len(b) != IDLen {
		return ID{}, fmt.Errorf("kadid: id hex %q decodes to %d bytes, want %d", s, len(b), IDLen)
	}
	return IDFromBytes(b), nil
}

// DistanceLess reports whether id is strictly closer to target than other
// is, breaking exact ties by numeric peer-ID order as required by the
// closest-peers contract.
func DistanceLess(target, id, other ID) bool {
	da, db := target.Xor(id), target.Xor(other)
	if c := da.Compare(db); c != 0 {
		return c < 0
	}
	return id.Less(other)
}
