package kadid

import "bytes"

// Key320 addresses a (location, domain) pair: the unit of domain protection
// and the coarsest range-scan granularity below the whole store.
type Key320 struct {
	Location ID
	Domain   ID
}

// Key480 adds a content coordinate to Key320: one logical item, independent
// of which version is stored under it.
type Key480 struct {
	Location ID
	Domain   ID
	Content  ID
}

// Key640 is the full four-coordinate key under which a Data entry is
// physically stored.
type Key640 struct {
	Location ID
	Domain   ID
	Content  ID
	Version  ID
}

// Key320 truncates a Key640 down to its (location, domain) prefix.
func (k Key640) Key320() Key320 { return Key320{Location: k.Location, Domain: k.Domain} }

// Key480 truncates a Key640 down to its (location, domain, content) prefix.
func (k Key640) Key480() Key480 {
	return Key480{Location: k.Location, Domain: k.Domain, Content: k.Content}
}

// Compare implements the total lexicographic order over the four
// coordinates that range scans and lock selection rely on.
func (k Key640) Compare(other Key640) int {
	if c := k.Location.Compare(other.Location); c != 0 {
		return c
	}
	if c := k.Domain.Compare(other.Domain); c != 0 {
		return c
	}
	if c := k.Content.Compare(other.Content); c != 0 {
		return c
	}
	return k.Version.Compare(other.Version)
}

// Less reports whether k sorts before other in the total key order.
func (k Key640) Less(other Key640) bool { return k.Compare(other) < 0 }

// Bytes concatenates the four coordinates, used as a map key and as the
// canonical form for hierarchical lock selection.
func (k Key640) Bytes() []byte {
	buf := make([]byte, 0, IDLen*4)
	buf = append(buf, k.Location[:]...)
	buf = append(buf, k.Domain[:]...)
	buf = append(buf, k.Content[:]...)
	buf = append(buf, k.Version[:]...)
	return buf
}

// SharedPrefixLen returns how many of the four 160-bit coordinates a and b
// agree on exactly, in (location, domain, content, version) order — this is
// exactly the "narrowest lock" selection input from the storage layer's
// locking discipline.
func SharedPrefixLen(a, b Key640) int {
	if a.Location != b.Location {
		return 0
	}
	if a.Domain != b.Domain {
		return 1
	}
	if a.Content != b.Content {
		return 2
	}
	if a.Version != b.Version {
		return 3
	}
	return 4
}

// InRange reports whether k lies within [from, to] inclusive under the
// total key order, the primitive range scans are built on.
func InRange(k, from, to Key640) bool {
	return !k.Less(from) && !to.Less(k)
}

// RangePrefixLen computes the lock granularity (0=global .. 4=point) a
// range scan over [from, to] should acquire: the narrowest keyed lock whose
// prefix still fully covers the range, per the storage layer's locking
// discipline (§4.2).
func RangePrefixLen(from, to Key640) int {
	return SharedPrefixLen(from, to)
}

// equalBytes is a small helper kept for readability at call sites that
// compare raw coordinate slices rather than typed IDs.
func equalBytes(a, b []byte) bool { return bytes.Equal(a, b) }
