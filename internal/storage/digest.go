package storage

import (
	"crypto/sha1" //nolint:gosec // spec names SHA for lazily-computed content hashes used in digests
	"encoding/binary"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"dhtcore/internal/kadid"
)

// Digest is a (key, content-hash) map used to compare replica contents
// without transferring payloads, per spec §4.2/GLOSSARY.
type Digest struct {
	Hashes map[kadid.Key640][20]byte
}

// ContentHash computes the SHA-1 of a payload (spec §3's "hash" field).
// It is recomputed on every call; nothing caches it.
func ContentHash(payload []byte) [20]byte {
	return sha1.Sum(payload) //nolint:gosec
}

// DigestFiltered builds a Digest plus two bloom filters over the involved
// keys and content hashes (spec §4.2: "digest(Key320, keyBloom,
// contentBloom)"), letting a remote peer cheaply test "do you already have
// this key/content" without shipping the full digest map.
func DigestFiltered(keys []kadid.Key640, recs []record) (Digest, *bloomfilter.Filter, *bloomfilter.Filter, error) {
	dg := Digest{Hashes: make(map[kadid.Key640][20]byte, len(keys))}

	n := uint64(len(keys))
	if n == 0 {
		n = 1
	}
	keyBloom, err := bloomfilter.NewOptimal(n, 0.01)
	if err != nil {
		return dg, nil, nil, err
	}
	contentBloom, err := bloomfilter.NewOptimal(n, 0.01)
	if err != nil {
		return dg, nil, nil, err
	}

	for i, k := range keys {
		h := ContentHash(recs[i].Data.Payload)
		dg.Hashes[k] = h
		keyBloom.Add(keyFoldToUint64(k.Bytes()))
		contentBloom.Add(keyFoldToUint64(h[:]))
	}
	return dg, keyBloom, contentBloom, nil
}

// keyFoldToUint64 folds an arbitrary-length key into the uint64 hash input
// the bloom filter expects.
func keyFoldToUint64(b []byte) uint64 {
	sum := sha1.Sum(b) //nolint:gosec
	return binary.BigEndian.Uint64(sum[:8])
}
