package storage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

// boltBackend persists entries in a go.etcd.io/bbolt database, one bucket
// per (location,domain) prefix, keyed by (content,version). scan walks
// every bucket and filters each key with kadid.InRange; it does not limit
// itself to the buckets that share the range's location prefix.
type boltBackend struct {
	db *bolt.DB
}

func newBoltBackend(path string) (*boltBackend, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt db: %w", err)
	}
	return &boltBackend{db: db}, nil
}

func bucketName(k kadid.Key640) []byte {
	return append(append([]byte{}, k.Location[:]...), k.Domain[:]...)
}

func itemKey(k kadid.Key640) []byte {
	return append(append([]byte{}, k.Content[:]...), k.Version[:]...)
}

func (b *boltBackend) put(key kadid.Key640, rec record) error {
	encoded, err := codec.Encode(rec.Data)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(bucketName(key))
		if err != nil {
			return err
		}
		entry := boltEntry{Encoded: encoded, PublicKey: rec.PublicKey}
		raw, err := entry.marshal()
		if err != nil {
			return err
		}
		return bkt.Put(itemKey(key), raw)
	})
}

func (b *boltBackend) get(key kadid.Key640) (record, bool, error) {
	var rec record
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName(key))
		if bkt == nil {
			return nil
		}
		raw := bkt.Get(itemKey(key))
		if raw == nil {
			return nil
		}
		var entry boltEntry
		if err := entry.unmarshal(raw); err != nil {
			return err
		}
		d, err := codec.DecodeFull(entry.Encoded)
		if err != nil {
			return err
		}
		rec = record{Data: d, PublicKey: entry.PublicKey}
		found = true
		return nil
	})
	return rec, found, err
}

func (b *boltBackend) delete(key kadid.Key640) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName(key))
		if bkt == nil {
			return nil
		}
		return bkt.Delete(itemKey(key))
	})
}

func (b *boltBackend) scan(from, to kadid.Key640) ([]kadid.Key640, []record, error) {
	var keys []kadid.Key640
	var recs []record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bkt *bolt.Bucket) error {
			return bkt.ForEach(func(ik, raw []byte) error {
				if len(name) != kadid.IDLen*2 || len(ik) != kadid.IDLen*2 {
					return nil
				}
				var k kadid.Key640
				copy(k.Location[:], name[:kadid.IDLen])
				copy(k.Domain[:], name[kadid.IDLen:])
				copy(k.Content[:], ik[:kadid.IDLen])
				copy(k.Version[:], ik[kadid.IDLen:])
				if !kadid.InRange(k, from, to) {
					return nil
				}
				var entry boltEntry
				if err := entry.unmarshal(raw); err != nil {
					return err
				}
				d, err := codec.DecodeFull(entry.Encoded)
				if err != nil {
					return nil
				}
				keys = append(keys, k)
				recs = append(recs, record{Data: d, PublicKey: entry.PublicKey})
				return nil
			})
		})
	})
	return keys, recs, err
}

func (b *boltBackend) close() error {
	return b.db.Close()
}

// boltEntry is the small envelope stored under each item key: the encoded
// Data plus the writer's public key, length-prefixed so bbolt's raw
// []byte values stay self-delimiting.
type boltEntry struct {
	Encoded   []byte
	PublicKey []byte
}

func (e boltEntry) marshal() ([]byte, error) {
	buf := make([]byte, 0, 4+len(e.Encoded)+4+len(e.PublicKey))
	buf = appendLenPrefixed(buf, e.Encoded)
	buf = appendLenPrefixed(buf, e.PublicKey)
	return buf, nil
}

func (e *boltEntry) unmarshal(buf []byte) error {
	encoded, rest, err := readLenPrefixed(buf)
	if err != nil {
		return err
	}
	pubKey, _, err := readLenPrefixed(rest)
	if err != nil {
		return err
	}
	e.Encoded = encoded
	e.PublicKey = pubKey
	return nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	n := uint32(len(data))
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, data...)
}

func readLenPrefixed(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("storage: truncated length prefix")
	}
	n := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf) < 4+n {
		return nil, nil, fmt.Errorf("storage: truncated bolt entry")
	}
	return buf[4 : 4+n], buf[4+n:], nil
}
