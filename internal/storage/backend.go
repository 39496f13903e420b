package storage

import (
	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

// record is what a Backend physically stores: the wire-level Data plus the
// writer's public key, kept alongside for protection checks and digests.
type record struct {
	Data      *codec.Data
	PublicKey []byte
}

// Backend is the physical storage plug point (spec §1: "persistent disk
// storage beyond optional backends" is explicitly allowed, not a
// non-goal). The Store type layers locking, TTL, and protection over
// whichever Backend is configured.
type Backend interface {
	put(key kadid.Key640, rec record) error
	get(key kadid.Key640) (record, bool, error)
	delete(key kadid.Key640) error
	scan(from, to kadid.Key640) ([]kadid.Key640, []record, error)
	close() error
}
