package storage

import (
	"time"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

// BackendKind selects which physical storage engine a Store uses.
type BackendKind int

const (
	WALBackend BackendKind = iota
	BoltBackend
)

// Config configures a Store (spec §6's enumerated configuration, the
// storage-relevant subset).
type Config struct {
	Kind                  BackendKind
	DataDir               string // wal backend directory, or bolt db path
	DomainProtectionMode  ProtectionMode
	EntryProtectionMode   ProtectionMode
	StorageIntervalMillis int // TTL sweep period, default 60000
}

// Store layers locking, TTL expiry, and domain/entry protection over a
// physical Backend, implementing the full contract of spec §4.2.
type Store struct {
	backend    Backend
	locks      *lockManager
	protection *protectionState
	timeouts   *timeoutIndex
	nowFn      func() time.Time
}

// Open constructs a Store per cfg.
func Open(cfg Config) (*Store, error) {
	var backend Backend
	var err error
	switch cfg.Kind {
	case BoltBackend:
		backend, err = newBoltBackend(cfg.DataDir)
	default:
		backend, err = newWALBackend(cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:    backend,
		locks:      newLockManager(),
		protection: newProtectionState(cfg.DomainProtectionMode, cfg.EntryProtectionMode),
		timeouts:   newTimeoutIndex(),
		nowFn:      time.Now,
	}
	return s, nil
}

// Close releases the backend's resources.
func (s *Store) Close() error { return s.backend.close() }

// Put stores d at key640, subject to domain/entry protection and putIfAbsent.
func (s *Store) Put(key kadid.Key640, d *codec.Data, publicKey []byte, putIfAbsent, claimDomain bool) Result {
	release := s.locks.acquirePoint(key)
	defer release()

	if res := s.protection.checkDomainWrite(key.Key320(), publicKey, claimDomain); res != OK {
		return res
	}
	if res := s.protection.checkEntryWrite(key.Key480(), publicKey); res != OK {
		return res
	}

	existing, ok, err := s.backend.get(key)
	if err != nil {
		return Failed
	}
	if putIfAbsent && ok {
		exp := existing.Data.ExpiresAt()
		if exp.IsZero() || exp.After(s.nowFn()) {
			return FailedNotAbsent
		}
	}

	if d.HasBasedOn {
		if cyclic := s.ancestryHasCycle(key.Key480(), d.BasedOn, key.Version); cyclic {
			return Failed
		}
	}

	if d.ValidFrom.IsZero() {
		d.ValidFrom = s.nowFn()
	}
	if !s.protection.setEntryOwner(key.Key480(), publicKey, d.ProtectedEntry) {
		return FailedSecurity
	}

	if err := s.backend.put(key, record{Data: d, PublicKey: publicKey}); err != nil {
		return Failed
	}
	s.timeouts.set(key, d.ExpiresAt())
	return OK
}

// Get returns the entry at key, or ok=false if absent or expired.
func (s *Store) Get(key kadid.Key640) (*codec.Data, bool) {
	release := s.locks.acquirePoint(key)
	defer release()

	rec, ok, err := s.backend.get(key)
	if err != nil || !ok {
		return nil, false
	}
	if expiresAt := rec.Data.ExpiresAt(); !expiresAt.IsZero() && !expiresAt.After(s.nowFn()) {
		return nil, false
	}
	return rec.Data, true
}

// GetRange returns every live entry in [from, to].
func (s *Store) GetRange(from, to kadid.Key640) (map[kadid.Key640]*codec.Data, error) {
	release := s.locks.acquireRange(from, to)
	defer release()

	keys, recs, err := s.backend.scan(from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[kadid.Key640]*codec.Data, len(keys))
	now := s.nowFn()
	for i, k := range keys {
		if exp := recs[i].Data.ExpiresAt(); !exp.IsZero() && !exp.After(now) {
			continue
		}
		out[k] = recs[i].Data
	}
	return out, nil
}

// GetRangeFiltered returns every live entry in [from, to] not already
// indicated present by keyBloom/contentBloom, per spec §4.2's
// "getRange(from, to, keyBloom, contentBloom)" overload: the caller passes
// in the filters it got back from an earlier DigestWithBloom call over its
// own holdings, and only the entries this store has that the caller
// probably doesn't come back, saving the bandwidth of re-sending data the
// caller (most likely) already has. Nil filters behave like plain GetRange.
func (s *Store) GetRangeFiltered(from, to kadid.Key640, keyBloom, contentBloom *bloomfilter.Filter) (map[kadid.Key640]*codec.Data, error) {
	release := s.locks.acquireRange(from, to)
	defer release()

	keys, recs, err := s.backend.scan(from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[kadid.Key640]*codec.Data, len(keys))
	now := s.nowFn()
	for i, k := range keys {
		if exp := recs[i].Data.ExpiresAt(); !exp.IsZero() && !exp.After(now) {
			continue
		}
		if keyBloom != nil && contentBloom != nil {
			h := ContentHash(recs[i].Data.Payload)
			if keyBloom.Contains(keyFoldToUint64(k.Bytes())) && contentBloom.Contains(keyFoldToUint64(h[:])) {
				continue
			}
		}
		out[k] = recs[i].Data
	}
	return out, nil
}

// Remove deletes the entry at key if publicKey satisfies protection.
func (s *Store) Remove(key kadid.Key640, publicKey []byte) Result {
	release := s.locks.acquirePoint(key)
	defer release()

	if res := s.protection.checkEntryWrite(key.Key480(), publicKey); res != OK {
		return res
	}
	if err := s.backend.delete(key); err != nil {
		return Failed
	}
	s.timeouts.remove(key)
	return OK
}

// RemoveRange deletes every entry in [from, to] that publicKey may remove,
// returning how many were actually removed.
func (s *Store) RemoveRange(from, to kadid.Key640, publicKey []byte) (int, error) {
	release := s.locks.acquireRange(from, to)
	defer release()

	keys, _, err := s.backend.scan(from, to)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if s.protection.checkEntryWrite(k.Key480(), publicKey) != OK {
			continue
		}
		if err := s.backend.delete(k); err != nil {
			continue
		}
		s.timeouts.remove(k)
		n++
	}
	return n, nil
}

// Digest computes a (key, content-hash) digest over [from, to].
func (s *Store) Digest(from, to kadid.Key640) (Digest, error) {
	release := s.locks.acquireRange(from, to)
	defer release()
	keys, recs, err := s.backend.scan(from, to)
	if err != nil {
		return Digest{}, err
	}
	dg, _, _, err := DigestFiltered(keys, recs)
	return dg, err
}

// DigestWithBloom computes a digest over a Key320 prefix plus its
// accompanying bloom filters, per spec §4.2's digest(Key320, keyBloom,
// contentBloom) overload.
func (s *Store) DigestWithBloom(loc kadid.Key320) (Digest, *bloomFilterPair, error) {
	from := kadid.Key640{Location: loc.Location, Domain: loc.Domain}
	to := kadid.Key640{Location: loc.Location, Domain: loc.Domain, Content: kadid.Max, Version: kadid.Max}
	release := s.locks.acquireRange(from, to)
	defer release()
	keys, recs, err := s.backend.scan(from, to)
	if err != nil {
		return Digest{}, nil, err
	}
	dg, keyBloom, contentBloom, err := DigestFiltered(keys, recs)
	if err != nil {
		return Digest{}, nil, err
	}
	return dg, &bloomFilterPair{Keys: keyBloom, Content: contentBloom}, nil
}

// DigestKeys computes a (key, content-hash) digest over an arbitrary set of
// keys rather than a contiguous range, per spec §4.2's "digest({Key640})"
// overload — used to check a handful of specific keys (e.g. the ones a
// majority vote disagreed on) without scanning the range they fall in.
// Keys absent or expired are simply omitted from the result.
func (s *Store) DigestKeys(keys []kadid.Key640) (Digest, error) {
	dg := Digest{Hashes: make(map[kadid.Key640][20]byte, len(keys))}
	now := s.nowFn()
	for _, k := range keys {
		release := s.locks.acquirePoint(k)
		rec, ok, err := s.backend.get(k)
		release()
		if err != nil {
			return Digest{}, err
		}
		if !ok {
			continue
		}
		if exp := rec.Data.ExpiresAt(); !exp.IsZero() && !exp.After(now) {
			continue
		}
		dg.Hashes[k] = ContentHash(rec.Data.Payload)
	}
	return dg, nil
}

type bloomFilterPair struct {
	Keys    *bloomfilter.Filter
	Content *bloomfilter.Filter
}

// CheckTimeouts removes every entry whose expiry has passed, invoked
// periodically by a sweep task every StorageIntervalMillis.
func (s *Store) CheckTimeouts() []kadid.Key640 {
	expired := s.timeouts.expired(s.nowFn())
	for _, k := range expired {
		release := s.locks.acquirePoint(k)
		s.backend.delete(k) //nolint:errcheck // best-effort sweep; next pass retries
		release()
	}
	return expired
}

// FindContentForResponsiblePeer enumerates the distinct location keys this
// node currently holds content under. peerId is accepted for symmetry with
// spec §4.2's signature; physical storage only ever holds content this
// node itself has accepted, so in practice peerId is always the local ID
// and the parameter exists for callers that want to assert that.
func (s *Store) FindContentForResponsiblePeer(peerID kadid.ID) []kadid.ID {
	_ = peerID
	full := kadid.Key640{Location: kadid.Max, Domain: kadid.Max, Content: kadid.Max, Version: kadid.Max}
	keys, _, err := s.backend.scan(kadid.Key640{}, full)
	if err != nil {
		return nil
	}
	seen := make(map[kadid.ID]struct{})
	var out []kadid.ID
	for _, k := range keys {
		if _, ok := seen[k.Location]; ok {
			continue
		}
		seen[k.Location] = struct{}{}
		out = append(out, k.Location)
	}
	return out
}

// RemoveDomain makes a domain permanently unprotectable, per spec §4.2.
func (s *Store) RemoveDomain(key320 kadid.Key320) {
	s.protection.RemoveDomain(key320)
}

// ancestryHasCycle walks a basedOn chain looking for a revisit of
// candidateVersion within the same (location,domain,content) triple,
// rejecting the spec §9-resolved cycle case. The walk is bounded to avoid
// unbounded work on pathological chains.
func (s *Store) ancestryHasCycle(key480 kadid.Key480, basedOn kadid.ID, candidateVersion kadid.ID) bool {
	const maxDepth = 1024
	cursor := basedOn
	for i := 0; i < maxDepth; i++ {
		if cursor.Equal(candidateVersion) {
			return true
		}
		k := kadid.Key640{Location: key480.Location, Domain: key480.Domain, Content: key480.Content, Version: cursor}
		rec, ok, err := s.backend.get(k)
		if err != nil || !ok || !rec.Data.HasBasedOn {
			return false
		}
		cursor = rec.Data.BasedOn
	}
	return true // treat runaway chains as cyclic rather than looping forever
}
