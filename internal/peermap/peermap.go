// Package peermap implements the bucketed Kademlia routing table: up to 160
// buckets, each holding verified and overflow peer entries, closest-peer
// queries, and offline-detection bookkeeping.
//
// The bucket/eviction shape is grounded on the CPL-indexed bucket array in
// the libp2p kbucket routing table; the overflow ring is a bounded LRU
// (github.com/hashicorp/golang-lru/v2) standing in for that table's
// FIFO-ish "last seen" replacement policy.
package peermap

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"dhtcore/internal/kadid"
)

// AddResult is the outcome of an add() call.
type AddResult int

const (
	Inserted AddResult = iota
	Replaced
	Rejected
)

// RemoveReason explains why a peer is leaving the map, driving whether a
// verified entry only gains an offline strike or is deleted outright.
type RemoveReason int

const (
	ReasonNotReachable RemoveReason = iota
	ReasonShutdown
	ReasonException
)

// maxOfflineStrikes is how many consecutive offline reports remove a peer
// outright, per spec §4.1 failure semantics.
const maxOfflineStrikes = 3

// entry is one slot in a bucket.
type entry struct {
	addr     kadid.PeerAddress
	lastSeen time.Time
	strikes  int
}

type bucket struct {
	verified []entry
	overflow *lru.Cache[kadid.ID, entry]
}

// Listener receives peer-map lifecycle notifications; the replication
// controller subscribes to these.
type Listener interface {
	PeerInserted(addr kadid.PeerAddress)
	PeerRemoved(id kadid.ID, reason RemoveReason)
	PeerUpdated(addr kadid.PeerAddress)
}

// Map is the routing table itself.
type Map struct {
	mu      sync.RWMutex
	self    kadid.ID
	bagSize int
	buckets [kadid.IDLen*8 + 1]*bucket

	listeners []Listener
}

// New constructs an empty routing table for the given local identity.
// bagSize is the per-bucket verified/overflow slot count (default 2).
func New(self kadid.ID, bagSize int) *Map {
	if bagSize <= 0 {
		bagSize = 2
	}
	m := &Map{self: self, bagSize: bagSize}
	for i := range m.buckets {
		m.buckets[i] = newBucket(bagSize)
	}
	return m
}

func newBucket(bagSize int) *bucket {
	c, _ := lru.New[kadid.ID, entry](bagSize)
	return &bucket{overflow: c}
}

// Subscribe registers a Listener for insert/remove/update events.
func (m *Map) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Map) notifyInsert(addr kadid.PeerAddress) {
	for _, l := range m.listeners {
		l.PeerInserted(addr)
	}
}
func (m *Map) notifyRemove(id kadid.ID, reason RemoveReason) {
	for _, l := range m.listeners {
		l.PeerRemoved(id, reason)
	}
}
func (m *Map) notifyUpdate(addr kadid.PeerAddress) {
	for _, l := range m.listeners {
		l.PeerUpdated(addr)
	}
}

// bucketIndex computes "160 - bitLength(self XOR peer)" per spec §4.1.
func (m *Map) bucketIndex(peer kadid.ID) int {
	d := m.self.Xor(peer)
	return kadid.IDLen*8 - d.BitLen()
}

// Add inserts or updates a peer entry. A verified entry replaces any
// overflow entry with the same ID and never evicts another verified entry
// (the bucket rejects it once full). Self is always refused.
func (m *Map) Add(addr kadid.PeerAddress, verified bool) AddResult {
	if addr.PeerID.IsZero() || addr.PeerID.Equal(m.self) {
		return Rejected
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.bucketIndex(addr.PeerID)
	b := m.buckets[idx]

	for i, e := range b.verified {
		if e.addr.PeerID.Equal(addr.PeerID) {
			b.verified[i] = entry{addr: addr, lastSeen: nowFn()}
			m.notifyUpdate(addr)
			return Replaced
		}
	}

	if !verified {
		if _, ok := b.overflow.Get(addr.PeerID); ok {
			b.overflow.Add(addr.PeerID, entry{addr: addr, lastSeen: nowFn()})
			m.notifyUpdate(addr)
			return Replaced
		}
		b.overflow.Add(addr.PeerID, entry{addr: addr, lastSeen: nowFn()})
		m.notifyInsert(addr)
		return Inserted
	}

	// Verified: replace a same-ID overflow entry first.
	if _, ok := b.overflow.Get(addr.PeerID); ok {
		b.overflow.Remove(addr.PeerID)
	}
	if len(b.verified) < m.bagSize {
		b.verified = append(b.verified, entry{addr: addr, lastSeen: nowFn()})
		m.notifyInsert(addr)
		return Inserted
	}
	return Rejected
}

// Remove drops peerId per the given reason: ReasonNotReachable leaves a
// verified peer in its verified slot with one more offline strike and
// deletes it on the maxOfflineStrikes-th strike, while shutdown/exception
// remove it outright. Overflow entries are removed on any reason.
func (m *Map) Remove(id kadid.ID, reason RemoveReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.bucketIndex(id)
	b := m.buckets[idx]

	for i, e := range b.verified {
		if !e.addr.PeerID.Equal(id) {
			continue
		}
		if reason == ReasonNotReachable {
			e.strikes++
			if e.strikes < maxOfflineStrikes {
				b.verified[i] = e
				return
			}
		}
		b.verified = append(b.verified[:i], b.verified[i+1:]...)
		m.notifyRemove(id, reason)
		return
	}
	if _, ok := b.overflow.Get(id); ok {
		b.overflow.Remove(id)
		m.notifyRemove(id, reason)
	}
}

// ClosestPeers returns up to k verified peers sorted by ascending XOR
// distance to target, walking outward from target's own bucket so results
// stay correct even when buckets are sparse.
func (m *Map) ClosestPeers(target kadid.ID, k int) []kadid.PeerAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home := m.bucketIndex(target)
	var candidates []kadid.PeerAddress
	for radius := 0; radius <= len(m.buckets); radius++ {
		added := false
		if idx := home + radius; idx < len(m.buckets) {
			candidates = append(candidates, verifiedAddrs(m.buckets[idx])...)
			added = true
		}
		if radius > 0 {
			if idx := home - radius; idx >= 0 {
				candidates = append(candidates, verifiedAddrs(m.buckets[idx])...)
				added = true
			}
		}
		if !added && radius > 0 {
			break
		}
		if len(candidates) >= k*4 {
			break
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return kadid.DistanceLess(target, candidates[i].PeerID, candidates[j].PeerID)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func verifiedAddrs(b *bucket) []kadid.PeerAddress {
	out := make([]kadid.PeerAddress, 0, len(b.verified))
	for _, e := range b.verified {
		out = append(out, e.addr)
	}
	return out
}

// AllOverflow snapshots every overflow (unverified) entry, used for
// diagnostics and relay discovery.
func (m *Map) AllOverflow() []kadid.PeerAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kadid.PeerAddress
	for _, b := range m.buckets {
		for _, id := range b.overflow.Keys() {
			if e, ok := b.overflow.Peek(id); ok {
				out = append(out, e.addr)
			}
		}
	}
	return out
}

// All snapshots every verified entry across all buckets.
func (m *Map) All() []kadid.PeerAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kadid.PeerAddress
	for _, b := range m.buckets {
		out = append(out, verifiedAddrs(b)...)
	}
	return out
}

// Size returns the count of verified entries across the whole table.
func (m *Map) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.buckets {
		n += len(b.verified)
	}
	return n
}

// nowFn is indirected so tests can hold lastSeen deterministic if ever
// needed; production always uses wall-clock time.
var nowFn = time.Now
