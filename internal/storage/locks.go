package storage

import (
	"sync"

	"dhtcore/internal/kadid"
)

// lockLevel names the four keyed lock tiers plus the storage-wide lock,
// per spec §4.2's locking discipline.
type lockLevel int

const (
	levelGlobal lockLevel = iota
	level160
	level320
	level480
	level640
)

// refCountedLock is one entry in a keyed lock table: a mutex plus a
// waiter count so the table entry can be garbage collected once nobody
// references it any longer (spec §9: "a handle's release decrements the
// count; the table entry is removed when the count reaches zero").
type refCountedLock struct {
	mu   sync.Mutex
	refs int
}

// lockTable is a ref-counted keyed lock table for one granularity.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*refCountedLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*refCountedLock)}
}

// handle unblocks other waiters only after release is called; release must
// be called exactly once.
type handle struct {
	table *lockTable
	key   string
	lock  *refCountedLock
}

func (t *lockTable) acquire(key string) *handle {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &refCountedLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return &handle{table: t, key: key, lock: l}
}

func (h *handle) release() {
	h.lock.mu.Unlock()
	h.table.mu.Lock()
	h.lock.refs--
	if h.lock.refs == 0 {
		delete(h.table.locks, h.key)
	}
	h.table.mu.Unlock()
}

// lockManager owns the four keyed lock tables and the storage-wide lock, and
// implements the "coarsest lock that still restricts to one branch"
// selection from spec §4.2.
type lockManager struct {
	global    sync.Mutex
	t160      *lockTable
	t320      *lockTable
	t480      *lockTable
	t640      *lockTable
}

func newLockManager() *lockManager {
	return &lockManager{
		t160: newLockTable(),
		t320: newLockTable(),
		t480: newLockTable(),
		t640: newLockTable(),
	}
}

// releaseFunc is returned by every acquire* call.
type releaseFunc func()

// acquirePoint always takes the 640-lock: point operations are always
// fully-qualified (spec §4.2: "Point operations always use the 640-lock").
func (m *lockManager) acquirePoint(k kadid.Key640) releaseFunc {
	h := m.t640.acquire(string(k.Bytes()))
	return h.release
}

// acquireRange picks the narrowest lock whose prefix fully covers [from,
// to], based on how many of the four coordinates are shared between the
// bounds.
func (m *lockManager) acquireRange(from, to kadid.Key640) releaseFunc {
	switch kadid.RangePrefixLen(from, to) {
	case 4:
		h := m.t640.acquire(string(from.Bytes()))
		return h.release
	case 3:
		h := m.t480.acquire(string(from.Key480().Location.Bytes()) + string(from.Domain.Bytes()) + string(from.Content.Bytes()))
		return h.release
	case 2:
		h := m.t320.acquire(string(from.Location.Bytes()) + string(from.Domain.Bytes()))
		return h.release
	case 1:
		h := m.t160.acquire(string(from.Location.Bytes()))
		return h.release
	default:
		m.global.Lock()
		return m.global.Unlock
	}
}
