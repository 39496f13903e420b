package storage

import (
	"sort"
	"sync"
	"time"

	"dhtcore/internal/kadid"
)

// timeoutIndex maintains expiresAt -> {Key640} sorted by expiry, so
// checkTimeouts can head-range-scan exactly the entries due for removal
// (spec §4.2: "The backend maintains a secondary structure mapping
// expiresAt -> {Key640} (sorted)").
type timeoutIndex struct {
	mu      sync.Mutex
	byKey   map[kadid.Key640]time.Time
	entries []timeoutEntry
}

type timeoutEntry struct {
	expiresAt time.Time
	key       kadid.Key640
}

func newTimeoutIndex() *timeoutIndex {
	return &timeoutIndex{byKey: make(map[kadid.Key640]time.Time)}
}

func (idx *timeoutIndex) set(key kadid.Key640, expiresAt time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(key)
	if expiresAt.IsZero() {
		return
	}
	idx.byKey[key] = expiresAt
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].expiresAt.After(expiresAt) || idx.entries[i].expiresAt.Equal(expiresAt)
	})
	idx.entries = append(idx.entries, timeoutEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = timeoutEntry{expiresAt: expiresAt, key: key}
}

func (idx *timeoutIndex) remove(key kadid.Key640) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(key)
}

func (idx *timeoutIndex) removeLocked(key kadid.Key640) {
	if _, ok := idx.byKey[key]; !ok {
		return
	}
	delete(idx.byKey, key)
	for i, e := range idx.entries {
		if e.key == key {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			break
		}
	}
}

// expired returns every key whose expiry is <= now, in expiry order, and
// removes them from the index.
func (idx *timeoutIndex) expired(now time.Time) []kadid.Key640 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := 0
	for n < len(idx.entries) && !idx.entries[n].expiresAt.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]kadid.Key640, n)
	for i := 0; i < n; i++ {
		out[i] = idx.entries[i].key
		delete(idx.byKey, idx.entries[i].key)
	}
	idx.entries = idx.entries[n:]
	return out
}
