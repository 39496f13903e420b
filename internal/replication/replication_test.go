package replication

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

func mkPeer(name string) kadid.PeerAddress {
	return kadid.PeerAddress{PeerID: kadid.HashID([]byte(name)), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
}

type fakeStore struct {
	entries map[kadid.Key640]*codec.Data
	locs    []kadid.ID
}

func (f *fakeStore) GetRange(from, to kadid.Key640) (map[kadid.Key640]*codec.Data, error) {
	out := make(map[kadid.Key640]*codec.Data)
	for k, d := range f.entries {
		if k.Location == from.Location {
			out[k] = d
		}
	}
	return out, nil
}

func (f *fakeStore) FindContentForResponsiblePeer(peerID kadid.ID) []kadid.ID {
	return f.locs
}

type fakePeerMap struct {
	closest []kadid.PeerAddress
}

func (f *fakePeerMap) ClosestPeers(target kadid.ID, k int) []kadid.PeerAddress {
	if len(f.closest) > k {
		return f.closest[:k]
	}
	return f.closest
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[kadid.ID]int // peer id -> count
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[kadid.ID]int)}
}

func (s *recordingSender) SendPut(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, d *codec.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[peer.PeerID]++
	return nil
}

func (s *recordingSender) count(id kadid.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[id]
}

func TestMeResponsibleSendsToClosestRMinus1(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	loc := kadid.HashID([]byte("loc"))
	key := kadid.Key640{Location: loc, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}

	a, b, c := mkPeer("a"), mkPeer("b"), mkPeer("c")
	store := &fakeStore{entries: map[kadid.Key640]*codec.Data{key: {Payload: []byte("x")}}}
	pm := &fakePeerMap{closest: []kadid.PeerAddress{a, b, c}}
	sender := newRecordingSender()

	ctrl := New(self, pm, store, sender, Config{ReplicationFactor: func() int { return 3 }})
	ctrl.MeResponsible(context.Background(), loc)

	require.Equal(t, 1, sender.count(a.PeerID))
	require.Equal(t, 1, sender.count(b.PeerID))
	require.Equal(t, 0, sender.count(c.PeerID))
}

func TestOtherResponsibleImmediateSend(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	loc := kadid.HashID([]byte("loc"))
	key := kadid.Key640{Location: loc, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}

	store := &fakeStore{entries: map[kadid.Key640]*codec.Data{key: {Payload: []byte("x")}}}
	pm := &fakePeerMap{}
	sender := newRecordingSender()
	other := mkPeer("other")

	ctrl := New(self, pm, store, sender, DefaultConfig())
	ctrl.OtherResponsible(context.Background(), loc, other, false)

	require.Equal(t, 1, sender.count(other.PeerID))
}

func TestOtherResponsibleDelayedSendIfStillResponsible(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	loc := kadid.HashID([]byte("loc"))
	key := kadid.Key640{Location: loc, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}

	store := &fakeStore{entries: map[kadid.Key640]*codec.Data{key: {Payload: []byte("x")}}}
	pm := &fakePeerMap{}
	sender := newRecordingSender()
	// other's ID differs from loc only in the lowest bit, so other is
	// closer to loc than self and the fire-time re-check lets the send through.
	otherID := loc
	otherID[kadid.IDLen-1] ^= 1
	other := kadid.PeerAddress{PeerID: otherID, IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}

	cfg := DefaultConfig()
	cfg.DelayMillis = 5
	cfg.Mode = SendIfStillResponsible
	ctrl := New(self, pm, store, sender, cfg)
	ctrl.OtherResponsible(context.Background(), loc, other, true)

	require.Eventually(t, func() bool { return sender.count(other.PeerID) == 1 }, time.Second, time.Millisecond)
}

func TestOtherResponsibleDelayedSendUnconditionalIgnoresResponsibilityChange(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	loc := kadid.HashID([]byte("loc"))
	key := kadid.Key640{Location: loc, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}

	store := &fakeStore{entries: map[kadid.Key640]*codec.Data{key: {Payload: []byte("x")}}}
	pm := &fakePeerMap{}
	sender := newRecordingSender()
	other := mkPeer("other")

	cfg := DefaultConfig()
	cfg.DelayMillis = 5
	cfg.Mode = SendUnconditional
	ctrl := New(self, pm, store, sender, cfg)
	ctrl.OtherResponsible(context.Background(), loc, other, true)

	require.Eventually(t, func() bool { return sender.count(other.PeerID) == 1 }, time.Second, time.Millisecond)
}

func TestSweepReplicatesAllHeldLocations(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	locA := kadid.HashID([]byte("locA"))
	locB := kadid.HashID([]byte("locB"))
	keyA := kadid.Key640{Location: locA, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}
	keyB := kadid.Key640{Location: locB, Domain: kadid.HashID([]byte("d")), Content: kadid.HashID([]byte("c")), Version: kadid.HashID([]byte("v"))}

	a := mkPeer("a")
	store := &fakeStore{
		entries: map[kadid.Key640]*codec.Data{keyA: {Payload: []byte("x")}, keyB: {Payload: []byte("y")}},
		locs:    []kadid.ID{locA, locB},
	}
	pm := &fakePeerMap{closest: []kadid.PeerAddress{a}}
	sender := newRecordingSender()

	ctrl := New(self, pm, store, sender, Config{ReplicationFactor: func() int { return 2 }})
	ctrl.Sweep(context.Background())

	require.Equal(t, 2, sender.count(a.PeerID))
}
