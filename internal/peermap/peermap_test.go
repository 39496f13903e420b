package peermap

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
)

func addrFor(name string) kadid.PeerAddress {
	return kadid.PeerAddress{PeerID: kadid.HashID([]byte(name)), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
}

func TestAddRejectsSelf(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)
	require.Equal(t, Rejected, m.Add(kadid.PeerAddress{PeerID: self}, true))
}

func TestVerifiedNeverEvictsVerified(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)

	// a, b and c each differ from self in the top bit, so all three land in
	// bucket 0 and c arrives when that bucket is already full.
	inBucket0 := func(last byte) kadid.PeerAddress {
		var d kadid.ID
		d[0] = 0x80
		d[kadid.IDLen-1] = last
		return kadid.PeerAddress{PeerID: self.Xor(d), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
	}
	a, b, c := inBucket0(1), inBucket0(2), inBucket0(3)
	require.Equal(t, Inserted, m.Add(a, true))
	require.Equal(t, Inserted, m.Add(b, true))
	require.Equal(t, Rejected, m.Add(c, true))
	require.Equal(t, 2, m.Size())
	require.ElementsMatch(t, []kadid.PeerAddress{a, b}, m.All())
}

func TestClosestPeersSortedByDistance(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)
	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, n := range names {
		m.Add(addrFor(n), true)
	}
	target := kadid.HashID([]byte("target"))
	closest := m.ClosestPeers(target, 3)
	for i := 1; i < len(closest); i++ {
		require.True(t, kadid.DistanceLess(target, closest[i-1].PeerID, closest[i].PeerID) || closest[i-1].PeerID == closest[i].PeerID)
	}
}

func TestOfflineStrikesRemoveAfterThree(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)
	a := addrFor("a")
	m.Add(a, true)
	m.Remove(a.PeerID, ReasonNotReachable)
	m.Remove(a.PeerID, ReasonNotReachable)
	require.Equal(t, 1, m.Size())
	m.Remove(a.PeerID, ReasonNotReachable)
	require.Equal(t, 0, m.Size())
}

func TestShutdownRemovesImmediately(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)
	a := addrFor("a")
	m.Add(a, true)
	m.Remove(a.PeerID, ReasonShutdown)
	require.Equal(t, 0, m.Size())
}

type recordingListener struct {
	inserted int
	removed  int
}

func (l *recordingListener) PeerInserted(kadid.PeerAddress)             { l.inserted++ }
func (l *recordingListener) PeerRemoved(kadid.ID, RemoveReason)         { l.removed++ }
func (l *recordingListener) PeerUpdated(kadid.PeerAddress)              {}

func TestListenersNotified(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	m := New(self, 2)
	l := &recordingListener{}
	m.Subscribe(l)
	a := addrFor("a")
	m.Add(a, true)
	m.Remove(a.PeerID, ReasonShutdown)
	require.Equal(t, 1, l.inserted)
	require.Equal(t, 1, l.removed)
}
