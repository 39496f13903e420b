package kadid

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXorDistanceAndBitLen(t *testing.T) {
	a := HashID([]byte("peer-a"))
	b := HashID([]byte("peer-b"))

	d := a.Xor(b)
	require.Equal(t, a.Xor(b), d)
	require.True(t, d.BitLen() <= 160)
	require.Equal(t, 0, Zero.BitLen())
}

func TestDistanceLessTieBreak(t *testing.T) {
	target := HashID([]byte("target"))
	id := IDFromBytes([]byte{0x01})
	other := IDFromBytes([]byte{0x01})
	require.False(t, DistanceLess(target, id, other))
	require.False(t, DistanceLess(target, other, id))
}

func TestKey640Ordering(t *testing.T) {
	loc := HashID([]byte("loc"))
	k1 := Key640{Location: loc, Domain: Zero, Content: Zero, Version: IDFromBytes([]byte{1})}
	k2 := Key640{Location: loc, Domain: Zero, Content: Zero, Version: IDFromBytes([]byte{2})}
	require.True(t, k1.Less(k2))
	require.Equal(t, 3, SharedPrefixLen(k1, k2))
	require.True(t, InRange(k1, k1, k2))
	require.True(t, InRange(k2, k1, k2))
}

func TestPeerAddressRoundTrip(t *testing.T) {
	relay := PeerAddress{
		PeerID:  HashID([]byte("relay")),
		IP:      net.ParseIP("10.0.0.2"),
		TCPPort: 4001,
		UDPPort: 4001,
	}
	addr := PeerAddress{
		PeerID:          HashID([]byte("unreachable")),
		IP:              net.ParseIP("10.0.0.1"),
		TCPPort:         4000,
		UDPPort:         4000,
		Flags:           AddrFlags{Relayed: true, FirewalledTCP: true},
		PeerSocketAddrs: []PeerAddress{relay},
	}

	encoded, err := addr.Encode()
	require.NoError(t, err)

	decoded, n, err := DecodePeerAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, addr.PeerID, decoded.PeerID)
	require.True(t, addr.IP.Equal(decoded.IP))
	require.Equal(t, addr.TCPPort, decoded.TCPPort)
	require.Equal(t, addr.Flags, decoded.Flags)
	require.Len(t, decoded.PeerSocketAddrs, 1)
	require.Equal(t, relay.PeerID, decoded.PeerSocketAddrs[0].PeerID)
}

func TestIDFromHexRoundTrip(t *testing.T) {
	id := HashID([]byte("round-trip"))
	parsed, err := IDFromHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = IDFromHex("not-hex")
	require.Error(t, err)

	_, err = IDFromHex("aabb")
	require.Error(t, err)
}

func TestTooManyRelaysRejected(t *testing.T) {
	addr := PeerAddress{PeerID: HashID([]byte("p")), IP: net.ParseIP("127.0.0.1"), Flags: AddrFlags{Relayed: true}}
	for i := 0; i < MaxRelays+1; i++ {
		addr.PeerSocketAddrs = append(addr.PeerSocketAddrs, PeerAddress{PeerID: HashID([]byte{byte(i)}), IP: net.ParseIP("127.0.0.1")})
	}
	_, err := addr.Encode()
	require.ErrorIs(t, err, ErrTooManyRelays)
}
