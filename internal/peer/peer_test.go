package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/control"
	"dhtcore/internal/kadid"
	"dhtcore/internal/rpcproto"
	"dhtcore/internal/storage"
)

func mkAddr(t *testing.T, label string) kadid.PeerAddress {
	t.Helper()
	return kadid.PeerAddress{
		PeerID:  kadid.HashID([]byte(label)),
		IP:      net.ParseIP("127.0.0.1"),
		TCPPort: 9000,
	}
}

func newTestPeer(t *testing.T, registry *rpcproto.LoopbackRegistry, label string) (*Peer, kadid.PeerAddress) {
	t.Helper()
	addr := mkAddr(t, label)
	cfg := DefaultConfig(addr, t.TempDir())
	transport := registry.Join(addr)
	p, err := New(cfg, transport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, addr
}

func TestBootstrapAndPing(t *testing.T) {
	registry := rpcproto.NewLoopbackNetwork()
	a, aAddr := newTestPeer(t, registry, "peer-a")
	b, bAddr := newTestPeer(t, registry, "peer-b")

	ctx := context.Background()
	require.NoError(t, a.Bootstrap(ctx, []kadid.PeerAddress{bAddr}))
	require.NoError(t, b.Ping(ctx, aAddr))

	require.NotEmpty(t, a.Peers())
	require.NotEmpty(t, b.Peers())
}

func TestPutThenGetAcrossPeers(t *testing.T) {
	registry := rpcproto.NewLoopbackNetwork()
	_, aAddr := newTestPeer(t, registry, "peer-put-a")
	b, _ := newTestPeer(t, registry, "peer-put-b")

	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, []kadid.PeerAddress{aAddr}))

	key := kadid.Key640{
		Location: kadid.HashID([]byte("loc")),
		Domain:   kadid.HashID([]byte("dom")),
		Content:  kadid.HashID([]byte("content")),
		Version:  kadid.HashID([]byte("v1")),
	}
	req := control.DataRequest{Payload: "aGVsbG8="}

	res, err := b.Put(ctx, key, req)
	require.NoError(t, err)
	require.Equal(t, storage.OK, res)

	got, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "aGVsbG8=", got.Payload)
}

func TestSendDirectRoundTrip(t *testing.T) {
	registry := rpcproto.NewLoopbackNetwork()
	_, aAddr := newTestPeer(t, registry, "peer-direct-a")
	b, _ := newTestPeer(t, registry, "peer-direct-b")

	ctx := context.Background()
	require.NoError(t, b.Bootstrap(ctx, []kadid.PeerAddress{aAddr}))

	responses, err := b.SendDirect(ctx, aAddr.PeerID, []byte("ping-payload"), false)
	require.NoError(t, err)
	require.NotEmpty(t, responses)
	require.Equal(t, []byte("ping-payload"), responses[0])
}

func TestRelayRoundTrip(t *testing.T) {
	registry := rpcproto.NewLoopbackNetwork()
	_, rAddr := newTestPeer(t, registry, "relay-r")

	cAddr := mkAddr(t, "relay-c")
	cCfg := DefaultConfig(cAddr, t.TempDir())
	cCfg.BehindFirewall = true
	cCfg.MinRelays = 1
	c, err := New(cCfg, registry.Join(cAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Bootstrap(ctx, []kadid.PeerAddress{rAddr}))

	status := c.RelayStatus()
	require.True(t, status.Advertised.Flags.Relayed)
	require.NotEmpty(t, status.Advertised.PeerSocketAddrs)

	a, _ := newTestPeer(t, registry, "relay-a")
	require.NoError(t, a.Ping(ctx, status.Advertised))
}

func TestShutdownClosesStore(t *testing.T) {
	registry := rpcproto.NewLoopbackNetwork()
	a, _ := newTestPeer(t, registry, "peer-shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
}
