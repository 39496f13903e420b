package relay

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
	"dhtcore/internal/rpcproto"
)

func mkAddr(name string) kadid.PeerAddress {
	return kadid.PeerAddress{PeerID: kadid.HashID([]byte(name)), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
}

type fakeConn struct {
	closed  bool
	reply   rpcproto.Envelope
	forward func(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error)
}

func (f *fakeConn) Forward(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	if f.forward != nil {
		return f.forward(ctx, req)
	}
	return f.reply, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestForwarderRegisterAndForward(t *testing.T) {
	f := NewForwarder()
	target := kadid.HashID([]byte("unreachable"))
	conn := &fakeConn{reply: rpcproto.Envelope{Command: rpcproto.CmdPing, Type: rpcproto.TypeOK}}
	f.Register(target, conn)

	resp, err := f.RelayForwarderRPC(context.Background(), target, rpcproto.Envelope{Command: rpcproto.CmdPing})
	require.NoError(t, err)
	require.Equal(t, rpcproto.TypeOK, resp.Type)
}

func TestForwarderUnknownPeer(t *testing.T) {
	f := NewForwarder()
	_, err := f.RelayForwarderRPC(context.Background(), kadid.HashID([]byte("nobody")), rpcproto.Envelope{})
	require.ErrorIs(t, err, ErrNoSession)
}

func TestForwarderUnregisterClosesConn(t *testing.T) {
	f := NewForwarder()
	target := kadid.HashID([]byte("unreachable"))
	conn := &fakeConn{}
	f.Register(target, conn)
	f.Unregister(target)

	require.True(t, conn.closed)
	require.False(t, f.IsRegistered(target))
}

func TestClientEstablishRelaysSucceedsAboveMinRelays(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	selfAddr := mkAddr("self")
	var notified kadid.PeerAddress
	client := NewClient(self, 2, func(ctx context.Context, cand, self kadid.PeerAddress) (Conn, error) {
		return &fakeConn{}, nil
	}, func(addr kadid.PeerAddress) { notified = addr })

	candidates := []kadid.PeerAddress{mkAddr("r1"), mkAddr("r2"), mkAddr("r3")}
	err := client.EstablishRelays(context.Background(), selfAddr, candidates)
	require.NoError(t, err)
	require.Equal(t, 3, client.RelayCount())
	require.True(t, notified.Flags.Relayed)
	require.Len(t, notified.PeerSocketAddrs, 3)
}

func TestClientEstablishRelaysFailsBelowMinRelays(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	selfAddr := mkAddr("self")
	client := NewClient(self, 2, func(ctx context.Context, cand, self kadid.PeerAddress) (Conn, error) {
		return nil, errors.New("refused")
	}, nil)

	err := client.EstablishRelays(context.Background(), selfAddr, []kadid.PeerAddress{mkAddr("r1")})
	require.ErrorIs(t, err, ErrInsufficientRelays)
}

func TestClientHandleFailureReselects(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	selfAddr := mkAddr("self")
	r1, r2 := mkAddr("r1"), mkAddr("r2")
	client := NewClient(self, 1, func(ctx context.Context, cand, self kadid.PeerAddress) (Conn, error) {
		return &fakeConn{}, nil
	}, nil)

	require.NoError(t, client.EstablishRelays(context.Background(), selfAddr, []kadid.PeerAddress{r1}))
	require.Equal(t, 1, client.RelayCount())

	err := client.HandleFailure(context.Background(), selfAddr, r1.PeerID, []kadid.PeerAddress{r2})
	require.NoError(t, err)
	require.Equal(t, 1, client.RelayCount())
}

func TestAdvertisedAddressCapsAtMaxRelays(t *testing.T) {
	self := kadid.HashID([]byte("self"))
	selfAddr := mkAddr("self")
	client := NewClient(self, 1, func(ctx context.Context, cand, self kadid.PeerAddress) (Conn, error) {
		return &fakeConn{}, nil
	}, nil)

	candidates := make([]kadid.PeerAddress, 0, kadid.MaxRelays+3)
	for i := 0; i < kadid.MaxRelays+3; i++ {
		candidates = append(candidates, mkAddr(string(rune('a'+i))))
	}
	require.NoError(t, client.EstablishRelays(context.Background(), selfAddr, candidates))
	require.LessOrEqual(t, client.RelayCount(), kadid.MaxRelays)

	advertised := client.AdvertisedAddress(selfAddr)
	require.LessOrEqual(t, len(advertised.PeerSocketAddrs), kadid.MaxRelays)
}
