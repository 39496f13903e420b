package rpcproto

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
)

func addr(name string) kadid.PeerAddress {
	return kadid.PeerAddress{PeerID: kadid.HashID([]byte(name)), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Command:     CmdPing,
		Type:        TypeRequest,
		MessageID:   42,
		Sender:      addr("sender"),
		RecipientID: kadid.HashID([]byte("recipient")),
		Payload:     []byte("hello"),
	}
	buf, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, env.Command, decoded.Command)
	require.Equal(t, env.MessageID, decoded.MessageID)
	require.Equal(t, env.Payload, decoded.Payload)
}

func TestDecodeEnvelopeRejectsBadMagic(t *testing.T) {
	_, err := DecodeEnvelope(make([]byte, 20))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestLoopbackTransportSendReceives(t *testing.T) {
	reg := NewLoopbackNetwork()
	serverAddr := addr("server")
	server := reg.Join(serverAddr)
	require.NoError(t, server.Listen(serverAddr.PeerID, func(ctx context.Context, from kadid.PeerAddress, req Envelope) (Envelope, error) {
		return Envelope{Command: CmdPing, Type: TypeOK, MessageID: req.MessageID, Sender: serverAddr, RecipientID: from.PeerID}, nil
	}))

	client := reg.Join(addr("client"))
	resp, err := client.Send(context.Background(), serverAddr, Envelope{Command: CmdPing, Type: TypeRequest, MessageID: 1, Sender: addr("client")})
	require.NoError(t, err)
	require.Equal(t, TypeOK, resp.Type)
}

func TestPermitPoolsAcquireRelease(t *testing.T) {
	pools := NewPermitPools(1, 1, 1)
	release, err := pools.Acquire(context.Background(), ChannelUDP)
	require.NoError(t, err)

	_, ok := pools.TryAcquire(ChannelUDP)
	require.False(t, ok)

	release()
	_, ok = pools.TryAcquire(ChannelUDP)
	require.True(t, ok)
}

func TestPendingRequestsResolve(t *testing.T) {
	p := NewPendingRequests()
	id, _, handle := p.Register()
	p.Resolve(id, Envelope{Command: CmdPing})
	env, err := handle.Await()
	require.NoError(t, err)
	require.Equal(t, CmdPing, env.Command)
}
