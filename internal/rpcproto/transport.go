package rpcproto

import (
	"context"

	"dhtcore/internal/kadid"
)

// Dispatcher handles an inbound Envelope and produces the response
// envelope to send back.
type Dispatcher func(ctx context.Context, from kadid.PeerAddress, req Envelope) (Envelope, error)

// Transport is the external collaborator named in spec §1 ("the raw
// transport (UDP/TCP socket multiplexing)"): anything satisfying this
// interface can carry Envelopes between peers. This repo ships one
// concrete Transport, LoopbackTransport, used by every test and by
// simulation mode.
type Transport interface {
	Send(ctx context.Context, to kadid.PeerAddress, req Envelope) (Envelope, error)
	Listen(self kadid.ID, handler Dispatcher) error
	Close() error
}

// ChannelKind distinguishes the three permit pools spec §5/§6 name:
// permanent TCP, one-shot TCP, and UDP.
type ChannelKind int

const (
	ChannelPermanentTCP ChannelKind = iota
	ChannelTCP
	ChannelUDP
)
