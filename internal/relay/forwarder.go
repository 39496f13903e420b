// Package relay implements the NAT relaying subsystem (spec §4.8): a relay
// peer's forwarder half (RELAY-SETUP registration + RelayForwarderRPC) and
// an unreachable peer's client half (relay selection, failure handling,
// advertised-address rewriting). Grounded on the peer-map-plus-forwarding
// shape of ipxtransporter's relay/server.go (Server.peers +
// broadcastToPeers), generalized from broadcast-to-all-peers to
// targeted-forward-to-one-registered-peer.
package relay

import (
	"context"
	"errors"
	"sync"

	"dhtcore/internal/kadid"
	"dhtcore/internal/rpcproto"
)

// ErrNoSession is returned when forwarding is attempted for a peer that
// never registered (or has since been unregistered).
var ErrNoSession = errors.New("relay: no registered session for peer")

// Conn is the long-lived connection a relay holds open to a registered
// unreachable peer (spec §4.8 step 2: "it opens a long-lived TCP
// connection and registers via RELAY-SETUP"). Forward carries one RPC
// destined for that peer over the connection and returns its reply.
type Conn interface {
	Forward(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error)
	Close() error
}

// Forwarder is the relay-side half of the subsystem: it tracks registered
// unreachable peers and answers RelayForwarderRPC on their behalf.
type Forwarder struct {
	mu       sync.RWMutex
	sessions map[kadid.ID]Conn
}

// NewForwarder constructs an empty Forwarder.
func NewForwarder() *Forwarder {
	return &Forwarder{sessions: make(map[kadid.ID]Conn)}
}

// Register installs conn as the forwarding path for peerID, implementing
// the relay side of RELAY-SETUP (spec §4.8 step 2). A prior session for
// the same peerID is closed and replaced.
func (f *Forwarder) Register(peerID kadid.ID, conn Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.sessions[peerID]; ok {
		_ = old.Close()
	}
	f.sessions[peerID] = conn
}

// Unregister drops peerID's session, e.g. on connection loss.
func (f *Forwarder) Unregister(peerID kadid.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.sessions[peerID]; ok {
		_ = conn.Close()
		delete(f.sessions, peerID)
	}
}

// IsRegistered reports whether peerID currently has an active session.
func (f *Forwarder) IsRegistered(peerID kadid.ID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.sessions[peerID]
	return ok
}

// RelayForwarderRPC implements spec §4.8 step 3: on receiving any request
// destined for peerID, forward it over the established connection and
// relay the response back.
func (f *Forwarder) RelayForwarderRPC(ctx context.Context, peerID kadid.ID, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	f.mu.RLock()
	conn, ok := f.sessions[peerID]
	f.mu.RUnlock()
	if !ok {
		return rpcproto.Envelope{}, ErrNoSession
	}
	return conn.Forward(ctx, req)
}

// AnswerNeighborsFor implements spec §4.8 step 5: the relay exposes the
// unreachable peer to iterative routing by answering NEIGHBORS on its
// behalf from the relay's own neighborhood.
func (f *Forwarder) AnswerNeighborsFor(peerID kadid.ID, relayNeighbors []kadid.PeerAddress) []kadid.PeerAddress {
	if !f.IsRegistered(peerID) {
		return nil
	}
	return relayNeighbors
}
