// Package control implements the gin-gonic/gin control-plane HTTP API
// (spec §6 "Process interface") fronting a running node's Peer handle,
// directly adapted from the teacher's internal/api/{handlers,middleware}.go
// Gin router/group layout, generalized from the teacher's single flat
// key-value namespace to the four-coordinate Key640 route shape.
package control

import (
	"context"

	"dhtcore/internal/kadid"
	"dhtcore/internal/storage"
)

// RelayStatus reports the outcome of the relay subsystem for /relay/status
// (spec §6).
type RelayStatus struct {
	BehindFirewall bool                `json:"behindFirewall"`
	Advertised     kadid.PeerAddress   `json:"advertised"`
	Relays         []kadid.PeerAddress `json:"relays"`
}

// Node is the subset of the top-level Peer handle's operations (spec §6
// "Process interface": bootstrap, ping, put, add, get, remove, digest,
// sendDirect, broadcast, shutdown) that the control-plane API dispatches
// to. Defined here, rather than importing internal/peer, so internal/peer
// can depend on internal/control without an import cycle.
type Node interface {
	Bootstrap(ctx context.Context, seeds []kadid.PeerAddress) error
	Ping(ctx context.Context, target kadid.PeerAddress) error
	Put(ctx context.Context, key kadid.Key640, req DataRequest) (storage.Result, error)
	Add(ctx context.Context, key kadid.Key640, req DataRequest) (storage.Result, error)
	Get(ctx context.Context, key kadid.Key640) (*DataResponse, bool, error)
	Remove(ctx context.Context, key kadid.Key640, publicKey []byte) (storage.Result, error)
	Digest(ctx context.Context, from, to kadid.Key640) (storage.Digest, error)
	SendDirect(ctx context.Context, target kadid.ID, payload []byte, cancelOnFinish bool) ([][]byte, error)
	Broadcast(ctx context.Context, payload []byte) error
	Shutdown(ctx context.Context) error

	Peers() []kadid.PeerAddress
	OverflowPeers() []kadid.PeerAddress
	StorageEntryCount() int
	RelayStatus() RelayStatus
}
