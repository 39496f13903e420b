// Package rpcproto implements the RPC message envelope, the fixed set of
// request kinds, a pluggable Transport abstraction, and the channel-permit
// pools described in spec §4.4/§5/§6.
package rpcproto

import "errors"

// The named failure causes surfaced on completion handles, per spec §7.
var (
	ErrTimeout                  = errors.New("rpcproto: timeout")
	ErrChannelReservationFailed = errors.New("rpcproto: channel reservation failed")
	ErrPeerUnreachable          = errors.New("rpcproto: peer unreachable")
	ErrProtocolViolation        = errors.New("rpcproto: protocol violation")
	ErrSignatureInvalid         = errors.New("rpcproto: signature invalid")
	ErrShutdown                 = errors.New("rpcproto: peer is shutting down")
	ErrNoBroadcastAddress       = errors.New("rpcproto: no broadcast address configured")
	ErrIllegalArgument          = errors.New("rpcproto: illegal argument")
)
