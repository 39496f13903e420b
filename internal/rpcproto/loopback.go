package rpcproto

import (
	"context"
	"fmt"
	"sync"

	"dhtcore/internal/kadid"
)

// LoopbackTransport wires multiple in-process peers together by peer ID,
// standing in for a real socket Transport in tests and in the
// --simulate run mode of the node process, grounded on the
// network/simulation style in-process harnesses used across the
// ethereum-go-ethereum example tree.
type LoopbackTransport struct {
	mu        sync.RWMutex
	listeners map[kadid.ID]Dispatcher
	self      kadid.PeerAddress
}

// NewLoopbackNetwork creates a shared registry; call Join for each peer
// that should be reachable on it.
func NewLoopbackNetwork() *LoopbackRegistry {
	return &LoopbackRegistry{listeners: make(map[kadid.ID]Dispatcher)}
}

// LoopbackRegistry is the shared switchboard multiple LoopbackTransport
// instances attach to.
type LoopbackRegistry struct {
	mu        sync.RWMutex
	listeners map[kadid.ID]Dispatcher
}

// Join returns a Transport bound to self within this registry.
func (r *LoopbackRegistry) Join(self kadid.PeerAddress) *LoopbackTransport {
	return &LoopbackTransport{listeners: r.listeners, self: self}
}

func (t *LoopbackTransport) Listen(self kadid.ID, handler Dispatcher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[self] = handler
	return nil
}

func (t *LoopbackTransport) Send(ctx context.Context, to kadid.PeerAddress, req Envelope) (Envelope, error) {
	t.mu.RLock()
	handler, ok := t.listeners[to.PeerID]
	t.mu.RUnlock()
	if !ok {
		return Envelope{}, ErrPeerUnreachable
	}
	select {
	case <-ctx.Done():
		return Envelope{}, ErrTimeout
	default:
	}
	resp, err := handler(ctx, t.self, req)
	if err != nil {
		return Envelope{}, fmt.Errorf("rpcproto: dispatch: %w", err)
	}
	return resp, nil
}

func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, t.self.PeerID)
	return nil
}

var _ Transport = (*LoopbackTransport)(nil)
