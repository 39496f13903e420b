package peer

import (
	"context"

	"dhtcore/internal/control"
	"dhtcore/internal/kadid"
	"dhtcore/internal/rpcproto"
	"dhtcore/internal/storage"
)

// The methods in this file satisfy control.Node, letting internal/control
// mount an HTTP router directly over a *Peer without control importing
// this package (control.Node is declared there precisely to avoid that
// cycle).
var _ control.Node = (*Peer)(nil)

func (p *Peer) Put(ctx context.Context, key kadid.Key640, req control.DataRequest) (storage.Result, error) {
	d, publicKey, err := req.ToData()
	if err != nil {
		return storage.Failed, err
	}
	return p.ops.Put(ctx, key, d, publicKey, false, req.ClaimDomain)
}

func (p *Peer) Add(ctx context.Context, key kadid.Key640, req control.DataRequest) (storage.Result, error) {
	d, publicKey, err := req.ToData()
	if err != nil {
		return storage.Failed, err
	}
	return p.ops.Add(ctx, key, d, publicKey, req.ClaimDomain)
}

func (p *Peer) Get(ctx context.Context, key kadid.Key640) (*control.DataResponse, bool, error) {
	d, ok, err := p.ops.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	resp := control.NewDataResponse(d)
	return &resp, true, nil
}

func (p *Peer) Remove(ctx context.Context, key kadid.Key640, publicKey []byte) (storage.Result, error) {
	return p.ops.Remove(ctx, key, publicKey)
}

func (p *Peer) Digest(ctx context.Context, from, to kadid.Key640) (storage.Digest, error) {
	return p.ops.Digest(ctx, from, to)
}

func (p *Peer) SendDirect(ctx context.Context, target kadid.ID, payload []byte, cancelOnFinish bool) ([][]byte, error) {
	return p.ops.SendDirect(ctx, target, payload, cancelOnFinish)
}

// Broadcast issues the minimal out-of-scope-per-spec broadcast: flood the
// payload, once, to every peer currently known to this node. It is
// intentionally not a reliable or deduplicated gossip protocol.
func (p *Peer) Broadcast(ctx context.Context, payload []byte) error {
	targets := p.peers.All()
	if len(targets) == 0 {
		return rpcproto.ErrNoBroadcastAddress
	}
	for _, target := range targets {
		go func(t kadid.PeerAddress) {
			_, _ = p.send(context.Background(), t, rpcproto.ChannelUDP, rpcproto.Envelope{
				Command:     rpcproto.CmdBroadcast,
				Type:        rpcproto.TypeRequest,
				RecipientID: t.PeerID,
				Payload:     payload,
			})
		}(target)
	}
	return nil
}

func (p *Peer) Shutdown(ctx context.Context) error {
	for _, target := range p.peers.All() {
		_, _ = p.send(ctx, target, rpcproto.ChannelTCP, rpcproto.Envelope{
			Command:     rpcproto.CmdQuit,
			Type:        rpcproto.TypeRequest,
			RecipientID: target.PeerID,
		})
	}
	return p.Close()
}

func (p *Peer) Peers() []kadid.PeerAddress {
	return p.peers.All()
}

func (p *Peer) OverflowPeers() []kadid.PeerAddress {
	return p.peers.AllOverflow()
}

func (p *Peer) StorageEntryCount() int {
	dg, err := p.store.Digest(kadid.Key640{}, kadid.Key640{Location: kadid.Max, Domain: kadid.Max, Content: kadid.Max, Version: kadid.Max})
	if err != nil {
		return 0
	}
	return len(dg.Hashes)
}

func (p *Peer) RelayStatus() control.RelayStatus {
	status := control.RelayStatus{
		BehindFirewall: p.cfg.BehindFirewall,
		Advertised:     p.cfg.Self,
	}
	if p.relayCli != nil {
		status.Advertised = p.relayCli.AdvertisedAddress(p.cfg.Self)
		status.Relays = status.Advertised.PeerSocketAddrs
	}
	return status
}
