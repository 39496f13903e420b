package peer

import (
	"context"
	"encoding/binary"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
	"dhtcore/internal/peermap"
	"dhtcore/internal/rpcproto"
	"dhtcore/internal/storage"
)

// dispatch is the rpcproto.Dispatcher bound to this Peer's transport
// listener: every inbound Envelope is routed here by Command, mirroring
// the request-family list of spec §4.4.
func (p *Peer) dispatch(ctx context.Context, from kadid.PeerAddress, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	p.peers.Add(from, true)

	switch req.Command {
	case rpcproto.CmdPing:
		return p.ok(req, nil), nil
	case rpcproto.CmdStore:
		return p.dispatchStore(req)
	case rpcproto.CmdNeighbors:
		return p.dispatchNeighbors(req)
	case rpcproto.CmdDirect:
		return p.ok(req, req.Payload), nil
	case rpcproto.CmdQuit:
		p.peers.Remove(req.Sender.PeerID, peermap.ReasonShutdown)
		return p.ok(req, nil), nil
	case rpcproto.CmdPeerExchange:
		return p.dispatchNeighbors(req)
	case rpcproto.CmdBroadcast:
		return p.dispatchBroadcast(ctx, from, req)
	case rpcproto.CmdRelay:
		return p.dispatchRelay(ctx, req)
	default:
		return p.fail(req), nil
	}
}

func (p *Peer) ok(req rpcproto.Envelope, payload []byte) rpcproto.Envelope {
	return rpcproto.Envelope{
		Command:     req.Command,
		Type:        rpcproto.TypeOK,
		MessageID:   req.MessageID,
		Sender:      p.cfg.Self,
		RecipientID: req.Sender.PeerID,
		Payload:     payload,
	}
}

func (p *Peer) fail(req rpcproto.Envelope) rpcproto.Envelope {
	return rpcproto.Envelope{
		Command:     req.Command,
		Type:        rpcproto.TypeFail,
		MessageID:   req.MessageID,
		Sender:      p.cfg.Self,
		RecipientID: req.Sender.PeerID,
	}
}

func (p *Peer) dispatchNeighbors(req rpcproto.Envelope) (rpcproto.Envelope, error) {
	if len(req.Payload) < kadid.IDLen+1 {
		return p.fail(req), nil
	}
	target := kadid.IDFromBytes(req.Payload[:kadid.IDLen])
	k := int(req.Payload[kadid.IDLen])
	if k <= 0 {
		k = p.cfg.Routing.K
	}
	neighbors := p.peers.ClosestPeers(target, k)
	if p.forwarder != nil {
		neighbors = append(neighbors, p.relayedNeighbors(target, k)...)
	}
	return p.ok(req, encodeNeighbors(neighbors)), nil
}

// relayedNeighbors answers on behalf of any unreachable peer this node is
// currently forwarding for (spec §4.8 step 5).
func (p *Peer) relayedNeighbors(target kadid.ID, k int) []kadid.PeerAddress {
	var out []kadid.PeerAddress
	for _, candidate := range p.peers.ClosestPeers(target, k) {
		if p.forwarder.IsRegistered(candidate.PeerID) {
			out = append(out, candidate)
		}
	}
	return out
}

func (p *Peer) dispatchStore(req rpcproto.Envelope) (rpcproto.Envelope, error) {
	if len(req.Payload) < 1 {
		return p.fail(req), nil
	}
	sub := rpcproto.StoreSubCommand(req.Payload[0])
	body := req.Payload[1:]

	switch sub {
	case rpcproto.StorePut, rpcproto.StoreAdd:
		return p.dispatchStorePut(req, sub, body)
	case rpcproto.StoreGet:
		return p.dispatchStoreGet(req, body)
	case rpcproto.StoreRemove:
		return p.dispatchStoreRemove(req, body)
	case rpcproto.StoreDigest:
		return p.dispatchStoreDigest(req, body)
	case rpcproto.StoreGetRangeFiltered:
		return p.dispatchStoreGetRangeFiltered(req, body)
	case rpcproto.StoreDigestKeys:
		return p.dispatchStoreDigestKeys(req, body)
	default:
		return p.fail(req), nil
	}
}

const key640Len = kadid.IDLen * 4

func decodeKey640(b []byte) (kadid.Key640, []byte, bool) {
	if len(b) < key640Len {
		return kadid.Key640{}, nil, false
	}
	key := kadid.Key640{
		Location: kadid.IDFromBytes(b[0*kadid.IDLen : 1*kadid.IDLen]),
		Domain:   kadid.IDFromBytes(b[1*kadid.IDLen : 2*kadid.IDLen]),
		Content:  kadid.IDFromBytes(b[2*kadid.IDLen : 3*kadid.IDLen]),
		Version:  kadid.IDFromBytes(b[3*kadid.IDLen : 4*kadid.IDLen]),
	}
	return key, b[key640Len:], true
}

func (p *Peer) dispatchStorePut(req rpcproto.Envelope, sub rpcproto.StoreSubCommand, body []byte) (rpcproto.Envelope, error) {
	if len(body) < 1 {
		return p.fail(req), nil
	}
	claimDomain := body[0] != 0
	body = body[1:]
	key, body, ok := decodeKey640(body)
	if !ok || len(body) < 2 {
		return p.fail(req), nil
	}
	pubKeyLen := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < pubKeyLen {
		return p.fail(req), nil
	}
	publicKey := body[:pubKeyLen]
	dataBuf := body[pubKeyLen:]

	d, err := codec.DecodeFull(dataBuf)
	if err != nil {
		return p.fail(req), nil
	}
	res := p.store.Put(key, d, publicKey, sub == rpcproto.StoreAdd, claimDomain)
	return p.ok(req, []byte{byte(res)}), nil
}

func (p *Peer) dispatchStoreGet(req rpcproto.Envelope, body []byte) (rpcproto.Envelope, error) {
	key, _, ok := decodeKey640(body)
	if !ok {
		return p.fail(req), nil
	}
	d, found := p.store.Get(key)
	if !found {
		return p.fail(req), nil
	}
	buf, err := codec.Encode(d)
	if err != nil {
		return p.fail(req), nil
	}
	return p.ok(req, buf), nil
}

func (p *Peer) dispatchStoreRemove(req rpcproto.Envelope, body []byte) (rpcproto.Envelope, error) {
	key, body, ok := decodeKey640(body)
	if !ok || len(body) < 2 {
		return p.fail(req), nil
	}
	pubKeyLen := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < pubKeyLen {
		return p.fail(req), nil
	}
	res := p.store.Remove(key, body[:pubKeyLen])
	return p.ok(req, []byte{byte(res)}), nil
}

func (p *Peer) dispatchStoreDigest(req rpcproto.Envelope, body []byte) (rpcproto.Envelope, error) {
	from, body, ok := decodeKey640(body)
	if !ok {
		return p.fail(req), nil
	}
	to, _, ok := decodeKey640(body)
	if !ok {
		return p.fail(req), nil
	}
	dg, err := p.store.Digest(from, to)
	if err != nil {
		return p.fail(req), nil
	}
	return p.ok(req, encodeDigest(dg)), nil
}

// dispatchStoreGetRangeFiltered answers the bandwidth-saving
// "getRange(from, to, keyBloom, contentBloom)" overload: the request
// carries two length-prefixed, possibly-empty bloom filters describing
// what the caller believes it already holds, and the reply omits any
// entry those filters say the caller probably already has.
func (p *Peer) dispatchStoreGetRangeFiltered(req rpcproto.Envelope, body []byte) (rpcproto.Envelope, error) {
	from, body, ok := decodeKey640(body)
	if !ok {
		return p.fail(req), nil
	}
	to, body, ok := decodeKey640(body)
	if !ok {
		return p.fail(req), nil
	}
	keyBloom, body, ok := decodeBloomFilter(body)
	if !ok {
		return p.fail(req), nil
	}
	contentBloom, _, ok := decodeBloomFilter(body)
	if !ok {
		return p.fail(req), nil
	}
	entries, err := p.store.GetRangeFiltered(from, to, keyBloom, contentBloom)
	if err != nil {
		return p.fail(req), nil
	}
	buf, err := encodeDataMap(entries)
	if err != nil {
		return p.fail(req), nil
	}
	return p.ok(req, buf), nil
}

// dispatchStoreDigestKeys answers the set-based "digest({Key640})"
// overload, reusing encodeDigest's wire shape for the reply since a
// key-set digest and a range digest are structurally identical once
// computed.
func (p *Peer) dispatchStoreDigestKeys(req rpcproto.Envelope, body []byte) (rpcproto.Envelope, error) {
	keys, ok := decodeKey640List(body)
	if !ok {
		return p.fail(req), nil
	}
	dg, err := p.store.DigestKeys(keys)
	if err != nil {
		return p.fail(req), nil
	}
	return p.ok(req, encodeDigest(dg)), nil
}

// decodeBloomFilter reads a uint32-length-prefixed, possibly-empty
// serialized bloom filter. A zero length means "no filter", matching
// Store.GetRangeFiltered's nil-means-unfiltered contract.
func decodeBloomFilter(b []byte) (*bloomfilter.Filter, []byte, bool) {
	if len(b) < 4 {
		return nil, nil, false
	}
	n := int(binary.BigEndian.Uint32(b))
	b = b[4:]
	if len(b) < n {
		return nil, nil, false
	}
	if n == 0 {
		return nil, b, true
	}
	f := new(bloomfilter.Filter)
	if err := f.UnmarshalBinary(b[:n]); err != nil {
		return nil, nil, false
	}
	return f, b[n:], true
}

func decodeKey640List(b []byte) ([]kadid.Key640, bool) {
	if len(b) < 4 {
		return nil, false
	}
	count := binary.BigEndian.Uint32(b)
	b = b[4:]
	out := make([]kadid.Key640, 0, count)
	for i := uint32(0); i < count; i++ {
		key, rest, ok := decodeKey640(b)
		if !ok {
			return nil, false
		}
		out = append(out, key)
		b = rest
	}
	return out, true
}

// encodeDataMap serializes entries as count(4) + repeated
// [key640(80) + dataLen(4) + codec.Encode(d)], the shape
// dispatchStoreGetRangeFiltered's reply and decodeDataMap share.
func encodeDataMap(entries map[kadid.Key640]*codec.Data) ([]byte, error) {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(len(entries)))
	for key, d := range entries {
		buf, err := codec.Encode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, key.Bytes()...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(buf)))
		out = append(out, buf...)
	}
	return out, nil
}

func encodeNeighbors(peers []kadid.PeerAddress) []byte {
	if len(peers) > 255 {
		peers = peers[:255]
	}
	out := []byte{byte(len(peers))}
	for _, addr := range peers {
		buf, err := addr.Encode()
		if err != nil {
			continue
		}
		out = append(out, buf...)
	}
	return out
}

func encodeDigest(dg storage.Digest) []byte {
	out := make([]byte, 4, 4+len(dg.Hashes)*(key640Len+20))
	binary.BigEndian.PutUint32(out, uint32(len(dg.Hashes)))
	for key, hash := range dg.Hashes {
		out = append(out, key.Bytes()...)
		out = append(out, hash[:]...)
	}
	return out
}

// dispatchBroadcast is the receiving side of BROADCAST: it acknowledges
// the message and neither acts on the payload nor forwards it. The
// single-hop flood to every known peer happens on the sending side, in
// Peer.Broadcast; gossip fanout, dedup and retries are not implemented.
func (p *Peer) dispatchBroadcast(ctx context.Context, from kadid.PeerAddress, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	return p.ok(req, nil), nil
}

func (p *Peer) dispatchRelay(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	if len(req.Payload) < 1 {
		return p.fail(req), nil
	}
	sub := rpcproto.RelaySubCommand(req.Payload[0])
	body := req.Payload[1:]

	switch sub {
	case rpcproto.RelayRegister:
		p.forwarder.Register(req.Sender.PeerID, &loopbackRelayConn{peer: p, target: req.Sender})
		return p.ok(req, nil), nil
	case rpcproto.RelayForward:
		inner, err := rpcproto.DecodeEnvelope(body)
		if err != nil {
			return p.fail(req), nil
		}
		resp, err := p.forwarder.RelayForwarderRPC(ctx, req.RecipientID, inner)
		if err != nil {
			return p.fail(req), nil
		}
		respBuf, err := resp.Encode()
		if err != nil {
			return p.fail(req), nil
		}
		return p.ok(req, respBuf), nil
	default:
		return p.fail(req), nil
	}
}

// loopbackRelayConn implements relay.Conn by re-dispatching forwarded
// envelopes straight into the registered peer's own Peer.dispatch, the
// in-process stand-in for "open a long-lived connection to the peer"
// (spec §4.8 step 2) when relay and relayed peer share a process, as in
// simulation/test runs over rpcproto.LoopbackTransport.
type loopbackRelayConn struct {
	peer   *Peer
	target kadid.PeerAddress
}

func (c *loopbackRelayConn) Forward(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	return c.peer.transport.Send(ctx, c.target, req)
}

func (c *loopbackRelayConn) Close() error { return nil }
