package peer

import (
	"context"
	"encoding/binary"
	"time"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
	"dhtcore/internal/peermap"
	"dhtcore/internal/routing"
	"dhtcore/internal/rpcproto"
	"dhtcore/internal/storage"
)

// routeToClosest implements dhtops.RouteFunc and replication's routing
// needs by delegating to the iterative routing algorithm, seeded from the
// local table and advanced by issuing NEIGHBORS RPCs.
func (p *Peer) routeToClosest(ctx context.Context, target kadid.ID) ([]kadid.PeerAddress, error) {
	res, err := routing.RouteToClosest(ctx, target, p.cfg.Routing, p.peers.ClosestPeers, p.neighborsRPC)
	if err != nil {
		return nil, err
	}
	return res.Peers, nil
}

func (p *Peer) neighborsRPC(ctx context.Context, peer kadid.PeerAddress, target kadid.ID) ([]kadid.PeerAddress, error) {
	payload := make([]byte, kadid.IDLen+1)
	copy(payload, target[:])
	payload[kadid.IDLen] = byte(p.cfg.Routing.K)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdNeighbors,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		p.peers.Remove(peer.PeerID, peermap.ReasonNotReachable)
		return nil, err
	}
	return decodeNeighbors(resp.Payload)
}

// send is the single outbound-RPC entrypoint: it reserves a channel
// permit, mints a correlation id via PendingRequests, issues the request
// over the transport, and resolves the completion handle spec §5 names
// every suspension point returns.
func (p *Peer) send(ctx context.Context, peer kadid.PeerAddress, kind rpcproto.ChannelKind, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	release, err := p.permits.Acquire(ctx, kind)
	if err != nil {
		return rpcproto.Envelope{}, err
	}
	defer release()

	id, wireID, handle := p.pending.Register()
	req.MessageID = wireID
	req.Sender = p.cfg.Self

	if peer.Flags.Relayed && len(peer.PeerSocketAddrs) > 0 {
		resp, err := p.sendViaRelay(ctx, peer, req)
		if err != nil {
			p.pending.Fail(id, err)
		} else {
			p.pending.Resolve(id, resp)
		}
		return handle.Await()
	}

	ctx, cancel := context.WithTimeout(ctx, p.rpcTimeout())
	defer cancel()

	resp, err := p.transport.Send(ctx, peer, req)
	if err != nil {
		p.pending.Fail(id, err)
	} else {
		p.pending.Resolve(id, resp)
	}
	return handle.Await()
}

func (p *Peer) rpcTimeout() time.Duration {
	if p.cfg.RPCTimeout <= 0 {
		return 10 * time.Second
	}
	return p.cfg.RPCTimeout
}

// sendViaRelay implements the sending side of spec §4.8 step 3, used when
// the target is a relayed (unreachable) peer:
// wrap the request as a RELAY/forward envelope addressed to the relay,
// targeting the ultimately-intended peer by RecipientID, and unwrap the
// forwarded reply.
func (p *Peer) sendViaRelay(ctx context.Context, peer kadid.PeerAddress, inner rpcproto.Envelope) (rpcproto.Envelope, error) {
	relayAddr := peer.PeerSocketAddrs[0]
	innerBuf, err := inner.Encode()
	if err != nil {
		return rpcproto.Envelope{}, err
	}
	outer := rpcproto.Envelope{
		Command:     rpcproto.CmdRelay,
		Type:        rpcproto.TypeRequest,
		Sender:      p.cfg.Self,
		RecipientID: peer.PeerID,
		Payload:     append([]byte{byte(rpcproto.RelayForward)}, innerBuf...),
	}
	resp, err := p.transport.Send(ctx, relayAddr, outer)
	if err != nil {
		return rpcproto.Envelope{}, err
	}
	if resp.Type == rpcproto.TypeFail || len(resp.Payload) == 0 {
		return rpcproto.Envelope{}, rpcproto.ErrPeerUnreachable
	}
	return rpcproto.DecodeEnvelope(resp.Payload)
}

// Put implements dhtops.PeerClient.
func (p *Peer) Put(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, d *codec.Data, publicKey []byte, putIfAbsent, claimDomain bool) (storage.Result, error) {
	sub := rpcproto.StorePut
	if putIfAbsent {
		sub = rpcproto.StoreAdd
	}
	dataBuf, err := codec.Encode(d)
	if err != nil {
		return storage.Failed, err
	}
	payload := make([]byte, 0, 1+1+len(key.Bytes())+2+len(publicKey)+len(dataBuf))
	payload = append(payload, byte(sub))
	payload = append(payload, boolByte(claimDomain))
	payload = append(payload, key.Bytes()...)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(publicKey)))
	payload = append(payload, publicKey...)
	payload = append(payload, dataBuf...)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return storage.Failed, err
	}
	return decodeStoreResult(resp.Payload)
}

// Get implements dhtops.PeerClient.
func (p *Peer) Get(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640) (*codec.Data, bool, error) {
	payload := make([]byte, 0, 1+len(key.Bytes()))
	payload = append(payload, byte(rpcproto.StoreGet))
	payload = append(payload, key.Bytes()...)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return nil, false, err
	}
	if resp.Type == rpcproto.TypeFail {
		return nil, false, nil
	}
	d, err := codec.DecodeFull(resp.Payload)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// GetRange implements dhtops.PeerClient by issuing STORE/DIGEST and, for
// each present key, a follow-up STORE/GET — acceptable for the bounded
// replication ranges the controller issues (whole-Location scans), not a
// general-purpose bulk transfer primitive.
func (p *Peer) GetRange(ctx context.Context, peer kadid.PeerAddress, from, to kadid.Key640) (map[kadid.Key640]*codec.Data, error) {
	dg, err := p.Digest(ctx, peer, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[kadid.Key640]*codec.Data, len(dg.Hashes))
	for key := range dg.Hashes {
		d, ok, err := p.Get(ctx, peer, key)
		if err != nil || !ok {
			continue
		}
		out[key] = d
	}
	return out, nil
}

// Remove implements dhtops.PeerClient.
func (p *Peer) Remove(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, publicKey []byte) (storage.Result, error) {
	payload := make([]byte, 0, 1+len(key.Bytes())+2+len(publicKey))
	payload = append(payload, byte(rpcproto.StoreRemove))
	payload = append(payload, key.Bytes()...)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(publicKey)))
	payload = append(payload, publicKey...)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return storage.Failed, err
	}
	return decodeStoreResult(resp.Payload)
}

// Digest implements dhtops.PeerClient.
func (p *Peer) Digest(ctx context.Context, peer kadid.PeerAddress, from, to kadid.Key640) (storage.Digest, error) {
	payload := make([]byte, 0, 1+len(from.Bytes())+len(to.Bytes()))
	payload = append(payload, byte(rpcproto.StoreDigest))
	payload = append(payload, from.Bytes()...)
	payload = append(payload, to.Bytes()...)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return storage.Digest{}, err
	}
	return decodeDigest(resp.Payload)
}

// GetRangeFiltered issues the bandwidth-saving "getRange(from, to,
// keyBloom, contentBloom)" overload: keyBloom/contentBloom (typically the
// filters this node got back from its own DigestWithBloom call over the
// same range) let peer skip entries it believes this node already holds.
// Nil filters behave like a plain GetRange.
func (p *Peer) GetRangeFiltered(ctx context.Context, peer kadid.PeerAddress, from, to kadid.Key640, keyBloom, contentBloom *bloomfilter.Filter) (map[kadid.Key640]*codec.Data, error) {
	keyBuf, err := encodeBloomFilter(keyBloom)
	if err != nil {
		return nil, err
	}
	contentBuf, err := encodeBloomFilter(contentBloom)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 1+len(from.Bytes())+len(to.Bytes())+len(keyBuf)+len(contentBuf))
	payload = append(payload, byte(rpcproto.StoreGetRangeFiltered))
	payload = append(payload, from.Bytes()...)
	payload = append(payload, to.Bytes()...)
	payload = append(payload, keyBuf...)
	payload = append(payload, contentBuf...)

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.Type == rpcproto.TypeFail {
		return nil, rpcproto.ErrPeerUnreachable
	}
	return decodeDataMap(resp.Payload)
}

// DigestKeys issues the set-based "digest({Key640})" overload, used to
// re-check a handful of specific keys (e.g. the ones a majority vote
// disagreed on) without scanning the range they fall in.
func (p *Peer) DigestKeys(ctx context.Context, peer kadid.PeerAddress, keys []kadid.Key640) (storage.Digest, error) {
	payload := make([]byte, 1, 1+4+len(keys)*key640Len)
	payload[0] = byte(rpcproto.StoreDigestKeys)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(keys)))
	for _, k := range keys {
		payload = append(payload, k.Bytes()...)
	}

	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdStore,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return storage.Digest{}, err
	}
	return decodeDigest(resp.Payload)
}

// Direct implements dhtops.PeerClient: an opaque passthrough RPC.
func (p *Peer) Direct(ctx context.Context, peer kadid.PeerAddress, payload []byte) ([]byte, error) {
	resp, err := p.send(ctx, peer, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdDirect,
		Type:        rpcproto.TypeRequest,
		RecipientID: peer.PeerID,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// SendPut implements replication.PeerSender: push one already-stored entry
// directly to peer without routing (the controller already knows the
// target), always as an unconditional PUT.
func (p *Peer) SendPut(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, d *codec.Data) error {
	_, err := p.Put(ctx, peer, key, d, d.PublicKey, false, false)
	return err
}

// Ping issues a PING RPC and reports whether the peer answered.
func (p *Peer) Ping(ctx context.Context, target kadid.PeerAddress) error {
	_, err := p.send(ctx, target, rpcproto.ChannelTCP, rpcproto.Envelope{
		Command:     rpcproto.CmdPing,
		Type:        rpcproto.TypeRequest,
		RecipientID: target.PeerID,
	})
	if err != nil {
		return err
	}
	p.peers.Add(target, true)
	return nil
}

func decodeNeighbors(payload []byte) ([]kadid.PeerAddress, error) {
	if len(payload) < 1 {
		return nil, rpcproto.ErrProtocolViolation
	}
	count := int(payload[0])
	out := make([]kadid.PeerAddress, 0, count)
	pos := 1
	for i := 0; i < count; i++ {
		addr, n, err := kadid.DecodePeerAddress(payload[pos:])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
		pos += n
	}
	return out, nil
}

func decodeStoreResult(payload []byte) (storage.Result, error) {
	if len(payload) < 1 {
		return storage.Failed, rpcproto.ErrProtocolViolation
	}
	return storage.Result(payload[0]), nil
}

func decodeDigest(payload []byte) (storage.Digest, error) {
	if len(payload) < 4 {
		return storage.Digest{}, rpcproto.ErrProtocolViolation
	}
	count := binary.BigEndian.Uint32(payload)
	pos := 4
	out := storage.Digest{Hashes: make(map[kadid.Key640][20]byte, count)}
	const keyLen = kadid.IDLen * 4
	for i := uint32(0); i < count; i++ {
		if len(payload) < pos+keyLen+20 {
			return storage.Digest{}, rpcproto.ErrProtocolViolation
		}
		key := kadid.Key640{
			Location: kadid.IDFromBytes(payload[pos : pos+kadid.IDLen]),
			Domain:   kadid.IDFromBytes(payload[pos+kadid.IDLen : pos+2*kadid.IDLen]),
			Content:  kadid.IDFromBytes(payload[pos+2*kadid.IDLen : pos+3*kadid.IDLen]),
			Version:  kadid.IDFromBytes(payload[pos+3*kadid.IDLen : pos+4*kadid.IDLen]),
		}
		pos += keyLen
		var h [20]byte
		copy(h[:], payload[pos:pos+20])
		pos += 20
		out.Hashes[key] = h
	}
	return out, nil
}

// encodeBloomFilter serializes f as a uint32-length-prefixed blob; a nil
// filter encodes as a zero length, decodeBloomFilter's "no filter" case.
func encodeBloomFilter(f *bloomfilter.Filter) ([]byte, error) {
	if f == nil {
		return binary.BigEndian.AppendUint32(nil, 0), nil
	}
	buf, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := binary.BigEndian.AppendUint32(nil, uint32(len(buf)))
	return append(out, buf...), nil
}

// decodeDataMap parses the count(4) + repeated [key640(80) + dataLen(4) +
// data] shape encodeDataMap produces.
func decodeDataMap(payload []byte) (map[kadid.Key640]*codec.Data, error) {
	if len(payload) < 4 {
		return nil, rpcproto.ErrProtocolViolation
	}
	count := binary.BigEndian.Uint32(payload)
	pos := 4
	out := make(map[kadid.Key640]*codec.Data, count)
	for i := uint32(0); i < count; i++ {
		if len(payload) < pos+key640Len+4 {
			return nil, rpcproto.ErrProtocolViolation
		}
		key, _, ok := decodeKey640(payload[pos:])
		if !ok {
			return nil, rpcproto.ErrProtocolViolation
		}
		pos += key640Len
		dataLen := int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		if len(payload) < pos+dataLen {
			return nil, rpcproto.ErrProtocolViolation
		}
		d, err := codec.DecodeFull(payload[pos : pos+dataLen])
		if err != nil {
			return nil, err
		}
		pos += dataLen
		out[key] = d
	}
	return out, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
