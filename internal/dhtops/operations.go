package dhtops

import (
	"context"

	"golang.org/x/sync/errgroup"

	"dhtcore/internal/codec"
	"dhtcore/internal/future"
	"dhtcore/internal/kadid"
	"dhtcore/internal/storage"
)

// RouteFunc runs iterative routing to target and returns the peers judged
// closest, matching routing.RouteToClosest's return shape without this
// package depending on the routing package directly (keeps dhtops
// testable with a stub router).
type RouteFunc func(ctx context.Context, target kadid.ID) ([]kadid.PeerAddress, error)

// PeerClient issues the operation RPCs named in spec §4.4 against a single
// peer; the RPC-layer implementation backs this with rpcproto.Transport.
type PeerClient interface {
	Put(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, d *codec.Data, publicKey []byte, putIfAbsent, claimDomain bool) (storage.Result, error)
	Get(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640) (*codec.Data, bool, error)
	GetRange(ctx context.Context, peer kadid.PeerAddress, from, to kadid.Key640) (map[kadid.Key640]*codec.Data, error)
	Remove(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, publicKey []byte) (storage.Result, error)
	Digest(ctx context.Context, peer kadid.PeerAddress, from, to kadid.Key640) (storage.Digest, error)
	Direct(ctx context.Context, peer kadid.PeerAddress, payload []byte) ([]byte, error)
}

// Operations wires routing and RPC dispatch into the PUT/ADD/GET/REMOVE/
// DIGEST/SEND-DIRECT wrappers of spec §4.6.
type Operations struct {
	Route             RouteFunc
	Client            PeerClient
	ReplicationFactor int
}

// New constructs an Operations handle with the given replication factor
// (spec §6 default 6).
func New(route RouteFunc, client PeerClient, replicationFactor int) *Operations {
	if replicationFactor <= 0 {
		replicationFactor = 6
	}
	return &Operations{Route: route, Client: client, ReplicationFactor: replicationFactor}
}

func (o *Operations) topR(peers []kadid.PeerAddress) []kadid.PeerAddress {
	if len(peers) > o.ReplicationFactor {
		return peers[:o.ReplicationFactor]
	}
	return peers
}

// Put routes to key.Location and writes to the top-R closest peers in
// parallel, returning once a quorum has answered rather than waiting for
// every target (spec §9's FutureLateJoin combinator).
func (o *Operations) Put(ctx context.Context, key kadid.Key640, d *codec.Data, publicKey []byte, putIfAbsent, claimDomain bool) (storage.Result, error) {
	peers, err := o.Route(ctx, key.Location)
	if err != nil {
		return storage.Failed, err
	}
	targets := o.topR(peers)

	handles := make([]*future.Handle[storage.Result], len(targets))
	for i, p := range targets {
		p := p
		h := future.New[storage.Result]()
		handles[i] = h
		go func() {
			res, err := o.Client.Put(ctx, p, key, d, publicKey, putIfAbsent, claimDomain)
			if err != nil {
				h.Fail(err)
				return
			}
			h.Complete(res)
		}()
	}
	results, _ := awaitQuorum(ctx, handles)
	return majorityResult(results), nil
}

// Add is Put with putIfAbsent forced true (spec §4.6 groups ADD alongside
// PUT since they share the same routed-write shape).
func (o *Operations) Add(ctx context.Context, key kadid.Key640, d *codec.Data, publicKey []byte, claimDomain bool) (storage.Result, error) {
	return o.Put(ctx, key, d, publicKey, true, claimDomain)
}

// getResponse is one peer's answer to a GET poll: found reports whether
// the peer actually held the key, distinguishing "responded, absent"
// from "didn't respond" for quorum purposes.
type getResponse struct {
	peerID kadid.ID
	data   *codec.Data
	found  bool
}

// Get routes to key.Location, fans out GET to the top-R peers, and
// evaluates a quorum of the responses by majority vote, rather than
// waiting for every target to answer (spec §9's FutureLateJoin
// combinator).
func (o *Operations) Get(ctx context.Context, key kadid.Key640) (*codec.Data, bool, error) {
	peers, err := o.Route(ctx, key.Location)
	if err != nil {
		return nil, false, err
	}
	targets := o.topR(peers)

	handles := make([]*future.Handle[getResponse], len(targets))
	for i, p := range targets {
		p := p
		h := future.New[getResponse]()
		handles[i] = h
		go func() {
			d, ok, err := o.Client.Get(ctx, p, key)
			if err != nil {
				h.Fail(err)
				return
			}
			h.Complete(getResponse{peerID: p.PeerID, data: d, found: ok})
		}()
	}
	responses, _ := awaitQuorum(ctx, handles)

	raw := make([]RawResult, 0, len(responses))
	for _, r := range responses {
		if !r.found {
			continue
		}
		raw = append(raw, RawResult{PeerID: r.peerID, Values: map[kadid.Key640]*codec.Data{key: r.data}})
	}
	merged := EvaluateVotes(raw)
	d, ok := merged[key]
	return d, ok, nil
}

// Remove routes to key.Location and removes from the top-R peers,
// returning once a quorum has answered (spec §9's FutureLateJoin
// combinator).
func (o *Operations) Remove(ctx context.Context, key kadid.Key640, publicKey []byte) (storage.Result, error) {
	peers, err := o.Route(ctx, key.Location)
	if err != nil {
		return storage.Failed, err
	}
	targets := o.topR(peers)

	handles := make([]*future.Handle[storage.Result], len(targets))
	for i, p := range targets {
		p := p
		h := future.New[storage.Result]()
		handles[i] = h
		go func() {
			res, err := o.Client.Remove(ctx, p, key, publicKey)
			if err != nil {
				h.Fail(err)
				return
			}
			h.Complete(res)
		}()
	}
	results, _ := awaitQuorum(ctx, handles)
	return majorityResult(results), nil
}

// digestResponse is one peer's digest reply, carried through a future.Handle
// so Digest can quorum-join it the same way Put/Get/Remove do.
type digestResponse struct {
	present map[kadid.Key640]struct{}
	hashes  map[kadid.Key640][20]byte
}

// Digest routes to from.Location, fans out DIGEST to the top-R peers, and
// merges a quorum of the per-peer digests by majority key presence, rather
// than waiting for every target to answer (spec §9's FutureLateJoin
// combinator).
func (o *Operations) Digest(ctx context.Context, from, to kadid.Key640) (storage.Digest, error) {
	peers, err := o.Route(ctx, from.Location)
	if err != nil {
		return storage.Digest{}, err
	}
	targets := o.topR(peers)

	handles := make([]*future.Handle[digestResponse], len(targets))
	for i, p := range targets {
		p := p
		h := future.New[digestResponse]()
		handles[i] = h
		go func() {
			dg, err := o.Client.Digest(ctx, p, from, to)
			if err != nil {
				h.Fail(err)
				return
			}
			present := make(map[kadid.Key640]struct{}, len(dg.Hashes))
			for k := range dg.Hashes {
				present[k] = struct{}{}
			}
			h.Complete(digestResponse{present: present, hashes: dg.Hashes})
		}()
	}
	responses, _ := awaitQuorum(ctx, handles)

	raw := make([]map[kadid.Key640]struct{}, 0, len(responses))
	hashByKey := make(map[kadid.Key640][20]byte)
	for _, r := range responses {
		raw = append(raw, r.present)
		for k, h := range r.hashes {
			hashByKey[k] = h
		}
	}

	keys := EvaluateKeySet(raw)
	out := storage.Digest{Hashes: make(map[kadid.Key640][20]byte, len(keys))}
	for k := range keys {
		out.Hashes[k] = hashByKey[k]
	}
	return out, nil
}

// SendDirect routes to target and delivers payload to the top-R closest
// peers, optionally stopping after the first acknowledgment
// (cancelOnFinish, spec §4.6).
func (o *Operations) SendDirect(ctx context.Context, target kadid.ID, payload []byte, cancelOnFinish bool) ([][]byte, error) {
	peers, err := o.Route(ctx, target)
	if err != nil {
		return nil, err
	}
	targets := o.topR(peers)

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]byte, len(targets))
	g, gctx2 := errgroup.WithContext(gctx)
	for i, p := range targets {
		i, p := i, p
		g.Go(func() error {
			resp, err := o.Client.Direct(gctx2, p, payload)
			if err != nil {
				return nil
			}
			results[i] = resp
			if cancelOnFinish {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// quorumThreshold is a simple majority of n targets, at least 1 — the
// successThreshold spec §9's FutureLateJoin combinator is parameterized
// over.
func quorumThreshold(n int) int {
	t := n/2 + 1
	if t < 1 {
		t = 1
	}
	return t
}

// awaitQuorum wraps handles in a future.LateJoin and returns as soon as
// quorumThreshold(len(handles)) of them succeed, instead of waiting for
// every target to respond. A non-nil error only ever comes from ctx
// expiring or too many targets failing for the threshold to be reachable;
// the slice returned with it is nil, so results that had already arrived
// are not passed on and callers that ignore the error see no results.
func awaitQuorum[T any](ctx context.Context, handles []*future.Handle[T]) ([]T, error) {
	lj := future.NewLateJoin(handles, quorumThreshold(len(handles)))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-lj.Handle().Done():
		return lj.Handle().Await()
	}
}

func majorityResult(results []storage.Result) storage.Result {
	if len(results) == 0 {
		return storage.Failed
	}
	counts := make(map[storage.Result]int)
	for _, r := range results {
		counts[r]++
	}
	best := storage.Failed
	bestCount := -1
	for r, c := range counts {
		if c > bestCount {
			best = r
			bestCount = c
		}
	}
	return best
}
