// Package routing implements the α-parallel iterative closest-node search
// (spec §4.5), grounded on the fan-out-with-waitgroup shape in
// go-libp2p-kad-dht's PutValue/GetClosestPeers and the teacher's
// channel-based replicator fan-out, generalized from a fixed quorum wait
// to multi-round candidate-set convergence.
package routing

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"dhtcore/internal/kadid"
)

// Config carries the iterative-routing parameters from spec §4.5/§6.
type Config struct {
	Alpha        int // parallelism, default 3
	K            int // result size, default 20
	MaxFailures  int
	MaxNoNewInfo int
}

// DefaultConfig returns the spec-default routing parameters.
func DefaultConfig() Config {
	return Config{Alpha: 3, K: 20, MaxFailures: 20, MaxNoNewInfo: 3}
}

// NeighborsFunc issues a NEIGHBORS RPC against one candidate peer and
// returns the peers it reports closest to target.
type NeighborsFunc func(ctx context.Context, peer kadid.PeerAddress, target kadid.ID) ([]kadid.PeerAddress, error)

// LocalClosestFunc seeds the candidate set from the local peer map.
type LocalClosestFunc func(target kadid.ID, k int) []kadid.PeerAddress

// Result is the outcome of routeToClosest: the ordered set of peers
// observed closest to the target.
type Result struct {
	Peers []kadid.PeerAddress
}

type candidateState struct {
	addr    kadid.PeerAddress
	queried bool
	failed  bool
}

// RouteToClosest implements spec §4.5's algorithm: seed from the local map,
// repeatedly query the α closest unqueried candidates in parallel, merge
// results, and terminate on one of three conditions.
func RouteToClosest(ctx context.Context, target kadid.ID, cfg Config, localClosest LocalClosestFunc, neighbors NeighborsFunc) (Result, error) {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 3
	}
	if cfg.K <= 0 {
		cfg.K = 20
	}

	var mu sync.Mutex
	candidates := make(map[kadid.ID]*candidateState)
	addCandidate := func(addr kadid.PeerAddress) {
		if _, ok := candidates[addr.PeerID]; ok {
			return
		}
		candidates[addr.PeerID] = &candidateState{addr: addr}
	}

	for _, p := range localClosest(target, cfg.K) {
		addCandidate(p)
	}

	failures := 0
	noNewInfoRounds := 0

	for {
		mu.Lock()
		sorted := sortedCandidates(candidates, target)
		unqueried := make([]*candidateState, 0, cfg.Alpha)
		for _, c := range sorted {
			if !c.queried && !c.failed {
				unqueried = append(unqueried, c)
				if len(unqueried) == cfg.Alpha {
					break
				}
			}
		}
		kClosestQueried := allQueried(sorted, cfg.K)
		mu.Unlock()

		if kClosestQueried || len(unqueried) == 0 || noNewInfoRounds >= cfg.MaxNoNewInfo || failures >= cfg.MaxFailures {
			break
		}

		prevClosest := closestDistance(sorted, target, cfg.K)

		g, gctx := errgroup.WithContext(ctx)
		var roundMu sync.Mutex
		newPeerFound := false

		for _, c := range unqueried {
			c := c
			mu.Lock()
			c.queried = true
			mu.Unlock()
			g.Go(func() error {
				peers, err := neighbors(gctx, c.addr, target)
				roundMu.Lock()
				defer roundMu.Unlock()
				if err != nil {
					mu.Lock()
					c.failed = true
					mu.Unlock()
					failures++
					return nil
				}
				mu.Lock()
				for _, p := range peers {
					if _, ok := candidates[p.PeerID]; !ok {
						newPeerFound = true
					}
					addCandidate(p)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		mu.Lock()
		newSorted := sortedCandidates(candidates, target)
		newClosest := closestDistance(newSorted, target, cfg.K)
		mu.Unlock()

		if !newPeerFound || !newClosest.Less(prevClosest) {
			noNewInfoRounds++
		} else {
			noNewInfoRounds = 0
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
	}

	mu.Lock()
	final := sortedCandidates(candidates, target)
	mu.Unlock()

	out := make([]kadid.PeerAddress, 0, cfg.K)
	for i, c := range final {
		if i >= cfg.K {
			break
		}
		out = append(out, c.addr)
	}
	return Result{Peers: out}, nil
}

func sortedCandidates(candidates map[kadid.ID]*candidateState, target kadid.ID) []*candidateState {
	out := make([]*candidateState, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return kadid.DistanceLess(target, out[i].addr.PeerID, out[j].addr.PeerID)
	})
	return out
}

func allQueried(sorted []*candidateState, k int) bool {
	n := k
	if n > len(sorted) {
		n = len(sorted)
	}
	for i := 0; i < n; i++ {
		if !sorted[i].queried || sorted[i].failed {
			return false
		}
	}
	return n > 0
}

// closestDistance returns the XOR distance of the closest candidate that
// has not failed (k is not used), used to detect "no closer peer found this
// round" for the maxNoNewInfo termination condition.
func closestDistance(sorted []*candidateState, target kadid.ID, k int) kadid.ID {
	for _, c := range sorted {
		if !c.failed {
			return target.Xor(c.addr.PeerID)
		}
	}
	return kadid.Max
}
