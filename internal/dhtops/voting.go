// Package dhtops implements the PUT/ADD/GET/REMOVE/DIGEST/SEND-DIRECT
// operation wrappers and their majority-voting result evaluation (spec
// §4.6), grounded on the teacher's Replicator.reconcile
// (internal/cluster/replicator.go), generalized from "newest vector clock
// wins" to "majority of raw results, content-hash tiebreak".
package dhtops

import (
	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
	"dhtcore/internal/storage"
)

// RawResult is one peer's response to a GET/DIGEST fan-out.
type RawResult struct {
	PeerID kadid.ID
	Values map[kadid.Key640]*codec.Data
}

// EvaluateVotes merges raw per-peer results by majority (spec §4.6): a key
// is accepted if it appears in more than half the responses; on ties,
// entries with matching content hashes win over diverging ones. Per
// Key640, a version wins if it is either identical on a majority of peers
// or the only version present.
func EvaluateVotes(raw []RawResult) map[kadid.Key640]*codec.Data {
	type tally struct {
		data  *codec.Data
		votes int
	}
	byKeyByHash := make(map[kadid.Key640]map[[20]byte]*tally)

	for _, r := range raw {
		for key, d := range r.Values {
			hashes, ok := byKeyByHash[key]
			if !ok {
				hashes = make(map[[20]byte]*tally)
				byKeyByHash[key] = hashes
			}
			h := storage.ContentHash(d.Payload)
			t, ok := hashes[h]
			if !ok {
				t = &tally{data: d}
				hashes[h] = t
			}
			t.votes++
		}
	}

	n := len(raw)
	result := make(map[kadid.Key640]*codec.Data)
	for key, hashes := range byKeyByHash {
		var best *tally
		solo := len(hashes) == 1
		for _, t := range hashes {
			if best == nil || t.votes > best.votes {
				best = t
			}
		}
		if solo || best.votes*2 > n {
			result[key] = best.data
		}
	}
	return result
}

// EvaluateKeySet applies the same majority rule to a plain key-presence
// vote (used by DIGEST evaluation, where peers report which keys they
// hold rather than full Data values): a key is accepted if it appears in
// more than half the raw responses.
func EvaluateKeySet(raw []map[kadid.Key640]struct{}) map[kadid.Key640]struct{} {
	counts := make(map[kadid.Key640]int)
	for _, r := range raw {
		for k := range r {
			counts[k]++
		}
	}
	n := len(raw)
	out := make(map[kadid.Key640]struct{})
	for k, c := range counts {
		if c*2 > n {
			out[k] = struct{}{}
		}
	}
	return out
}
