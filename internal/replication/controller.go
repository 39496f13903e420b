// Package replication implements the Replication Controller (spec §4.7):
// it listens for peer-map topology changes and storage responsibility
// events, and periodically sweeps locally-held content to keep it
// replicated across the closest-R peers. Grounded on godkv's
// Replicator.ReplicateWrite/readRepair fan-out shape
// (internal/cluster/replicator.go), generalized from a fixed N/W/R HTTP
// quorum to Kademlia closest-peer responsibility tracking.
package replication

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

// Mode resolves the ambiguity in the delayed otherResponsible path
// (spec.md §9): when a delayed send eventually fires, does it re-check
// responsibility or send unconditionally? Both are implemented; the
// default is SendIfStillResponsible.
type Mode int

const (
	// SendIfStillResponsible re-checks, at fire time, whether other is
	// closer to locationKey than self by XOR distance before sending. This
	// is the default. The check compares IDs only and does not consult the
	// peer map, so a peer that left during the jitter window is still sent to.
	SendIfStillResponsible Mode = iota
	// SendUnconditional sends regardless of current responsibility,
	// matching a literal "fire and forget" reading of the delayed path.
	SendUnconditional
)

// PeerSender delivers one stored entry directly to a known peer, bypassing
// routing (the controller already knows which peer to target).
type PeerSender interface {
	SendPut(ctx context.Context, peer kadid.PeerAddress, key kadid.Key640, d *codec.Data) error
}

// Store is the subset of *storage.Store the controller needs.
type Store interface {
	GetRange(from, to kadid.Key640) (map[kadid.Key640]*codec.Data, error)
	FindContentForResponsiblePeer(peerID kadid.ID) []kadid.ID
}

// PeerMap is the subset of *peermap.Map the controller needs.
type PeerMap interface {
	ClosestPeers(target kadid.ID, k int) []kadid.PeerAddress
}

// Config carries the replication parameters from spec §6.
type Config struct {
	ReplicationFactor func() int // default returns 6; adapts to network size
	IntervalMillis    int        // default 60000
	DelayMillis       int        // default 30000
	Mode              Mode
}

// DefaultConfig returns the spec-default replication parameters.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor: func() int { return 6 },
		IntervalMillis:    60000,
		DelayMillis:       30000,
		Mode:              SendIfStillResponsible,
	}
}

// Controller is the Replication Controller of spec §4.7.
type Controller struct {
	selfID kadid.ID
	peers  PeerMap
	store  Store
	sender PeerSender
	cfg    Config

	mu      sync.Mutex
	rng     *rand.Rand
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Controller. cfg zero-value fields are filled with spec
// defaults.
func New(selfID kadid.ID, peers PeerMap, store Store, sender PeerSender, cfg Config) *Controller {
	if cfg.ReplicationFactor == nil {
		cfg.ReplicationFactor = func() int { return 6 }
	}
	if cfg.IntervalMillis <= 0 {
		cfg.IntervalMillis = 60000
	}
	if cfg.DelayMillis <= 0 {
		cfg.DelayMillis = 30000
	}
	return &Controller{
		selfID: selfID,
		peers:  peers,
		store:  store,
		sender: sender,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine (spec §4.7 "Periodic
// sweep"). Cancel ctx or call Stop to end it.
func (c *Controller) Start(ctx context.Context) {
	go c.sweepLoop(ctx)
}

// Stop ends the sweep loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
}

func (c *Controller) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.IntervalMillis) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep implements spec §4.7's periodic sweep: for every location key this
// peer holds content for, push to the current closest R-1 peers.
func (c *Controller) Sweep(ctx context.Context) {
	for _, locationKey := range c.store.FindContentForResponsiblePeer(c.selfID) {
		c.MeResponsible(ctx, locationKey)
	}
}

// MeResponsible re-sends copies held under locationKey to the current
// closest R-1 peers, excluding self (spec §4.7).
func (c *Controller) MeResponsible(ctx context.Context, locationKey kadid.ID) {
	r := c.cfg.ReplicationFactor()
	targets := c.excludeSelf(c.peers.ClosestPeers(locationKey, r))
	if len(targets) > r-1 {
		targets = targets[:r-1]
	}
	for _, peer := range targets {
		c.sendLocationTo(ctx, locationKey, peer)
	}
}

// OtherResponsible sends copies held under locationKey directly to other,
// which has become closer to locationKey than self (spec §4.7). If
// delayed, the send is scheduled after a random 0..delayMillis jitter.
func (c *Controller) OtherResponsible(ctx context.Context, locationKey kadid.ID, other kadid.PeerAddress, delayed bool) {
	if delayed {
		c.scheduleDelayed(locationKey, other)
		return
	}
	c.sendLocationTo(ctx, locationKey, other)
}

func (c *Controller) scheduleDelayed(locationKey kadid.ID, other kadid.PeerAddress) {
	c.mu.Lock()
	jitter := time.Duration(c.rng.Intn(c.cfg.DelayMillis)) * time.Millisecond
	c.mu.Unlock()

	time.AfterFunc(jitter, func() {
		ctx := context.Background()
		switch c.cfg.Mode {
		case SendUnconditional:
			c.sendLocationTo(ctx, locationKey, other)
		default:
			if c.isCloserThanSelf(other.PeerID, locationKey) {
				c.sendLocationTo(ctx, locationKey, other)
			}
		}
	})
}

func (c *Controller) isCloserThanSelf(candidate kadid.ID, locationKey kadid.ID) bool {
	return kadid.DistanceLess(locationKey, candidate, c.selfID)
}

func (c *Controller) sendLocationTo(ctx context.Context, locationKey kadid.ID, peer kadid.PeerAddress) {
	from := kadid.Key640{Location: locationKey}
	to := kadid.Key640{Location: locationKey, Domain: kadid.Max, Content: kadid.Max, Version: kadid.Max}
	entries, err := c.store.GetRange(from, to)
	if err != nil {
		return
	}
	for key, d := range entries {
		_ = c.sender.SendPut(ctx, peer, key, d)
	}
}

func (c *Controller) excludeSelf(peers []kadid.PeerAddress) []kadid.PeerAddress {
	out := make([]kadid.PeerAddress, 0, len(peers))
	for _, p := range peers {
		if p.PeerID != c.selfID {
			out = append(out, p)
		}
	}
	return out
}
