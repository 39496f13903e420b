// Package peer is the arena that wires every other package into a single
// running DHT node: routing table, storage, RPC transport, iterative
// routing, replication, and NAT relaying, plus the control-plane adapter
// the HTTP API dispatches against. Grounded on the teacher's
// cmd/server/main.go wiring and graceful-shutdown shape, generalized from
// one flat HTTP-only process into a process that is also an RPC peer.
package peer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dhtcore/internal/dhtops"
	"dhtcore/internal/kadid"
	"dhtcore/internal/peermap"
	"dhtcore/internal/relay"
	"dhtcore/internal/replication"
	"dhtcore/internal/routing"
	"dhtcore/internal/rpcproto"
	"dhtcore/internal/storage"
)

// Config carries every tunable spec §6 names, defaulted the way the
// teacher's flag block defaults cluster parameters.
type Config struct {
	Self              kadid.PeerAddress
	BagSize           int
	ReplicationFactor int
	Routing           routing.Config
	Storage           storage.Config
	Replication       replication.Config
	MaxPermanentTCP   int
	MaxTCP            int
	MaxUDP            int
	RPCTimeout        time.Duration
	BehindFirewall    bool
	MinRelays         int
}

// DefaultConfig fills in spec §6's documented defaults, overriding only
// the fields the caller must always supply (self address, data dir).
func DefaultConfig(self kadid.PeerAddress, dataDir string) Config {
	return Config{
		Self:              self,
		BagSize:           2,
		ReplicationFactor: 6,
		Routing:           routing.DefaultConfig(),
		Storage: storage.Config{
			Kind:                  storage.WALBackend,
			DataDir:               dataDir,
			StorageIntervalMillis: 60000,
		},
		Replication:     replication.DefaultConfig(),
		MaxPermanentTCP: rpcproto.DefaultMaxPermits,
		MaxTCP:          rpcproto.DefaultMaxPermits,
		MaxUDP:          rpcproto.DefaultMaxPermits,
		RPCTimeout:      10 * time.Second,
		MinRelays:       2,
	}
}

// Peer is one running DHT node: a routing table, a store, an RPC
// transport, and the controllers that keep content replicated and
// reachable.
type Peer struct {
	cfg    Config
	logger zerolog.Logger

	peers     *peermap.Map
	store     *storage.Store
	transport rpcproto.Transport
	permits   *rpcproto.PermitPools
	pending   *rpcproto.PendingRequests
	ops       *dhtops.Operations
	repl      *replication.Controller
	forwarder *relay.Forwarder
	relayCli  *relay.Client

	closed int32
}

// New builds a Peer bound to transport, but does not yet start listening
// or background loops — call Start for that.
func New(cfg Config, transport rpcproto.Transport) (*Peer, error) {
	if cfg.Self.PeerID.IsZero() {
		return nil, fmt.Errorf("peer: self PeerID must be set")
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 6
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("peer: open storage: %w", err)
	}

	p := &Peer{
		cfg:       cfg,
		logger:    log.With().Str("component", "peer").Str("self", cfg.Self.PeerID.String()).Logger(),
		peers:     peermap.New(cfg.Self.PeerID, cfg.BagSize),
		store:     store,
		transport: transport,
		permits:   rpcproto.NewPermitPools(cfg.MaxPermanentTCP, cfg.MaxTCP, cfg.MaxUDP),
		pending:   rpcproto.NewPendingRequests(),
		forwarder: relay.NewForwarder(),
	}
	p.ops = dhtops.New(p.routeToClosest, p, cfg.ReplicationFactor)
	p.repl = replication.New(cfg.Self.PeerID, p.peers, p.store, p, cfg.Replication)
	p.peers.Subscribe(p.repl)

	if cfg.BehindFirewall {
		p.relayCli = relay.NewClient(cfg.Self.PeerID, cfg.MinRelays, p.dialRelay, p.onAdvertisedAddressChanged)
	}

	if err := transport.Listen(cfg.Self.PeerID, p.dispatch); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("peer: listen: %w", err)
	}
	return p, nil
}

// Start launches the periodic replication sweep and TTL-expiry sweep
// goroutines (spec §4.7, §4.2 "storageIntervalMillis"), mirroring the
// teacher's background-ticker goroutines in cmd/server/main.go.
func (p *Peer) Start(ctx context.Context) {
	p.repl.Start(ctx)
	go p.ttlSweepLoop(ctx)
	p.logger.Info().Msg("peer started")
}

func (p *Peer) ttlSweepLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.Storage.StorageIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := p.store.CheckTimeouts()
			if len(expired) > 0 {
				p.logger.Debug().Int("count", len(expired)).Msg("ttl sweep expired entries")
			}
		}
	}
}

// Close stops background loops, closes the transport listener, and
// releases the storage backend.
func (p *Peer) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	p.repl.Stop()
	if err := p.transport.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("transport close error")
	}
	return p.store.Close()
}

// Bootstrap pings each seed: a seed that answers is added to the routing
// table as verified (by Ping), one that does not is added unverified. It
// then runs one routeToClosest(self) pass seeded from the verified entries
// (spec §4.1 "joining the network"); every peer queried in that pass adds
// this node to its own table. When this node is behind a firewall, the
// discovered neighborhood also seeds the initial relay selection (spec
// §4.8 steps 1-2).
func (p *Peer) Bootstrap(ctx context.Context, seeds []kadid.PeerAddress) error {
	for _, seed := range seeds {
		if err := p.Ping(ctx, seed); err != nil {
			p.peers.Add(seed, false)
		}
	}
	discovered, err := routing.RouteToClosest(ctx, p.cfg.Self.PeerID, p.cfg.Routing, p.peers.ClosestPeers, p.neighborsRPC)
	if err != nil {
		return err
	}

	if p.relayCli != nil {
		if relayErr := p.relayCli.EstablishRelays(ctx, p.cfg.Self, discovered.Peers); relayErr != nil {
			p.logger.Warn().Err(relayErr).Msg("relay establishment failed")
		}
	}
	return nil
}

// dialRelay implements relay.SetupFunc: it performs the RELAY-SETUP
// handshake (spec §4.8 step 2) over the same Transport this peer already
// uses for every other RPC, so relay selection works identically whether
// the transport is a real socket or the in-process LoopbackTransport.
func (p *Peer) dialRelay(ctx context.Context, candidate, self kadid.PeerAddress) (relay.Conn, error) {
	resp, err := p.transport.Send(ctx, candidate, rpcproto.Envelope{
		Command:     rpcproto.CmdRelay,
		Type:        rpcproto.TypeRequest,
		Sender:      self,
		RecipientID: candidate.PeerID,
		Payload:     []byte{byte(rpcproto.RelayRegister)},
	})
	if err != nil {
		return nil, err
	}
	if resp.Type == rpcproto.TypeFail {
		return nil, rpcproto.ErrPeerUnreachable
	}
	return registeredRelayConn{}, nil
}

// registeredRelayConn stands in for the long-lived connection a relay
// client holds to its relay; the relay side (not this one) is what
// forwards traffic over it, so Forward here is never called by
// relay.Client itself — only Close, on teardown.
type registeredRelayConn struct{}

func (registeredRelayConn) Forward(ctx context.Context, req rpcproto.Envelope) (rpcproto.Envelope, error) {
	return rpcproto.Envelope{}, rpcproto.ErrProtocolViolation
}

func (registeredRelayConn) Close() error { return nil }

func (p *Peer) onAdvertisedAddressChanged(addr kadid.PeerAddress) {
	p.cfg.Self = addr
	p.logger.Info().Int("relayCount", len(addr.PeerSocketAddrs)).Msg("advertised address updated")
}

