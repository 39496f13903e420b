// cmd/nodeserver is the process entrypoint for a DHT node.
//
// Configuration is entirely via flags, mirroring the teacher's
// single-binary-serves-any-role shape.
//
// Example — one node, control plane on :8080:
//
//	./nodeserver --id node1 --addr :8080 --data-dir /var/dhtcore/node1
//
// Per spec.md §1, raw UDP/TCP socket multiplexing is an external
// collaborator this repo does not implement (internal/rpcproto ships only
// LoopbackTransport). --simulate runs a small multi-node network inside
// this one process instead, each node bound to its own loopback peer
// address and its own control-plane HTTP port:
//
//	./nodeserver --simulate 5 --addr :8080 --data-dir /tmp/dhtcore-sim
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dhtcore/internal/control"
	"dhtcore/internal/kadid"
	"dhtcore/internal/peer"
	"dhtcore/internal/rpcproto"
)

func main() {
	nodeID := flag.String("id", "node1", "node label, hashed into a 160-bit peer ID")
	addr := flag.String("addr", ":8080", "control-plane HTTP listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/dhtcore", "directory for the storage backend")
	bagSize := flag.Int("bag-size", 2, "routing table k-bucket replacement bag size")
	replicationFactor := flag.Int("replication-factor", 6, "number of closest peers that replicate each key")
	minRelays := flag.Int("min-relays", 2, "minimum relays to hold when behind a firewall")
	behindFirewall := flag.Bool("behind-firewall", false, "advertise this node through relays instead of directly")
	simulate := flag.Int("simulate", 0, "run N in-process nodes over a shared loopback network instead of one")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if *simulate > 1 {
		runSimulation(*simulate, *addr, *dataDir, *bagSize, *replicationFactor)
		return
	}

	host, port, err := splitHostPort(*addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("invalid --addr")
	}

	self := kadid.PeerAddress{
		PeerID:  kadid.HashID([]byte(*nodeID)),
		IP:      host,
		TCPPort: uint16(port),
		UDPPort: uint16(port),
	}

	registry := rpcproto.NewLoopbackNetwork()
	transport := registry.Join(self)

	cfg := peer.DefaultConfig(self, joinPath(*dataDir, *nodeID))
	cfg.BagSize = *bagSize
	cfg.ReplicationFactor = *replicationFactor
	cfg.BehindFirewall = *behindFirewall
	cfg.MinRelays = *minRelays

	p, err := peer.New(cfg, transport)
	if err != nil {
		log.Fatal().Err(err).Msg("build peer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	runHTTPServer(ctx, *addr, p, fmt.Sprintf("node %s (%s)", *nodeID, self.PeerID))
}

// runSimulation builds n peers sharing one LoopbackRegistry, bootstraps
// every node after the first against node 0, and serves each over its own
// control-plane port starting at addr's port, the way spec.md's §1
// "simulate a local, in-process cluster" carve-out is meant to be driven.
func runSimulation(n int, addr, dataDir string, bagSize, replicationFactor int) {
	host, basePort, err := splitHostPort(addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("invalid --addr")
	}

	registry := rpcproto.NewLoopbackNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type node struct {
		p    *peer.Peer
		addr kadid.PeerAddress
	}
	nodes := make([]node, 0, n)

	for i := 0; i < n; i++ {
		label := fmt.Sprintf("sim-node-%d", i)
		self := kadid.PeerAddress{
			PeerID:  kadid.HashID([]byte(label)),
			IP:      host,
			TCPPort: uint16(basePort + i),
			UDPPort: uint16(basePort + i),
		}
		transport := registry.Join(self)

		cfg := peer.DefaultConfig(self, joinPath(dataDir, label))
		cfg.BagSize = bagSize
		cfg.ReplicationFactor = replicationFactor

		p, err := peer.New(cfg, transport)
		if err != nil {
			log.Fatal().Err(err).Str("node", label).Msg("build peer")
		}
		p.Start(ctx)
		nodes = append(nodes, node{p: p, addr: self})
	}

	for i, nd := range nodes {
		if i == 0 {
			continue
		}
		if err := nd.p.Bootstrap(ctx, []kadid.PeerAddress{nodes[0].addr}); err != nil {
			log.Warn().Err(err).Int("node", i).Msg("bootstrap failed")
		}
	}

	servers := make([]*http.Server, 0, n)
	for i, nd := range nodes {
		listenAddr := fmt.Sprintf("%s:%d", host, basePort+i)
		srv := &http.Server{
			Addr:         listenAddr,
			Handler:      control.NewRouter(nd.p),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		go func(srv *http.Server, label string) {
			log.Info().Str("node", label).Str("addr", srv.Addr).Msg("simulated node listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Str("node", label).Msg("server error")
			}
		}(srv, fmt.Sprintf("sim-node-%d", i))
	}

	waitForSignal()
	log.Info().Msg("shutting down simulation")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	for i, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Int("node", i).Msg("http shutdown error")
		}
	}
	cancel()
	for i, nd := range nodes {
		if err := nd.p.Close(); err != nil {
			log.Warn().Err(err).Int("node", i).Msg("peer close error")
		}
	}
}

func runHTTPServer(ctx context.Context, addr string, p *peer.Peer, label string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      control.NewRouter(p),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg(label + " listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutting down " + label)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := p.Close(); err != nil {
		log.Warn().Err(err).Msg("peer close error")
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func splitHostPort(addr string) (net.IP, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.ParseIP("127.0.0.1")
	}
	return ip, port, nil
}

func joinPath(dataDir, label string) string {
	return dataDir + string(os.PathSeparator) + label
}
