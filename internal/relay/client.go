package relay

import (
	"context"
	"errors"
	"sync"

	"dhtcore/internal/kadid"
)

// ErrInsufficientRelays is returned by EstablishRelays when fewer than
// minRelays candidates could be set up (spec §4.8 "Failure handling").
var ErrInsufficientRelays = errors.New("relay: fewer than minRelays relays available")

// SetupFunc opens a long-lived connection to candidate and registers self
// with it via RELAY-SETUP (spec §4.8 step 2), returning the Conn used to
// both forward traffic and detect connection loss.
type SetupFunc func(ctx context.Context, candidate kadid.PeerAddress, self kadid.PeerAddress) (Conn, error)

type session struct {
	addr kadid.PeerAddress
	conn Conn
}

// Client is the unreachable-peer half of the relay subsystem: it selects
// relays, keeps the advertised PeerAddress in sync with the active relay
// set, and re-selects on failure.
type Client struct {
	selfID    kadid.ID
	minRelays int
	setup     SetupFunc

	mu       sync.Mutex
	active   map[kadid.ID]session
	onChange func(kadid.PeerAddress)
}

// NewClient constructs a Client. minRelays defaults to 1 if non-positive.
func NewClient(selfID kadid.ID, minRelays int, setup SetupFunc, onChange func(kadid.PeerAddress)) *Client {
	if minRelays <= 0 {
		minRelays = 1
	}
	return &Client{
		selfID:    selfID,
		minRelays: minRelays,
		setup:     setup,
		active:    make(map[kadid.ID]session),
		onChange:  onChange,
	}
}

// EstablishRelays implements spec §4.8 step 1-2: select up to MaxRelays
// candidates from the bootstrap neighborhood and register with each. Fails
// with ErrInsufficientRelays if fewer than minRelays succeed.
func (c *Client) EstablishRelays(ctx context.Context, selfAddr kadid.PeerAddress, candidates []kadid.PeerAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cand := range candidates {
		if len(c.active) >= kadid.MaxRelays {
			break
		}
		if _, ok := c.active[cand.PeerID]; ok {
			continue
		}
		conn, err := c.setup(ctx, cand, selfAddr)
		if err != nil {
			continue
		}
		c.active[cand.PeerID] = session{addr: cand, conn: conn}
	}

	if len(c.active) < c.minRelays {
		return ErrInsufficientRelays
	}
	c.notifyLocked(selfAddr)
	return nil
}

// HandleFailure implements spec §4.8 "Failure handling": drops the failed
// relay and attempts to replace it from replacement candidates, then, if
// at least minRelays relays are active, passes the rewritten advertised
// address to onChange. Nothing is sent to other peers.
func (c *Client) HandleFailure(ctx context.Context, selfAddr kadid.PeerAddress, failed kadid.ID, replacements []kadid.PeerAddress) error {
	c.mu.Lock()
	if s, ok := c.active[failed]; ok {
		_ = s.conn.Close()
		delete(c.active, failed)
	}
	c.mu.Unlock()

	return c.EstablishRelays(ctx, selfAddr, replacements)
}

// AdvertisedAddress returns selfAddr rewritten with relayed=true and the
// current relay set, per spec §4.8 step 4.
func (c *Client) AdvertisedAddress(selfAddr kadid.PeerAddress) kadid.PeerAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advertisedLocked(selfAddr)
}

func (c *Client) advertisedLocked(selfAddr kadid.PeerAddress) kadid.PeerAddress {
	out := selfAddr
	out.Flags.Relayed = true
	out.PeerSocketAddrs = make([]kadid.PeerAddress, 0, len(c.active))
	for _, s := range c.active {
		out.PeerSocketAddrs = append(out.PeerSocketAddrs, s.addr)
	}
	return out
}

func (c *Client) notifyLocked(selfAddr kadid.PeerAddress) {
	if c.onChange == nil {
		return
	}
	advertised := c.advertisedLocked(selfAddr)
	c.onChange(advertised)
}

// RelayCount reports how many relays are currently active.
func (c *Client) RelayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
