package rpcproto

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// PermitPools bounds concurrent channel reservations across the three
// kinds named in spec §5/§6 (default 250 each), backed by
// golang.org/x/sync/semaphore weighted semaphores.
type PermitPools struct {
	permanentTCP *semaphore.Weighted
	tcp          *semaphore.Weighted
	udp          *semaphore.Weighted
}

// DefaultMaxPermits is the per-pool default cap (spec §6).
const DefaultMaxPermits = 250

// NewPermitPools builds the three pools with the given caps; zero values
// fall back to DefaultMaxPermits.
func NewPermitPools(maxPermanentTCP, maxTCP, maxUDP int) *PermitPools {
	if maxPermanentTCP <= 0 {
		maxPermanentTCP = DefaultMaxPermits
	}
	if maxTCP <= 0 {
		maxTCP = DefaultMaxPermits
	}
	if maxUDP <= 0 {
		maxUDP = DefaultMaxPermits
	}
	return &PermitPools{
		permanentTCP: semaphore.NewWeighted(int64(maxPermanentTCP)),
		tcp:          semaphore.NewWeighted(int64(maxTCP)),
		udp:          semaphore.NewWeighted(int64(maxUDP)),
	}
}

func (p *PermitPools) pool(kind ChannelKind) *semaphore.Weighted {
	switch kind {
	case ChannelPermanentTCP:
		return p.permanentTCP
	case ChannelUDP:
		return p.udp
	default:
		return p.tcp
	}
}

// Acquire reserves one permit of the given kind, returning
// ErrChannelReservationFailed if ctx is done first (spec §7: "no permit
// available. Not retried; surfaced.").
func (p *PermitPools) Acquire(ctx context.Context, kind ChannelKind) (release func(), err error) {
	pool := p.pool(kind)
	if err := pool.Acquire(ctx, 1); err != nil {
		return nil, ErrChannelReservationFailed
	}
	return func() { pool.Release(1) }, nil
}

// TryAcquire attempts a non-blocking reservation, for callers that want to
// fail fast rather than wait.
func (p *PermitPools) TryAcquire(kind ChannelKind) (release func(), ok bool) {
	pool := p.pool(kind)
	if !pool.TryAcquire(1) {
		return nil, false
	}
	return func() { pool.Release(1) }, true
}
