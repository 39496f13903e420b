package rpcproto

import (
	"sync"

	"github.com/google/uuid"

	"dhtcore/internal/future"
)

// PendingRequests correlates in-flight requests with their completion
// handles. The in-memory key is a uuid (cheap, collision-free); the wire
// messageID stays the spec's 4-byte field, derived by truncating the uuid.
type PendingRequests struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*future.Handle[Envelope]
}

// NewPendingRequests constructs an empty correlation table.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{pending: make(map[uuid.UUID]*future.Handle[Envelope])}
}

// Register creates a new completion handle and wire message ID for an
// outbound request.
func (p *PendingRequests) Register() (id uuid.UUID, wireID uint32, handle *future.Handle[Envelope]) {
	id = uuid.New()
	h := future.New[Envelope]()
	p.mu.Lock()
	p.pending[id] = h
	p.mu.Unlock()
	return id, wireMessageID(id), h
}

// Resolve completes the handle registered under id with resp, if still
// pending.
func (p *PendingRequests) Resolve(id uuid.UUID, resp Envelope) {
	p.mu.Lock()
	h, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if ok {
		h.Complete(resp)
	}
}

// Fail fails the handle registered under id, if still pending.
func (p *PendingRequests) Fail(id uuid.UUID, err error) {
	p.mu.Lock()
	h, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if ok {
		h.Fail(err)
	}
}

// FailAll fails every still-pending request with the given cause, used on
// shutdown (spec §5: "Outstanding futures held by shutdown-triggered
// operations are completed with a... failure sentinel").
func (p *PendingRequests) FailAll(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uuid.UUID]*future.Handle[Envelope])
	p.mu.Unlock()
	for _, h := range pending {
		h.Fail(err)
	}
}

func wireMessageID(id uuid.UUID) uint32 {
	return uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
}
