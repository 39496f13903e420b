package storage

import (
	"crypto/sha1" //nolint:gosec // spec names SHA-1 explicitly for the master-key domain override
	"sync"

	"dhtcore/internal/kadid"
)

// ProtectionMode is one of the two orthogonal switches from spec §4.2:
// ALL lets anyone claim protection; NONE requires an identity-proving key.
type ProtectionMode int

const (
	ProtectAll ProtectionMode = iota
	ProtectNone
)

// protectionState tracks domain ownership claims, the explicit
// removed-domains set, and per-entry public keys.
type protectionState struct {
	mu             sync.RWMutex
	domainMode     ProtectionMode
	entryMode      ProtectionMode
	domainOwner    map[kadid.Key320][]byte // location+domain -> owning public key
	removedDomains map[kadid.Key320]struct{}
	entryOwner     map[kadid.Key480][]byte
}

func newProtectionState(domainMode, entryMode ProtectionMode) *protectionState {
	return &protectionState{
		domainMode:     domainMode,
		entryMode:      entryMode,
		domainOwner:    make(map[kadid.Key320][]byte),
		removedDomains: make(map[kadid.Key320]struct{}),
		entryOwner:     make(map[kadid.Key480][]byte),
	}
}

// provesMaster checks the master-key override: SHA(publicKey) == domainKey.
func provesMaster(domain kadid.ID, publicKey []byte) bool {
	sum := sha1.Sum(publicKey) //nolint:gosec
	return kadid.ID(sum) == domain
}

// checkDomainWrite enforces domain protection for a write under
// claimDomain semantics. It returns FailedSecurity when the write must be
// rejected and OK otherwise.
func (p *protectionState) checkDomainWrite(key320 kadid.Key320, publicKey []byte, claimDomain bool) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, removed := p.removedDomains[key320]; removed {
		return OK
	}

	owner, claimed := p.domainOwner[key320]
	if !claimed {
		if !claimDomain {
			return OK
		}
		// Under ProtectNone only a writer who can prove ownership of the
		// domain ID itself (master-key identity) may establish a claim at
		// all; ProtectAll lets any writer claim the domain outright.
		if p.domainMode == ProtectNone && !provesMaster(key320.Domain, publicKey) {
			return FailedSecurity
		}
		if len(publicKey) > 0 {
			p.domainOwner[key320] = publicKey
		}
		return OK
	}

	if bytesEqual(owner, publicKey) {
		return OK
	}
	if provesMaster(key320.Domain, publicKey) {
		return OK
	}
	return FailedSecurity
}

// checkEntryWrite enforces entry protection for an existing Key480.
func (p *protectionState) checkEntryWrite(key480 kadid.Key480, publicKey []byte) Result {
	p.mu.RLock()
	owner, protected := p.entryOwner[key480]
	p.mu.RUnlock()
	if !protected {
		return OK
	}
	if bytesEqual(owner, publicKey) {
		return OK
	}
	if provesMaster(key480.Content, publicKey) {
		return OK
	}
	return FailedSecurity
}

// setEntryOwner records protectedEntry ownership on a successful write.
// Under ProtectNone only a writer who can prove ownership of the content
// ID may establish entry protection; ProtectAll lets any writer claim it.
func (p *protectionState) setEntryOwner(key480 kadid.Key480, publicKey []byte, protected bool) bool {
	if !protected {
		return true
	}
	if len(publicKey) == 0 {
		return false
	}
	if p.entryMode == ProtectNone && !provesMaster(key480.Content, publicKey) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entryOwner[key480] = publicKey
	return true
}

// RemoveDomain makes a domain permanently unprotectable and globally
// writable, per spec §4.2.
func (p *protectionState) RemoveDomain(key320 kadid.Key320) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removedDomains[key320] = struct{}{}
	delete(p.domainOwner, key320)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
