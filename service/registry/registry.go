// Package registry classifies Solana program IDs against a reputation
// registry. Lookups are read-only on the hot path; the registry is
// updated out of band by threat-intel refreshes.
package registry

import (
	"sync"
)

// Reputation is the classification of a program ID.
type Reputation string

const (
	ReputationVerified    Reputation = "verified"
	ReputationBlacklisted Reputation = "blacklisted"
	ReputationUnknown     Reputation = "unknown"
)

// Well-known verified Solana programs. These ship with the binary;
// further entries come from configuration or threat-intel updates.
var wellKnownVerified = []string{
	"11111111111111111111111111111112",             // System Program
	"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",  // SPL Token
	"TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb",  // Token-2022
	"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL", // Associated Token
	"MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr",  // SPL Memo
	"So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo",  // Solend
	"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", // Serum DEX
}

// ProgramRegistry holds verified and blacklisted program sets. All
// methods are safe for concurrent use; Classify takes only a read
// lock.
type ProgramRegistry struct {
	mu          sync.RWMutex
	verified    map[string]struct{}
	blacklisted map[string]struct{}
}

// New creates a registry seeded with the well-known verified programs.
func New() *ProgramRegistry {
	r := &ProgramRegistry{
		verified:    make(map[string]struct{}, len(wellKnownVerified)),
		blacklisted: make(map[string]struct{}),
	}
	for _, id := range wellKnownVerified {
		r.verified[id] = struct{}{}
	}
	return r
}

// Classify returns the reputation of a program ID. Blacklist entries
// win over verified entries.
func (r *ProgramRegistry) Classify(programID string) Reputation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.blacklisted[programID]; ok {
		return ReputationBlacklisted
	}
	if _, ok := r.verified[programID]; ok {
		return ReputationVerified
	}
	return ReputationUnknown
}

// AddVerified marks program IDs as verified.
func (r *ProgramRegistry) AddVerified(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			r.verified[id] = struct{}{}
		}
	}
}

// AddBlacklisted marks program IDs as known malicious.
func (r *ProgramRegistry) AddBlacklisted(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			r.blacklisted[id] = struct{}{}
		}
	}
}

// ReplaceBlacklist swaps the blacklist wholesale, used when a
// threat-intel refresh provides the authoritative set.
func (r *ProgramRegistry) ReplaceBlacklist(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.blacklisted = next
	r.mu.Unlock()
}

// Counts reports the registry sizes.
func (r *ProgramRegistry) Counts() (verified, blacklisted int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.verified), len(r.blacklisted)
}
