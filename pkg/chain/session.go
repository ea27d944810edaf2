package chain

import (
	"context"
	"fmt"
	"sync"

	"cctp-bridge/pkg/types"
)

// SessionProvider hands out the live signer for a chain at the moment it is needed
type SessionProvider interface {
	// Signer returns the current signer or an error wrapping types.ErrSessionStale
	Signer(ctx context.Context, domain types.Domain) (types.Signer, error)
	// Reconnect tries once to restore the session without user interaction
	Reconnect(ctx context.Context, domain types.Domain) (types.Signer, error)
}

// StaticSessions serves signers backed by local keys. They never go stale
// unless Disconnect is called.
type StaticSessions struct {
	mu      sync.RWMutex
	signers map[types.Domain]types.Signer
	dropped map[types.Domain]bool
}

// NewStaticSessions registers the given signers by domain
func NewStaticSessions(signers ...types.Signer) *StaticSessions {
	s := &StaticSessions{
		signers: make(map[types.Domain]types.Signer),
		dropped: make(map[types.Domain]bool),
	}
	for _, signer := range signers {
		if signer != nil {
			s.signers[signer.Domain()] = signer
		}
	}
	return s
}

// Signer returns the registered signer for domain
func (s *StaticSessions) Signer(ctx context.Context, domain types.Domain) (types.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	signer, ok := s.signers[domain]
	if !ok || s.dropped[domain] {
		return nil, fmt.Errorf("%w: no %s signer connected", types.ErrSessionStale, domain)
	}
	return signer, nil
}

// Reconnect restores a dropped session if a key is still registered
func (s *StaticSessions) Reconnect(ctx context.Context, domain types.Domain) (types.Signer, error) {
	s.mu.Lock()
	delete(s.dropped, domain)
	s.mu.Unlock()
	return s.Signer(ctx, domain)
}

// Disconnect marks the session for domain as stale
func (s *StaticSessions) Disconnect(domain types.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[domain] = true
}
