package engine

import (
	"context"
	"sync"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

// Session is the state a guided flow holds across engine calls: the current
// connection record, the platform credentials and the verification states.
// A Session is safe for concurrent use.
type Session struct {
	// mu serializes mutating operations on record.
	mu     ctxMutex
	record *access.ConnectionResult

	credMu      sync.RWMutex
	credentials map[access.Platform]platform.Credentials

	checks *keyedLocks

	stateMu sync.Mutex
	states  map[string]access.VerificationState
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		mu:          newCtxMutex(),
		credentials: map[access.Platform]platform.Credentials{},
		checks:      newKeyedLocks(),
		states:      map[string]access.VerificationState{},
	}
}

// Record returns a copy of the held record.
func (s *Session) Record() (access.ConnectionResult, bool) {
	_ = s.mu.Lock(context.Background())
	defer s.mu.Unlock()
	if s.record == nil {
		return access.ConnectionResult{}, false
	}
	return s.record.Clone(), true
}

// SetCredentials stores the credential for platform p.
func (s *Session) SetCredentials(p access.Platform, c platform.Credentials) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	s.credentials[p] = c
}

// ClearCredentials forgets the credential for platform p.
func (s *Session) ClearCredentials(p access.Platform) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	delete(s.credentials, p)
}

func (s *Session) credentialsFor(p access.Platform) (platform.Credentials, bool) {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	c, ok := s.credentials[p]
	if !ok || c.Empty() {
		return platform.Credentials{}, false
	}
	return c, true
}

// State returns the verification state of (service, entityID). Entities
// never checked are pending.
func (s *Session) State(service, entityID string) access.VerificationState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if st, ok := s.states[access.Key(service, entityID)]; ok {
		return st
	}
	return access.StatePending
}

func (s *Session) setState(key string, st access.VerificationState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.states[key] = st
}

// hold replaces the held record. Callers hold s.mu.
func (s *Session) hold(rec access.ConnectionResult) {
	cp := rec.Clone()
	s.record = &cp
}
