package checkout

import (
	"context"
	"sync"
	"time"
)

// sessionIdleTTL is how long an unused session stays cached in memory. The
// persisted record outlives it, so an evicted buyer resumes where they were.
const sessionIdleTTL = 30 * time.Minute

type sessionEntry struct {
	o        *Orchestrator
	lastUsed time.Time
}

// Sessions caches one Orchestrator per buyer on this instance.
type Sessions struct {
	mu        sync.Mutex
	deps      Deps
	now       func() time.Time
	idle      time.Duration
	lastSweep time.Time
	sessions  map[string]*sessionEntry
}

// NewSessions returns a registry whose orchestrators share deps.
func NewSessions(deps Deps) *Sessions {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Sessions{deps: deps, now: now, idle: sessionIdleTTL, sessions: map[string]*sessionEntry{}}
}

// For returns the buyer's orchestrator, creating it on first use, and loads
// any progress another instance has persisted for the buyer.
func (s *Sessions) For(ctx context.Context, userID string) *Orchestrator {
	s.mu.Lock()
	now := s.now()
	s.evictLocked(now)
	e, ok := s.sessions[userID]
	if !ok {
		e = &sessionEntry{o: New(userID, s.deps)}
		s.sessions[userID] = e
	}
	e.lastUsed = now
	s.mu.Unlock()

	e.o.Refresh(ctx)
	return e.o
}

// Lookup returns the buyer's cached orchestrator if one exists.
func (s *Sessions) Lookup(userID string) (*Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return e.o, true
}

// evictLocked forgets sessions idle for longer than the TTL. A session
// awaiting payment stays until it settles, since its timer and widget
// callbacks still point at it.
func (s *Sessions) evictLocked(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) < s.idle || e.o.Step() == StepAwaitingPayment {
			continue
		}
		delete(s.sessions, id)
	}
}
